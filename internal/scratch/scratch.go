package scratch

import (
	"fmt"
	"os"
	"path/filepath"
)

// Workspace is the process-local directory that holds recordings while a job
// is between retrieval and transcription. Every job owns exactly one uniquely
// named file in it; the transcription stage removes that file once the job
// reaches a terminal disposition.
type Workspace struct {
	dir string
}

func New(dir string) (*Workspace, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create scratch dir %s: %w", dir, err)
	}
	return &Workspace{dir: dir}, nil
}

func (w *Workspace) Dir() string {
	return w.dir
}

// PathFor derives the scratch location for one job attempt. The job id prefix
// keeps two jobs for the same object key from clobbering each other.
func (w *Workspace) PathFor(jobID, objectKey string) string {
	return filepath.Join(w.dir, jobID+"_"+filepath.Base(objectKey))
}

// Remove deletes one scratch file. A file that is already gone is not an
// error: cleanup runs on every exit path and must be safe to repeat.
func (w *Workspace) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove scratch file %s: %w", path, err)
	}
	return nil
}
