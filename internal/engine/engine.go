package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// Transcriber is the capability the pipeline stages and the legacy task queue
// depend on. The production implementation is Engine; tests substitute fakes.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// Model variants supported by whisper.cpp, smallest to largest.
const (
	ModelTiny   = "tiny"
	ModelBase   = "base"
	ModelSmall  = "small"
	ModelMedium = "medium"
	ModelLarge  = "large"
)

// InputError marks a recording the engine rejected. Redelivering such a job
// would fail forever, so the stage drops it instead of requeueing.
type InputError struct {
	Path string
	Err  error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("engine rejected input %s: %v", e.Path, e.Err)
}

func (e *InputError) Unwrap() error {
	return e.Err
}

// IsInputError reports whether err is a permanent input rejection.
func IsInputError(err error) bool {
	var ie *InputError
	return errors.As(err, &ie)
}

type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

type execRunner struct{}

func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}

	return result, nil
}

// Engine invokes whisper.cpp against local audio files. One Engine exists per
// process; inference is CPU/GPU-bound and whisper.cpp is not reentrant, so a
// mutex serializes invocations. Callers queue behind it without blocking the
// broker consumer loop.
type Engine struct {
	binPath   string
	modelPath string
	runner    commandRunner

	mu sync.Mutex

	readFile func(name string) ([]byte, error)
	remove   func(name string) error
}

// New resolves the model file for the selected variant and verifies it is
// present on disk. The model is resolved once at startup, never per job.
func New(binPath, modelDir, variant string) (*Engine, error) {
	modelPath := filepath.Join(modelDir, modelFileName(variant))
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model %s not available: %w", modelPath, err)
	}
	return &Engine{
		binPath:   binPath,
		modelPath: modelPath,
		runner:    &execRunner{},
		readFile:  os.ReadFile,
		remove:    os.Remove,
	}, nil
}

// Transcribe runs the model against one audio file and returns the transcript
// text. Blocks until any in-flight inference finishes.
func (e *Engine) Transcribe(ctx context.Context, audioPath string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	textBase := strings.TrimSuffix(audioPath, filepath.Ext(audioPath))
	textPath := textBase + ".txt"
	defer func() {
		_ = e.remove(textPath)
	}()

	args := buildArgs(e.modelPath, audioPath, textBase)
	result, err := e.runner.Run(ctx, e.binPath, args...)
	if err != nil {
		if result.ExitCode > 0 {
			return "", &InputError{Path: audioPath, Err: err}
		}
		return "", fmt.Errorf("whisper invocation failed: %w", err)
	}

	content, err := e.readFile(textPath)
	if err != nil {
		return "", fmt.Errorf("transcript file missing after inference: %w", err)
	}
	return strings.TrimSpace(string(content)), nil
}

// buildArgs builds whisper.cpp args for txt transcript export.
func buildArgs(modelPath, audioPath, textBase string) []string {
	return []string{
		"-m", modelPath,
		"-f", audioPath,
		"-of", textBase,
		"-otxt",
	}
}

// modelFileName maps a variant to its ggml file name, defaulting to base for
// unknown variants.
func modelFileName(variant string) string {
	switch variant {
	case ModelTiny, ModelBase, ModelSmall, ModelMedium, ModelLarge:
		return "ggml-" + variant + ".bin"
	default:
		return "ggml-" + ModelBase + ".bin"
	}
}
