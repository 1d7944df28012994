package stages

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gnom48/miabox-api/internal/logger"
	"github.com/gnom48/miabox-api/internal/objectstore"
	"github.com/gnom48/miabox-api/internal/scratch"
	"github.com/gnom48/miabox-api/internal/types"
)

// Publisher is the slice of the broker client the stages publish forward
// through.
type Publisher interface {
	Publish(ctx context.Context, queue string, body []byte) error
}

// Retrieval materializes the referenced recording into the scratch workspace
// and hands the job to the transcription stage.
type Retrieval struct {
	store     objectstore.Downloader
	workspace *scratch.Workspace
	pub       Publisher
	log       *logger.Logger
}

func NewRetrieval(store objectstore.Downloader, workspace *scratch.Workspace, pub Publisher, log *logger.Logger) *Retrieval {
	return &Retrieval{store: store, workspace: workspace, pub: pub, log: log}
}

func (s *Retrieval) Handle(ctx context.Context, body []byte, deliveryCount int) Disposition {
	var msg types.QueuedMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		s.log.WithError(err).Error("dropping malformed queued message")
		return AckDrop
	}
	log := s.log.WithJob(msg.JobID, msg.CallID)

	path := s.workspace.PathFor(msg.JobID, msg.Key)
	if err := s.store.DownloadToFile(ctx, msg.Bucket, msg.Key, path); err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			log.WithError(err).Error("recording missing from object store, dropping job")
			return AckDrop
		}
		log.WithError(err).Warn("retrieval failed, requeueing")
		return NackRequeue
	}

	next := types.ProcessingMessage{
		JobID:       msg.JobID,
		CallID:      msg.CallID,
		ScratchPath: path,
	}
	nextBody, err := json.Marshal(next)
	if err != nil {
		// Cannot happen for this struct; keep the invariant anyway.
		_ = s.workspace.Remove(path)
		log.WithError(err).Error("failed to marshal processing message")
		return AckDrop
	}
	if err := s.pub.Publish(ctx, types.QueueProcessing, nextBody); err != nil {
		// The job will be retried from the top, so do not leak this attempt's
		// scratch file.
		_ = s.workspace.Remove(path)
		log.WithError(err).Warn("failed to publish processing message, requeueing")
		return NackRequeue
	}

	log.WithField("scratch_path", path).Info("recording retrieved")
	return Ack
}
