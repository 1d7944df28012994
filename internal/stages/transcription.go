package stages

import (
	"context"
	"encoding/json"
	"os"

	"github.com/gnom48/miabox-api/internal/engine"
	"github.com/gnom48/miabox-api/internal/logger"
	"github.com/gnom48/miabox-api/internal/scratch"
	"github.com/gnom48/miabox-api/internal/types"
)

// Transcription runs the speech-to-text engine against scratch files and
// publishes results. The engine serializes inference internally; the consumer
// loop keeps accepting messages up to the prefetch bound while one job is on
// the model.
type Transcription struct {
	engine        engine.Transcriber
	workspace     *scratch.Workspace
	pub           Publisher
	maxDeliveries int
	log           *logger.Logger
}

func NewTranscription(eng engine.Transcriber, workspace *scratch.Workspace, pub Publisher, maxDeliveries int, log *logger.Logger) *Transcription {
	return &Transcription{
		engine:        eng,
		workspace:     workspace,
		pub:           pub,
		maxDeliveries: maxDeliveries,
		log:           log,
	}
}

func (s *Transcription) Handle(ctx context.Context, body []byte, deliveryCount int) (disp Disposition) {
	var msg types.ProcessingMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		s.log.WithError(err).Error("dropping malformed processing message")
		return AckDrop
	}
	log := s.log.WithJob(msg.JobID, msg.CallID)

	// The scratch file must outlive a requeue: the redelivered message
	// references it and there is no way to re-download from this queue. Every
	// terminal exit removes it.
	defer func() {
		if disp == NackRequeue {
			return
		}
		if err := s.workspace.Remove(msg.ScratchPath); err != nil {
			log.WithError(err).Error("failed to remove scratch file")
		}
	}()

	if _, err := os.Stat(msg.ScratchPath); err != nil {
		// Lost to a worker restart between attempts; the recording cannot be
		// recovered from this queue.
		log.WithError(err).Error("scratch file gone, dropping job")
		return AckDrop
	}

	result, err := s.engine.Transcribe(ctx, msg.ScratchPath)
	if err != nil {
		if engine.IsInputError(err) {
			log.WithError(err).Error("recording rejected by engine, dropping job")
			return AckDrop
		}
		if deliveryCount >= s.maxDeliveries {
			log.WithError(err).WithField("deliveries", deliveryCount).
				Error("transcription failed on final delivery, dropping job")
			return AckDrop
		}
		log.WithError(err).Warn("transcription failed, requeueing")
		return NackRequeue
	}

	next := types.CompleteMessage{
		JobID:  msg.JobID,
		CallID: msg.CallID,
		Result: result,
	}
	nextBody, err := json.Marshal(next)
	if err != nil {
		log.WithError(err).Error("failed to marshal complete message")
		return AckDrop
	}
	if err := s.pub.Publish(ctx, types.QueueComplete, nextBody); err != nil {
		log.WithError(err).Warn("failed to publish complete message, requeueing")
		return NackRequeue
	}

	log.Info("transcription finished")
	return Ack
}
