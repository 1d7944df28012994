package completion

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gnom48/miabox-api/internal/database"
	"github.com/gnom48/miabox-api/internal/logger"
	"github.com/gnom48/miabox-api/internal/stages"
	"github.com/gnom48/miabox-api/internal/types"
)

// TranscriptStore persists finished transcripts. The write must be
// idempotent: at-least-once delivery means the same completion can arrive
// twice.
type TranscriptStore interface {
	SetTranscript(ctx context.Context, callID, transcript string) error
}

// Consumer applies complete messages to the call record store. It runs
// embedded in the API tier and acknowledges only after the transcript is
// durably persisted.
type Consumer struct {
	store TranscriptStore
	log   *logger.Logger
}

func New(store TranscriptStore, log *logger.Logger) *Consumer {
	return &Consumer{store: store, log: log}
}

func (c *Consumer) Handle(ctx context.Context, body []byte, deliveryCount int) stages.Disposition {
	var msg types.CompleteMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		c.log.WithError(err).Error("dropping malformed complete message")
		return stages.AckDrop
	}
	log := c.log.WithJob(msg.JobID, msg.CallID)

	if err := c.store.SetTranscript(ctx, msg.CallID, msg.Result); err != nil {
		if errors.Is(err, database.ErrCallNotFound) {
			log.WithError(err).Error("completion references unknown call, dropping")
			return stages.AckDrop
		}
		log.WithError(err).Warn("failed to persist transcript, requeueing")
		return stages.NackRequeue
	}

	log.Info("transcript persisted")
	return stages.Ack
}
