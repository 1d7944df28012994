package producer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/gnom48/miabox-api/internal/logger"
	"github.com/gnom48/miabox-api/internal/types"
)

// Publisher is the slice of the broker client the producer needs.
type Publisher interface {
	Publish(ctx context.Context, queue string, body []byte) error
}

// Producer hands call recordings to the pipeline. Publishing is
// fire-and-forget: the caller gets a job id back as soon as the broker
// accepts the message, long before transcription runs.
//
// Nothing here dedupes jobs per call; callers must not enqueue a call whose
// previous job is still in flight. Duplicate completions converge because the
// transcript write is idempotent.
type Producer struct {
	pub Publisher
	log *logger.Logger
}

func New(pub Publisher, log *logger.Logger) *Producer {
	return &Producer{pub: pub, log: log}
}

// Enqueue publishes one transcription job for a call recording and returns
// the fresh job id. A broker rejection surfaces synchronously so the caller
// can retry; no job is ever silently dropped.
func (p *Producer) Enqueue(ctx context.Context, callID, bucket, key string) (string, error) {
	msg := types.QueuedMessage{
		JobID:  uuid.New().String(),
		CallID: callID,
		Bucket: bucket,
		Key:    key,
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal queued message: %w", err)
	}

	if err := p.pub.Publish(ctx, types.QueueQueued, body); err != nil {
		return "", fmt.Errorf("failed to enqueue transcription for call %s: %w", callID, err)
	}

	p.log.WithJob(msg.JobID, callID).Info("transcription job enqueued")
	return msg.JobID, nil
}
