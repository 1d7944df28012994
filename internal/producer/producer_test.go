package producer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/gnom48/miabox-api/internal/logger"
	"github.com/gnom48/miabox-api/internal/types"
)

type fakePublisher struct {
	err    error
	queues []string
	bodies [][]byte
}

func (f *fakePublisher) Publish(ctx context.Context, queue string, body []byte) error {
	if f.err != nil {
		return f.err
	}
	f.queues = append(f.queues, queue)
	f.bodies = append(f.bodies, body)
	return nil
}

// TestEnqueuePublishesJob verifies the message shape and that the returned
// job id matches the published one.
func TestEnqueuePublishesJob(t *testing.T) {
	pub := &fakePublisher{}
	p := New(pub, logger.New("test", "error"))

	jobID, err := p.Enqueue(context.Background(), "call-1", "calls", "u1_rec.wav")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if jobID == "" {
		t.Fatal("expected a job id")
	}

	if len(pub.queues) != 1 || pub.queues[0] != types.QueueQueued {
		t.Fatalf("published to %v, want [queued]", pub.queues)
	}
	var msg types.QueuedMessage
	if err := json.Unmarshal(pub.bodies[0], &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.JobID != jobID || msg.CallID != "call-1" || msg.Bucket != "calls" || msg.Key != "u1_rec.wav" {
		t.Fatalf("message = %+v", msg)
	}
}

// TestEnqueueUniqueJobIDs verifies each enqueue mints a fresh job id.
func TestEnqueueUniqueJobIDs(t *testing.T) {
	pub := &fakePublisher{}
	p := New(pub, logger.New("test", "error"))

	a, err := p.Enqueue(context.Background(), "call-1", "calls", "rec.wav")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	b, err := p.Enqueue(context.Background(), "call-1", "calls", "rec.wav")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if a == b {
		t.Fatalf("job ids must differ, got %s twice", a)
	}
}

// TestEnqueueBrokerDown verifies a broker rejection surfaces synchronously.
func TestEnqueueBrokerDown(t *testing.T) {
	pub := &fakePublisher{err: errors.New("connection refused")}
	p := New(pub, logger.New("test", "error"))

	if _, err := p.Enqueue(context.Background(), "call-1", "calls", "rec.wav"); err == nil {
		t.Fatal("expected error when broker is unreachable")
	}
}
