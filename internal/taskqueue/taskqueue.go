// Package taskqueue is the single-process alternative to the broker pipeline.
// Jobs live in an in-process FIFO and die with the process; clients poll for
// status instead of waiting on a completion queue. The externally observable
// state machine matches the broker pipeline so polling code works against
// either design.
package taskqueue

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/gnom48/miabox-api/internal/completion"
	"github.com/gnom48/miabox-api/internal/engine"
	"github.com/gnom48/miabox-api/internal/logger"
)

// ErrJobNotFound is returned for status lookups of unknown job ids.
var ErrJobNotFound = errors.New("job not found")

// ErrQueueFull is returned when the FIFO is at capacity.
var ErrQueueFull = errors.New("task queue full")

// JobState is the lifecycle position of one job.
type JobState string

const (
	StateQueued     JobState = "queued"
	StateProcessing JobState = "processing"
	StateCompleted  JobState = "completed"
	StateFailed     JobState = "failed"
)

// JobRecord is the status snapshot returned to polling clients. Result holds
// the transcript once completed; Error holds the failure message once failed.
type JobRecord struct {
	JobID  string   `json:"job_id"`
	CallID string   `json:"call_id"`
	State  JobState `json:"state"`
	Result string   `json:"result,omitempty"`
	Error  string   `json:"error,omitempty"`
}

type job struct {
	id        string
	callID    string
	audioPath string
}

type update struct {
	record JobRecord
}

type lookup struct {
	jobID string
	reply chan lookupReply
}

type lookupReply struct {
	record JobRecord
	found  bool
}

// Queue owns the FIFO and the status table. The table is touched only by the
// state-owner goroutine; every other goroutine reaches it through channels.
type Queue struct {
	jobs    chan job
	updates chan update
	lookups chan lookup

	eng   engine.Transcriber
	store completion.TranscriptStore
	log   *logger.Logger
}

func New(capacity int, eng engine.Transcriber, store completion.TranscriptStore, log *logger.Logger) *Queue {
	return &Queue{
		jobs:    make(chan job, capacity),
		updates: make(chan update),
		lookups: make(chan lookup),
		eng:     eng,
		store:   store,
		log:     log,
	}
}

// Run starts the state owner and the single background handler and blocks
// until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) error {
	go q.handle(ctx)
	q.own(ctx)
	return ctx.Err()
}

// Enqueue places a job on the FIFO and returns its id with status queued. It
// never waits for transcription; a full queue is an immediate error.
func (q *Queue) Enqueue(ctx context.Context, callID, audioPath string) (string, error) {
	j := job{
		id:        uuid.New().String(),
		callID:    callID,
		audioPath: audioPath,
	}

	if err := q.setState(ctx, JobRecord{JobID: j.id, CallID: callID, State: StateQueued}); err != nil {
		return "", err
	}

	select {
	case q.jobs <- j:
	default:
		_ = q.setState(ctx, JobRecord{JobID: j.id, CallID: callID, State: StateFailed, Error: ErrQueueFull.Error()})
		return "", ErrQueueFull
	}

	q.log.WithJob(j.id, callID).Info("job queued in-process")
	return j.id, nil
}

// Status returns the current record for a job id.
func (q *Queue) Status(ctx context.Context, jobID string) (JobRecord, error) {
	req := lookup{jobID: jobID, reply: make(chan lookupReply, 1)}
	select {
	case q.lookups <- req:
	case <-ctx.Done():
		return JobRecord{}, ctx.Err()
	}

	select {
	case rep := <-req.reply:
		if !rep.found {
			return JobRecord{}, ErrJobNotFound
		}
		return rep.record, nil
	case <-ctx.Done():
		return JobRecord{}, ctx.Err()
	}
}

// own is the state-owner loop: the only goroutine that reads or writes the
// status table.
func (q *Queue) own(ctx context.Context) {
	records := make(map[string]JobRecord)
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-q.updates:
			records[u.record.JobID] = u.record
		case l := <-q.lookups:
			rec, ok := records[l.jobID]
			l.reply <- lookupReply{record: rec, found: ok}
		}
	}
}

// handle is the single background task: it blocks on the FIFO (never
// polling), runs the engine directly, and applies the same completion logic
// as the broker pipeline.
func (q *Queue) handle(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-q.jobs:
			q.process(ctx, j)
		}
	}
}

func (q *Queue) process(ctx context.Context, j job) {
	log := q.log.WithJob(j.id, j.callID)

	rec := JobRecord{JobID: j.id, CallID: j.callID, State: StateProcessing}
	if err := q.setState(ctx, rec); err != nil {
		return
	}

	result, err := q.eng.Transcribe(ctx, j.audioPath)
	if err == nil {
		err = q.store.SetTranscript(ctx, j.callID, result)
	}

	if err != nil {
		log.WithError(err).Error("in-process transcription failed")
		rec.State = StateFailed
		rec.Error = err.Error()
	} else {
		log.Info("in-process transcription finished")
		rec.State = StateCompleted
		rec.Result = result
	}
	_ = q.setState(ctx, rec)
}

func (q *Queue) setState(ctx context.Context, rec JobRecord) error {
	select {
	case q.updates <- update{record: rec}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
