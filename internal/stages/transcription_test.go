package stages

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/gnom48/miabox-api/internal/engine"
	"github.com/gnom48/miabox-api/internal/logger"
	"github.com/gnom48/miabox-api/internal/scratch"
	"github.com/gnom48/miabox-api/internal/types"
)

type fakeTranscriber struct {
	result string
	err    error
	calls  int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	f.calls++
	return f.result, f.err
}

func writeScratchFile(t *testing.T, ws *scratch.Workspace, jobID, key string) string {
	t.Helper()
	path := ws.PathFor(jobID, key)
	if err := os.WriteFile(path, []byte("audio"), 0o644); err != nil {
		t.Fatalf("write scratch file: %v", err)
	}
	return path
}

func processingBody(t *testing.T, msg types.ProcessingMessage) []byte {
	t.Helper()
	body, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return body
}

// TestTranscriptionSuccess verifies the transcript is published to complete
// and the scratch file is removed.
func TestTranscriptionSuccess(t *testing.T) {
	ws := newWorkspace(t)
	pub := &fakePublisher{}
	eng := &fakeTranscriber{result: "здравствуйте, это по поводу квартиры"}
	s := NewTranscription(eng, ws, pub, 3, logger.New("test", "error"))

	path := writeScratchFile(t, ws, "job-1", "rec.wav")
	msg := types.ProcessingMessage{JobID: "job-1", CallID: "call-1", ScratchPath: path}

	if disp := s.Handle(context.Background(), processingBody(t, msg), 1); disp != Ack {
		t.Fatalf("disposition = %d, want Ack", disp)
	}

	if len(pub.queues) != 1 || pub.queues[0] != types.QueueComplete {
		t.Fatalf("published to %v, want [complete]", pub.queues)
	}
	var next types.CompleteMessage
	if err := json.Unmarshal(pub.bodies[0], &next); err != nil {
		t.Fatalf("unmarshal complete message: %v", err)
	}
	if next.Result != eng.result {
		t.Fatalf("result = %q, want transcript", next.Result)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("scratch file still present: %v", err)
	}
}

// TestTranscriptionInputError verifies a rejected recording is dropped and
// cleaned up.
func TestTranscriptionInputError(t *testing.T) {
	ws := newWorkspace(t)
	pub := &fakePublisher{}
	eng := &fakeTranscriber{err: &engine.InputError{Path: "rec.wav", Err: errors.New("unreadable")}}
	s := NewTranscription(eng, ws, pub, 3, logger.New("test", "error"))

	path := writeScratchFile(t, ws, "job-2", "rec.wav")
	msg := types.ProcessingMessage{JobID: "job-2", CallID: "call-2", ScratchPath: path}

	if disp := s.Handle(context.Background(), processingBody(t, msg), 1); disp != AckDrop {
		t.Fatalf("disposition = %d, want AckDrop", disp)
	}
	if n := scratchFileCount(t, ws); n != 0 {
		t.Fatalf("scratch files = %d, want 0", n)
	}
	if len(pub.queues) != 0 {
		t.Fatal("nothing may be published on failure")
	}
}

// TestTranscriptionTransientFailure verifies transient engine errors requeue
// while deliveries remain, and keep the scratch file so the redelivery can
// retry.
func TestTranscriptionTransientFailure(t *testing.T) {
	ws := newWorkspace(t)
	eng := &fakeTranscriber{err: errors.New("engine busy")}
	s := NewTranscription(eng, ws, &fakePublisher{}, 3, logger.New("test", "error"))

	path := writeScratchFile(t, ws, "job-3", "rec.wav")
	msg := types.ProcessingMessage{JobID: "job-3", CallID: "call-3", ScratchPath: path}

	if disp := s.Handle(context.Background(), processingBody(t, msg), 1); disp != NackRequeue {
		t.Fatalf("disposition = %d, want NackRequeue", disp)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("scratch file must survive a requeue: %v", err)
	}
}

// TestTranscriptionRetriesExhausted verifies the bounded retry: the final
// delivery is dropped instead of requeued, and cleanup runs on that terminal
// exit.
func TestTranscriptionRetriesExhausted(t *testing.T) {
	ws := newWorkspace(t)
	eng := &fakeTranscriber{err: errors.New("engine busy")}
	s := NewTranscription(eng, ws, &fakePublisher{}, 3, logger.New("test", "error"))

	path := writeScratchFile(t, ws, "job-4", "rec.wav")
	msg := types.ProcessingMessage{JobID: "job-4", CallID: "call-4", ScratchPath: path}

	if disp := s.Handle(context.Background(), processingBody(t, msg), 3); disp != AckDrop {
		t.Fatalf("disposition = %d, want AckDrop", disp)
	}
	if n := scratchFileCount(t, ws); n != 0 {
		t.Fatalf("scratch files = %d, want 0", n)
	}
}

// flakyTranscriber fails a fixed number of attempts, then succeeds.
type flakyTranscriber struct {
	failures int
	calls    int
	result   string
}

func (f *flakyTranscriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", errors.New("engine busy")
	}
	return f.result, nil
}

// TestTranscriptionRecoversOnRedelivery verifies a transient failure really is
// retried: the redelivered message finds its scratch file, runs the engine
// again, and completes.
func TestTranscriptionRecoversOnRedelivery(t *testing.T) {
	ws := newWorkspace(t)
	pub := &fakePublisher{}
	eng := &flakyTranscriber{failures: 1, result: "text"}
	s := NewTranscription(eng, ws, pub, 3, logger.New("test", "error"))

	path := writeScratchFile(t, ws, "job-7", "rec.wav")
	msg := types.ProcessingMessage{JobID: "job-7", CallID: "call-7", ScratchPath: path}
	body := processingBody(t, msg)

	if disp := s.Handle(context.Background(), body, 1); disp != NackRequeue {
		t.Fatalf("first delivery disposition = %d, want NackRequeue", disp)
	}
	if disp := s.Handle(context.Background(), body, 2); disp != Ack {
		t.Fatalf("redelivery disposition = %d, want Ack", disp)
	}

	if eng.calls != 2 {
		t.Fatalf("engine calls = %d, want 2", eng.calls)
	}
	if len(pub.queues) != 1 || pub.queues[0] != types.QueueComplete {
		t.Fatalf("published to %v, want [complete]", pub.queues)
	}
	if n := scratchFileCount(t, ws); n != 0 {
		t.Fatalf("scratch files = %d, want 0", n)
	}
}

// TestTranscriptionScratchGone verifies a redelivery whose scratch file was
// lost (worker restart between attempts) is dropped, not retried forever.
func TestTranscriptionScratchGone(t *testing.T) {
	ws := newWorkspace(t)
	eng := &fakeTranscriber{result: "text"}
	s := NewTranscription(eng, ws, &fakePublisher{}, 3, logger.New("test", "error"))

	msg := types.ProcessingMessage{
		JobID:       "job-5",
		CallID:      "call-5",
		ScratchPath: filepath.Join(ws.Dir(), "job-5_rec.wav"),
	}
	if disp := s.Handle(context.Background(), processingBody(t, msg), 2); disp != AckDrop {
		t.Fatalf("disposition = %d, want AckDrop", disp)
	}
	if eng.calls != 0 {
		t.Fatal("engine must not run without a scratch file")
	}
}

// TestTranscriptionPublishFailure verifies a failed complete publish requeues
// the message with the scratch file intact, so the transcript is not lost.
func TestTranscriptionPublishFailure(t *testing.T) {
	ws := newWorkspace(t)
	eng := &fakeTranscriber{result: "text"}
	s := NewTranscription(eng, ws, &fakePublisher{err: errors.New("broker gone")}, 3, logger.New("test", "error"))

	path := writeScratchFile(t, ws, "job-6", "rec.wav")
	msg := types.ProcessingMessage{JobID: "job-6", CallID: "call-6", ScratchPath: path}

	if disp := s.Handle(context.Background(), processingBody(t, msg), 1); disp != NackRequeue {
		t.Fatalf("disposition = %d, want NackRequeue", disp)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("scratch file must survive a requeue: %v", err)
	}
}
