package types

// Queue names form a closed set; each stage consumes exactly one queue and
// publishes only to the next.
const (
	QueueQueued     = "queued"
	QueueProcessing = "processing"
	QueueComplete   = "complete"
)

// QueuedMessage is published by the producer when a call recording is ready
// for transcription.
type QueuedMessage struct {
	JobID  string `json:"job_id"`
	CallID string `json:"call_id"`
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// ProcessingMessage is published by the retrieval stage once the recording has
// been materialized on local disk.
type ProcessingMessage struct {
	JobID       string `json:"job_id"`
	CallID      string `json:"call_id"`
	ScratchPath string `json:"scratch_path"`
}

// CompleteMessage carries the finished transcript back to the API tier.
type CompleteMessage struct {
	JobID  string `json:"job_id"`
	CallID string `json:"call_id"`
	Result string `json:"result"`
}
