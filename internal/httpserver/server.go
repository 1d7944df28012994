package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gnom48/miabox-api/internal/logger"
	"github.com/gnom48/miabox-api/internal/producer"
	"github.com/gnom48/miabox-api/internal/taskqueue"
)

// Server is the thin API-tier wiring over the pipeline core: enqueue for the
// broker pipeline, enqueue + status polling for the legacy in-process
// variant. Auth and the wider CRM routing live elsewhere.
type Server struct {
	prod  *producer.Producer
	tasks *taskqueue.Queue
	log   *logger.Logger
}

func NewServer(prod *producer.Producer, tasks *taskqueue.Queue, log *logger.Logger) *Server {
	return &Server{prod: prod, tasks: tasks, log: log}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.HealthzHandler)
	mux.HandleFunc("/transcriptions", s.EnqueueHandler)
	mux.HandleFunc("/tasks", s.EnqueueTaskHandler)
	mux.HandleFunc("/tasks/status", s.TaskStatusHandler)
	return mux
}

// HealthzHandler responds to health checks.
func (s *Server) HealthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type enqueueRequest struct {
	CallID string `json:"call_id"`
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// EnqueueHandler hands a call recording to the broker pipeline. Responds as
// soon as the broker accepts the job; a broker outage is surfaced as a
// retryable 503.
func (s *Server) EnqueueHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.CallID == "" || req.Bucket == "" || req.Key == "" {
		http.Error(w, "call_id, bucket and key are required", http.StatusBadRequest)
		return
	}

	jobID, err := s.prod.Enqueue(r.Context(), req.CallID, req.Bucket, req.Key)
	if err != nil {
		s.log.WithError(err).Error("failed to enqueue transcription")
		http.Error(w, "broker unavailable", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

type enqueueTaskRequest struct {
	CallID    string `json:"call_id"`
	AudioPath string `json:"audio_path"`
}

// EnqueueTaskHandler enqueues a job on the legacy in-process queue.
func (s *Server) EnqueueTaskHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req enqueueTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.CallID == "" || req.AudioPath == "" {
		http.Error(w, "call_id and audio_path are required", http.StatusBadRequest)
		return
	}

	jobID, err := s.tasks.Enqueue(r.Context(), req.CallID, req.AudioPath)
	if err != nil {
		if errors.Is(err, taskqueue.ErrQueueFull) {
			http.Error(w, "queue full", http.StatusServiceUnavailable)
			return
		}
		s.log.WithError(err).Error("failed to enqueue task")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

// TaskStatusHandler returns the current record for a legacy job id.
func (s *Server) TaskStatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	jobID := r.URL.Query().Get("job_id")
	if jobID == "" {
		http.Error(w, "job_id is required", http.StatusBadRequest)
		return
	}

	rec, err := s.tasks.Status(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, taskqueue.ErrJobNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		s.log.WithError(err).Error("failed to look up task status")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
