// Package tasks dispatches follow-on work to a task queue collaborator and
// serves the task endpoint that receives it.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/hashicorp/go-retryablehttp"

	"genomicore/internal/core"
	"genomicore/internal/notify"
	"genomicore/pkg/domain"
)

// QueueHeader names the queue a task is enqueued on.
const QueueHeader = "X-Task-Queue"

// ErrUnknownJob is returned by a Runner for a job it cannot dispatch.
var ErrUnknownJob = errors.New("unknown job")

// Payload is the task body shared by dispatch and the task endpoint.
type Payload struct {
	FilePath   string   `json:"file_path,omitempty"`
	BucketName string   `json:"bucket_name,omitempty"`
	UploadDate string   `json:"upload_date,omitempty"`
	MemberIDs  []string `json:"member_ids,omitempty"`
	Field      string   `json:"field,omitempty"`
	Value      any      `json:"value,omitempty"`
}

// Dispatcher enqueues a job with its payload.
type Dispatcher interface {
	Dispatch(ctx context.Context, job domain.JobKind, p Payload) error
}

// HTTPDispatcher posts payloads to {BaseURL}/{job}.
type HTTPDispatcher struct {
	BaseURL string
	Queue   string
	client  *retryablehttp.Client
}

// NewHTTPDispatcher returns a dispatcher using a retrying client.
func NewHTTPDispatcher(baseURL, queue string, opts notify.ClientOptions) *HTTPDispatcher {
	return &HTTPDispatcher{BaseURL: strings.TrimSuffix(baseURL, "/"), Queue: queue, client: notify.NewClient(opts)}
}

// Dispatch implements Dispatcher.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, job domain.JobKind, p Payload) error {
	if d.BaseURL == "" {
		return fmt.Errorf("dispatch %s: tasks base url not configured", job)
	}
	header := http.Header{}
	if d.Queue != "" {
		header.Set(QueueHeader, d.Queue)
	}
	if err := notify.PostJSON(ctx, d.client, d.BaseURL+"/"+string(job), p, header); err != nil {
		return fmt.Errorf("dispatch %s: %w", job, err)
	}
	return nil
}

// Runner executes a job for a task payload.
type Runner interface {
	RunTask(ctx context.Context, job domain.JobKind, p Payload) (domain.RunResult, error)
}

// LocalDispatcher runs tasks in-process. Used by the CLI and tests when no
// queue is configured.
type LocalDispatcher struct {
	mu     sync.Mutex
	runner Runner
	Sent   []Sent
}

// Sent records a dispatched task.
type Sent struct {
	Job     domain.JobKind
	Payload Payload
	Result  domain.RunResult
}

// NewLocalDispatcher returns a dispatcher that records tasks and, when runner
// is non-nil, executes them synchronously.
func NewLocalDispatcher(runner Runner) *LocalDispatcher {
	return &LocalDispatcher{runner: runner}
}

// SetRunner binds the runner after construction, breaking the
// orchestrator/dispatcher construction cycle.
func (d *LocalDispatcher) SetRunner(r Runner) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.runner = r
}

// Dispatch implements Dispatcher.
func (d *LocalDispatcher) Dispatch(ctx context.Context, job domain.JobKind, p Payload) error {
	d.mu.Lock()
	runner := d.runner
	d.mu.Unlock()
	result := domain.ResultUnset
	var err error
	if runner != nil {
		result, err = runner.RunTask(ctx, job, p)
	}
	d.mu.Lock()
	d.Sent = append(d.Sent, Sent{Job: job, Payload: p, Result: result})
	d.mu.Unlock()
	return err
}

// Tasks returns a copy of the dispatched tasks.
func (d *LocalDispatcher) Tasks() []Sent {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Sent, len(d.Sent))
	copy(out, d.Sent)
	return out
}

type response struct {
	Job    domain.JobKind   `json:"job"`
	Result domain.RunResult `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// Handler serves POST /tasks/{job}.
type Handler struct {
	runner Runner
	logger core.Logger
}

// NewHandler returns the task endpoint handler.
func NewHandler(runner Runner, logger core.Logger) *Handler {
	if logger == nil {
		logger = core.NoopLogger()
	}
	return &Handler{runner: runner, logger: logger}
}

// Register mounts the handler on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("POST /tasks/{job}", h)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	job := domain.JobKind(r.PathValue("job"))
	if job == "" {
		job = domain.JobKind(strings.TrimPrefix(r.URL.Path, "/tasks/"))
	}
	var p Payload
	if r.ContentLength != 0 {
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			writeJSON(w, http.StatusBadRequest, response{Job: job, Error: "invalid payload: " + err.Error()})
			return
		}
	}
	result, err := h.runner.RunTask(r.Context(), job, p)
	switch {
	case errors.Is(err, ErrUnknownJob):
		writeJSON(w, http.StatusNotFound, response{Job: job, Error: err.Error()})
	case err != nil:
		h.logger.Error("task failed", "job", string(job), "error", err)
		writeJSON(w, http.StatusInternalServerError, response{Job: job, Result: result, Error: err.Error()})
	default:
		h.logger.Info("task completed", "job", string(job), "result", string(result))
		writeJSON(w, http.StatusOK, response{Job: job, Result: result})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
