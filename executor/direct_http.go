package executor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/justapithecus/oneshot/iox"
	"github.com/justapithecus/oneshot/task"
)

// DirectHTTPConfig configures an HTTP-endpoint agent executor variant.
type DirectHTTPConfig struct {
	// Name identifies this executor.
	Name string
	// Endpoint is the agent's HTTP endpoint (expects an NDJSON/streaming
	// response body, one activity line per read).
	Endpoint string
	// APIKey, if set, is sent as a Bearer Authorization header.
	APIKey string
	// Timeout bounds the whole request; zero means no per-request timeout
	// beyond ctx (long streaming responses are expected).
	Timeout time.Duration
	// HistoryEndpoint, if set, is queried by Recover to forensically read
	// the agent's own record of a prior, now-dead invocation.
	HistoryEndpoint string
	// Model, if set, is forwarded in every request body; this is what
	// --worker-model/--auditor-model resolve to for an executor whose
	// Metadata reports SupportsModelSelection.
	Model string
}

// DirectHTTPExecutor streams an agent invocation over one long-lived HTTP
// request. No retry or backoff at this layer: a connect failure is terminal
// for the attempt and surfaces as a LaunchError for the engine's own
// recovery path, rather than the transport retrying silently.
type DirectHTTPExecutor struct {
	config DirectHTTPConfig
	client *http.Client
}

// NewDirectHTTPExecutor builds a direct-http executor from cfg.
func NewDirectHTTPExecutor(cfg DirectHTTPConfig) *DirectHTTPExecutor {
	client := &http.Client{}
	if cfg.Timeout > 0 {
		client.Timeout = cfg.Timeout
	}
	return &DirectHTTPExecutor{config: cfg, client: client}
}

func (e *DirectHTTPExecutor) Metadata() Metadata {
	return Metadata{
		Name:                   e.config.Name,
		Kind:                   KindDirectHTTP,
		CapturesGit:            false,
		SupportsModelSelection: true,
	}
}

type directHTTPRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
}

func (e *DirectHTTPExecutor) Execute(ctx context.Context, prompt string) (Stream, error) {
	body, err := json.Marshal(directHTTPRequest{Prompt: prompt, Model: e.config.Model})
	if err != nil {
		return nil, fmt.Errorf("executor: marshal request: %w", err)
	}

	reqCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, &LaunchError{Executor: e.config.Name, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if e.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.config.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		cancel()
		return nil, &LaunchError{Executor: e.config.Name, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		iox.DiscardClose(resp.Body)
		cancel()
		return nil, &LaunchError{Executor: e.config.Name, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	return &directHTTPStream{
		resp:    resp,
		scanner: bufio.NewScanner(resp.Body),
		cancel:  cancel,
	}, nil
}

type directHTTPStream struct {
	resp      *http.Response
	scanner   *bufio.Scanner
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (s *directHTTPStream) Next() (string, bool, error) {
	if s.scanner.Scan() {
		return s.scanner.Text(), true, nil
	}
	if err := s.scanner.Err(); err != nil {
		return "", false, fmt.Errorf("executor: stream read: %w", err)
	}
	return "", false, nil
}

// Close unblocks any pending read by canceling the request context, then
// releases the response body. Cancellation is how the inactivity guard's
// unblock hook forces an early exit on a stalled HTTP stream.
func (s *directHTTPStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		iox.DiscardClose(s.resp.Body)
	})
	return nil
}

// Recover queries HistoryEndpoint, if configured, for a forensic record of
// a prior invocation. Side-effect-free: GET only.
func (e *DirectHTTPExecutor) Recover(ctx context.Context, taskID string) (task.RecoveryResult, error) {
	if e.config.HistoryEndpoint == "" {
		return task.RecoveryResult{Success: false, Verdict: task.VerdictDead}, nil
	}

	url := strings.TrimRight(e.config.HistoryEndpoint, "/") + "/" + taskID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return task.RecoveryResult{Success: false, Verdict: task.VerdictDead}, nil
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return task.RecoveryResult{Success: false, Verdict: task.VerdictDead}, nil
	}
	defer iox.DiscardClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return task.RecoveryResult{Success: false, Verdict: task.VerdictDead}, nil
	}

	var history []string
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil || len(history) == 0 {
		return task.RecoveryResult{Success: false, Verdict: task.VerdictDead}, nil
	}

	activity := make([]task.ActivityEvent, 0, len(history))
	found := false
	for _, line := range history {
		activity = append(activity, task.ActivityEvent{Data: line, Executor: e.config.Name})
		if strings.Contains(strings.ToUpper(line), completionMarker) {
			found = true
		}
	}

	if found {
		return task.RecoveryResult{Success: true, RecoveredActivity: activity, Verdict: task.VerdictSuccess}, nil
	}
	return task.RecoveryResult{Success: true, RecoveredActivity: activity, Verdict: task.VerdictPartial}, nil
}

var _ Executor = (*DirectHTTPExecutor)(nil)
