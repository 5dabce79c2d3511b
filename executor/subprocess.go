package executor

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/justapithecus/oneshot/task"
)

// gracePeriod is the window between terminate and force-kill.
const gracePeriod = 5 * time.Second

// SubprocessConfig configures a CLI-agent executor variant.
type SubprocessConfig struct {
	// Name identifies this executor (e.g. "claude_code", "aider").
	Name string
	// BinaryPath is the path to the agent CLI binary.
	BinaryPath string
	// Args are extra arguments passed before the prompt.
	Args []string
	// WorkDir is the working directory the agent runs in; also where
	// Recover looks for forensic state (task-history file, git log).
	WorkDir string
	// HistoryFileName is the agent's own task-history file, relative to
	// WorkDir, if it writes one (e.g. "TASK_HISTORY.ndjson"). Empty
	// disables the task-history forensic read.
	HistoryFileName string
	// CapturesGit indicates whether this agent's work can be recovered
	// via git history in WorkDir.
	CapturesGit bool
}

// SubprocessExecutor launches the agent as a child process and streams
// its stdout line by line.
type SubprocessExecutor struct {
	config SubprocessConfig
}

// NewSubprocessExecutor builds a subprocess executor from cfg.
func NewSubprocessExecutor(cfg SubprocessConfig) *SubprocessExecutor {
	return &SubprocessExecutor{config: cfg}
}

func (e *SubprocessExecutor) Metadata() Metadata {
	return Metadata{
		Name:                   e.config.Name,
		Kind:                   KindSubprocess,
		CapturesGit:            e.config.CapturesGit,
		SupportsModelSelection: false,
	}
}

func (e *SubprocessExecutor) Execute(ctx context.Context, prompt string) (Stream, error) {
	args := append(append([]string(nil), e.config.Args...), prompt)
	cmd := exec.Command(e.config.BinaryPath, args...)
	cmd.Dir = e.config.WorkDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &LaunchError{Executor: e.config.Name, Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Executor: e.config.Name, Err: err}
	}

	return &subprocessStream{
		cmd:     cmd,
		scanner: bufio.NewScanner(stdout),
		stderr:  &stderr,
	}, nil
}

// subprocessStream is the scoped handle for one subprocess invocation.
type subprocessStream struct {
	cmd       *exec.Cmd
	scanner   *bufio.Scanner
	stderr    *bytes.Buffer
	closeOnce sync.Once
}

func (s *subprocessStream) Next() (string, bool, error) {
	if s.scanner.Scan() {
		return s.scanner.Text(), true, nil
	}
	if err := s.scanner.Err(); err != nil {
		return "", false, fmt.Errorf("executor: stream read: %w (stderr: %s)", err, s.stderr.String())
	}
	return "", false, nil
}

// Close terminates the child process, forcing it after gracePeriod if it
// does not exit on its own, and releases all descriptors. Safe to call
// more than once or after the stream has already been exhausted.
func (s *subprocessStream) Close() error {
	s.closeOnce.Do(func() {
		if s.cmd.Process == nil {
			return
		}
		_ = s.cmd.Process.Signal(syscall.SIGTERM)

		done := make(chan error, 1)
		go func() { done <- s.cmd.Wait() }()

		select {
		case <-done:
		case <-time.After(gracePeriod):
			_ = s.cmd.Process.Kill()
			<-done
		}
	})
	return nil
}

// Recover performs a side-effect-free forensic read: first the agent's own
// task-history file if configured, then git log in WorkDir, else dead. An
// explicit completion marker means success; some activity without one means
// partial; nothing usable means dead.
func (e *SubprocessExecutor) Recover(ctx context.Context, taskID string) (task.RecoveryResult, error) {
	if e.config.HistoryFileName != "" {
		if result, ok := e.recoverFromHistoryFile(); ok {
			return result, nil
		}
	}
	if e.config.CapturesGit {
		if result, ok := e.recoverFromGitLog(ctx); ok {
			return result, nil
		}
	}
	return task.RecoveryResult{Success: false, Verdict: task.VerdictDead}, nil
}

const completionMarker = "DONE"

func (e *SubprocessExecutor) recoverFromHistoryFile() (task.RecoveryResult, bool) {
	path := filepath.Join(e.config.WorkDir, e.config.HistoryFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return task.RecoveryResult{}, false
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	var activity []task.ActivityEvent
	found := false
	for _, line := range lines {
		if line == "" {
			continue
		}
		activity = append(activity, task.ActivityEvent{Data: line, Executor: e.config.Name})
		if strings.Contains(strings.ToUpper(line), completionMarker) {
			found = true
		}
	}

	switch {
	case len(activity) == 0:
		return task.RecoveryResult{}, false
	case found:
		return task.RecoveryResult{Success: true, RecoveredActivity: activity, Verdict: task.VerdictSuccess}, true
	default:
		return task.RecoveryResult{Success: true, RecoveredActivity: activity, Verdict: task.VerdictPartial}, true
	}
}

func (e *SubprocessExecutor) recoverFromGitLog(ctx context.Context) (task.RecoveryResult, bool) {
	cmd := exec.CommandContext(ctx, "git", "log", "--oneline", "-n", "20")
	cmd.Dir = e.config.WorkDir
	out, err := cmd.Output()
	if err != nil {
		return task.RecoveryResult{}, false
	}

	lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return task.RecoveryResult{}, false
	}

	activity := make([]task.ActivityEvent, 0, len(lines))
	for _, line := range lines {
		activity = append(activity, task.ActivityEvent{Data: line, Executor: e.config.Name})
	}
	// A git log with commits but no recoverable marker is the best signal
	// this variant has; treat non-empty history as partial recovery.
	return task.RecoveryResult{Success: true, RecoveredActivity: activity, Verdict: task.VerdictPartial}, true
}

var _ Executor = (*SubprocessExecutor)(nil)
