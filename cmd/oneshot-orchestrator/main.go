// Package main provides the oneshot-orchestrator CLI entrypoint: drive
// several independent oneshot tasks concurrently under a bounded worker
// pool, reading the task list from a JSON jobs file.
//
// Usage:
//
//	oneshot-orchestrator --jobs jobs.json [options]
//
// jobs.json is an array of {"oneshot_id": str, "instruction": str,
// "executor": str?, "binary_path": str?, "work_dir": str?} entries.
//
// Exit codes:
//   - 0: every task reached COMPLETED
//   - 1: at least one task did not reach COMPLETED
//   - 2: setup error
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/oneshot/durablectx"
	"github.com/justapithecus/oneshot/engine"
	"github.com/justapithecus/oneshot/executor"
	"github.com/justapithecus/oneshot/log"
	"github.com/justapithecus/oneshot/metrics"
	"github.com/justapithecus/oneshot/orchestrator"
	"github.com/justapithecus/oneshot/task"
)

const (
	exitAllCompleted = 0
	exitSomeFailed   = 1
	exitSetupError   = 2
)

// jobSpec is one line item of the jobs file.
type jobSpec struct {
	OneshotID     string `json:"oneshot_id"`
	Instruction   string `json:"instruction"`
	Executor      string `json:"executor"`
	BinaryPath    string `json:"binary_path"`
	WorkDir       string `json:"work_dir"`
	MaxIterations int    `json:"max_iterations"`
}

func main() {
	app := &cli.App{
		Name:  "oneshot-orchestrator",
		Usage: "Run several oneshot tasks concurrently under a capacity limit",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "jobs", Required: true, Usage: "path to a JSON jobs file"},
			&cli.StringFlag{Name: "work-root", Usage: "directory holding each task's context file and activity log", Value: "."},
			&cli.IntFlag{Name: "max-concurrent", Value: orchestrator.DefaultMaxConcurrent, Usage: "maximum tasks running at once"},
			&cli.DurationFlag{Name: "idle-threshold", Value: orchestrator.DefaultGlobalIdleThreshold, Usage: "interrupt any task idle longer than this"},
			&cli.DurationFlag{Name: "inactivity-timeout", Value: 120 * time.Second, Usage: "per-task inactivity timeout"},
			&cli.StringFlag{Name: "default-executor", Value: "subprocess", Usage: "executor used for jobs that don't name one"},
			&cli.StringFlag{Name: "default-binary-path", Usage: "subprocess binary used for jobs that don't name one"},
		},
		Action: runAction,
	}

	if err := app.Run(os.Args); err != nil {
		var exitCoder cli.ExitCoder
		if errors.As(err, &exitCoder) {
			os.Exit(exitCoder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitSetupError)
	}
}

func runAction(c *cli.Context) error {
	jobs, err := loadJobs(c.String("jobs"))
	if err != nil {
		return cli.Exit(err.Error(), exitSetupError)
	}
	if len(jobs) == 0 {
		return cli.Exit("oneshot-orchestrator: jobs file has no entries", exitSetupError)
	}

	specs := make([]orchestrator.TaskSpec, 0, len(jobs))
	for _, j := range jobs {
		spec, err := buildTaskSpec(c, j)
		if err != nil {
			return cli.Exit(err.Error(), exitSetupError)
		}
		specs = append(specs, spec)
	}

	orch := orchestrator.New(orchestrator.Config{
		MaxConcurrent:       c.Int("max-concurrent"),
		GlobalIdleThreshold: c.Duration("idle-threshold"),
	}, time.Now)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		orch.InterruptAll()
		cancel()
	}()

	results, err := orch.Run(ctx, specs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "oneshot-orchestrator: %v\n", err)
	}

	allCompleted := true
	for _, j := range jobs {
		r := results[j.OneshotID]
		fmt.Printf("oneshot_id=%s state=%s err=%v\n", r.OneshotID, r.FinalState, r.Err)
		if r.FinalState != task.StateCompleted {
			allCompleted = false
		}
	}

	if allCompleted {
		return cli.Exit("", exitAllCompleted)
	}
	return cli.Exit("", exitSomeFailed)
}

func loadJobs(path string) ([]jobSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("oneshot-orchestrator: read jobs file: %w", err)
	}
	var jobs []jobSpec
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("oneshot-orchestrator: parse jobs file: %w", err)
	}
	for i, j := range jobs {
		if j.OneshotID == "" {
			return nil, fmt.Errorf("oneshot-orchestrator: job %d missing oneshot_id", i)
		}
		if j.Instruction == "" {
			return nil, fmt.Errorf("oneshot-orchestrator: job %d (%s) missing instruction", i, j.OneshotID)
		}
	}
	return jobs, nil
}

func buildTaskSpec(c *cli.Context, j jobSpec) (orchestrator.TaskSpec, error) {
	workRoot := c.String("work-root")
	contextPath := workRoot + "/" + j.OneshotID + ".context.json"
	sessionLogPath := workRoot + "/" + j.OneshotID + ".ndjson"

	durable, err := durablectx.LoadWithMaxIterations(contextPath, j.OneshotID, j.Instruction, j.MaxIterations, time.Now)
	if err != nil {
		return orchestrator.TaskSpec{}, err
	}

	sessionLog, err := engine.OpenSessionLog(sessionLogPath)
	if err != nil {
		return orchestrator.TaskSpec{}, err
	}

	executorName := j.Executor
	if executorName == "" {
		executorName = c.String("default-executor")
	}
	binaryPath := j.BinaryPath
	if binaryPath == "" {
		binaryPath = c.String("default-binary-path")
	}
	if binaryPath == "" {
		return orchestrator.TaskSpec{}, fmt.Errorf("oneshot-orchestrator: job %s has no binary_path and no --default-binary-path was given", j.OneshotID)
	}
	workDir := j.WorkDir
	if workDir == "" {
		workDir = workRoot
	}

	ex := executor.NewSubprocessExecutor(executor.SubprocessConfig{
		Name:       executorName,
		BinaryPath: binaryPath,
		WorkDir:    workDir,
	})

	logger := log.NewLogger(log.Identity{OneshotID: j.OneshotID, Executor: executorName})
	metricsCollector := metrics.NewCollector(executorName, j.OneshotID, "")

	eng := engine.New(
		engine.Config{
			InactivityTimeout:   c.Duration("inactivity-timeout"),
			KeepLog:             false,
			ArchiveExecutorName: executorName,
		},
		durable,
		ex,
		ex,
		sessionLog,
		nil,
		logger,
		metricsCollector,
		nil,
		nil,
	)

	return orchestrator.TaskSpec{
		OneshotID: j.OneshotID,
		Engine:    eng,
		Durable:   durable,
	}, nil
}
