// Package main provides the oneshot CLI entrypoint: drive a single
// instruction through one Worker/Auditor task to a terminal state.
//
// Usage:
//
//	oneshot "<instruction>" [options]
//
// Exit codes:
//   - 0: task reached COMPLETED
//   - 1: task reached REJECTED, FAILED, or INTERRUPTED
//   - 2: setup error (bad flags, unreadable config, unknown executor)
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/oneshot/archive"
	"github.com/justapithecus/oneshot/cli/config"
	"github.com/justapithecus/oneshot/durablectx"
	"github.com/justapithecus/oneshot/engine"
	"github.com/justapithecus/oneshot/executor"
	"github.com/justapithecus/oneshot/log"
	"github.com/justapithecus/oneshot/metrics"
	"github.com/justapithecus/oneshot/notify"
	nredis "github.com/justapithecus/oneshot/notify/redis"
	nwebhook "github.com/justapithecus/oneshot/notify/webhook"
	"github.com/justapithecus/oneshot/registry"
	"github.com/justapithecus/oneshot/task"
)

// Exit code 0 means the task reached COMPLETED; anything else did not.
const (
	exitCompleted    = 0
	exitNotCompleted = 1
	exitSetupError   = 2
)

func main() {
	app := &cli.App{
		Name:      "oneshot",
		Usage:     "Drive one instruction through a Worker/Auditor task loop",
		ArgsUsage: "<instruction>",
		Flags:     flags(),
		Action:    runAction,
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

func flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Usage: "path to a config file ($HOME/.oneshot.json, .yaml, or .oneshotrc)"},
		&cli.IntFlag{Name: "max-iterations", Value: durablectx.DefaultMaxIterations, Usage: "maximum Worker/Auditor iterations before FAILED"},
		&cli.StringFlag{Name: "executor", Value: "subprocess", Usage: "registered executor name used for both Worker and Auditor"},
		&cli.StringFlag{Name: "worker-model", Usage: "model identifier forwarded to the Worker executor, if it supports model selection"},
		&cli.StringFlag{Name: "auditor-model", Usage: "model identifier forwarded to the Auditor executor, if it supports model selection"},
		&cli.DurationFlag{Name: "initial-timeout", Value: 120 * time.Second, Usage: "inactivity timeout applied to both Worker and Auditor runs"},
		&cli.DurationFlag{Name: "max-timeout", Value: 300 * time.Second, Usage: "direct-http executor: overall request timeout for Worker and Auditor calls"},
		&cli.DurationFlag{Name: "activity-interval", Value: 500 * time.Millisecond, Usage: "accepted but unused; the inactivity monitor polls every 500ms"},
		&cli.BoolFlag{Name: "resume", Usage: "resume an existing task instead of requiring a fresh one"},
		&cli.StringFlag{Name: "session", Usage: "path to the durable context file (default: <oneshot-id>.context.json in the working directory)"},
		&cli.StringFlag{Name: "session-log", Usage: "path to the activity log file (default: <oneshot-id>.ndjson in the working directory)"},
		&cli.BoolFlag{Name: "keep-log", Usage: "keep the activity log after a COMPLETED task"},
		&cli.StringFlag{Name: "binary-path", Usage: "subprocess executor: path to the agent CLI binary"},
		&cli.StringFlag{Name: "work-dir", Usage: "subprocess executor: working directory for the agent and its recovery forensics"},
		&cli.StringFlag{Name: "endpoint", Usage: "direct-http executor: agent HTTP endpoint"},
		&cli.StringFlag{Name: "api-key", Usage: "direct-http executor: bearer API key", EnvVars: []string{"ONESHOT_API_KEY"}},
		&cli.StringFlag{Name: "notify-webhook", Usage: "POST the task-completion event to this URL"},
		&cli.StringFlag{Name: "notify-redis", Usage: "PUBLISH the task-completion event to this Redis URL"},
		&cli.StringFlag{Name: "archive-dir", Usage: "write a Lode archive record rooted at this directory on completion"},
		&cli.StringFlag{Name: "archive-s3-bucket", Usage: "write a Lode archive record to this S3 bucket on completion, instead of --archive-dir"},
		&cli.StringFlag{Name: "archive-s3-prefix", Usage: "key prefix within --archive-s3-bucket"},
		&cli.StringFlag{Name: "archive-s3-region", Usage: "AWS region for --archive-s3-bucket"},
		&cli.StringFlag{Name: "archive-s3-endpoint", Usage: "custom S3 endpoint for S3-compatible providers (R2, MinIO)"},
		&cli.BoolFlag{Name: "archive-s3-path-style", Usage: "force path-style S3 addressing, required by most S3-compatible providers"},
		&cli.StringFlag{Name: "oneshot-id", Usage: "override the generated task identity"},
	}
}

func runAction(c *cli.Context) error {
	instruction := c.Args().First()
	if instruction == "" {
		return cli.Exit("oneshot: an instruction argument is required", exitSetupError)
	}

	settings, err := resolveSettings(c)
	if err != nil {
		return cli.Exit(err.Error(), exitSetupError)
	}

	oneshotID := c.String("oneshot-id")
	if oneshotID == "" {
		oneshotID = "oneshot-" + uuid.New().String()
	}

	contextPath := settings.Session
	if contextPath == "" {
		contextPath = oneshotID + ".context.json"
	}
	sessionLogPath := settings.SessionLog
	if sessionLogPath == "" {
		sessionLogPath = oneshotID + ".ndjson"
	}

	if !settings.Resume {
		if _, err := os.Stat(contextPath); err == nil {
			return cli.Exit(fmt.Sprintf("oneshot: %s already exists; pass --resume to continue it", contextPath), exitSetupError)
		}
	}

	durable, err := durablectx.LoadWithMaxIterations(contextPath, oneshotID, instruction, settings.MaxIterations, time.Now)
	if err != nil {
		return cli.Exit(err.Error(), exitSetupError)
	}

	sessionLog, err := engine.OpenSessionLog(sessionLogPath)
	if err != nil {
		return cli.Exit(err.Error(), exitSetupError)
	}

	reg, err := buildRegistry(settings, "worker", settings.WorkerModel)
	if err != nil {
		return cli.Exit(err.Error(), exitSetupError)
	}
	worker, err := reg.Get(settings.Executor.Name)
	if err != nil {
		return cli.Exit(err.Error(), exitSetupError)
	}

	auditorReg, err := buildRegistry(settings, "auditor", settings.AuditorModel)
	if err != nil {
		return cli.Exit(err.Error(), exitSetupError)
	}
	auditor, err := auditorReg.Get(settings.Executor.Name)
	if err != nil {
		return cli.Exit(err.Error(), exitSetupError)
	}

	logger := log.NewLogger(log.Identity{OneshotID: oneshotID, Executor: settings.Executor.Name})
	metricsCollector := metrics.NewCollector(settings.Executor.Name, oneshotID, "")

	notifier, err := buildNotifier(c)
	if err != nil {
		return cli.Exit(err.Error(), exitSetupError)
	}
	archiver, err := buildArchiver(c)
	if err != nil {
		return cli.Exit(err.Error(), exitSetupError)
	}

	eng := engine.New(
		engine.Config{
			InactivityTimeout:   settings.InitialTimeout,
			KeepLog:             settings.KeepLog,
			ArchiveExecutorName: settings.Executor.Name,
		},
		durable,
		worker,
		auditor,
		sessionLog,
		nil,
		logger,
		metricsCollector,
		notifier,
		archiver,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		eng.Interrupt()
		cancel()
	}()

	finalState, err := eng.Run(ctx)
	if err != nil {
		return cli.Exit(fmt.Sprintf("oneshot: %v", err), exitSetupError)
	}

	fmt.Printf("oneshot_id=%s state=%s iterations=%d\n", oneshotID, finalState, durable.GetIterationCount())

	if finalState == task.StateCompleted {
		return cli.Exit("", exitCompleted)
	}
	return cli.Exit("", exitNotCompleted)
}

// settings is the fully merged view of one run's tunables: a config file
// (if --config points at one) provides defaults, every CLI flag the user
// actually set overrides it.
type settings struct {
	MaxIterations    int
	Executor         config.ExecutorConfig
	WorkerModel      string
	AuditorModel     string
	InitialTimeout   time.Duration
	MaxTimeout       time.Duration
	ActivityInterval time.Duration
	Resume           bool
	Session          string
	SessionLog       string
	KeepLog          bool
}

func resolveSettings(c *cli.Context) (*settings, error) {
	s := &settings{
		MaxIterations:    durablectx.DefaultMaxIterations,
		Executor:         config.ExecutorConfig{Name: "subprocess"},
		InitialTimeout:   120 * time.Second,
		MaxTimeout:       300 * time.Second,
		ActivityInterval: 500 * time.Millisecond,
	}

	if path := c.String("config"); path != "" {
		fileCfg, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		if fileCfg.MaxIterations > 0 {
			s.MaxIterations = fileCfg.MaxIterations
		}
		if fileCfg.Executor.Name != "" {
			s.Executor = fileCfg.Executor
		}
		if fileCfg.InitialTimeout.Duration > 0 {
			s.InitialTimeout = fileCfg.InitialTimeout.Duration
		}
		if fileCfg.MaxTimeout.Duration > 0 {
			s.MaxTimeout = fileCfg.MaxTimeout.Duration
		}
		if fileCfg.ActivityInterval.Duration > 0 {
			s.ActivityInterval = fileCfg.ActivityInterval.Duration
		}
		s.Resume = fileCfg.Resume
		s.Session = fileCfg.Session
		s.SessionLog = fileCfg.SessionLog
		s.KeepLog = fileCfg.KeepLog
		s.WorkerModel = fileCfg.WorkerModel
		s.AuditorModel = fileCfg.AuditorModel
	}

	if c.IsSet("max-iterations") {
		s.MaxIterations = c.Int("max-iterations")
	}
	if c.IsSet("executor") {
		s.Executor.Name = c.String("executor")
	}
	if c.IsSet("initial-timeout") {
		s.InitialTimeout = c.Duration("initial-timeout")
	}
	if c.IsSet("max-timeout") {
		s.MaxTimeout = c.Duration("max-timeout")
	}
	if c.IsSet("activity-interval") {
		s.ActivityInterval = c.Duration("activity-interval")
	}
	if c.IsSet("resume") {
		s.Resume = c.Bool("resume")
	}
	if c.IsSet("session") {
		s.Session = c.String("session")
	}
	if c.IsSet("session-log") {
		s.SessionLog = c.String("session-log")
	}
	if c.IsSet("keep-log") {
		s.KeepLog = c.Bool("keep-log")
	}
	if c.IsSet("binary-path") {
		s.Executor.Kind = "subprocess"
		s.Executor.BinaryPath = c.String("binary-path")
		s.Executor.WorkDir = c.String("work-dir")
	}
	if c.IsSet("endpoint") {
		s.Executor.Kind = "direct_http"
		s.Executor.Endpoint = c.String("endpoint")
		s.Executor.APIKey = c.String("api-key")
	}
	if c.IsSet("worker-model") {
		s.WorkerModel = c.String("worker-model")
	}
	if c.IsSet("auditor-model") {
		s.AuditorModel = c.String("auditor-model")
	}

	return s, nil
}

// buildRegistry builds a single-entry registry for one role ("worker" or
// "auditor"), so each gets its own executor instance even though both
// share settings.Executor's transport configuration — the two may be
// given distinct models via --worker-model/--auditor-model.
func buildRegistry(s *settings, role, model string) (*registry.Registry, error) {
	name := s.Executor.Name
	exCfg := s.Executor
	maxTimeout := s.MaxTimeout
	return registry.New(map[string]registry.Constructor{
		name: func() (executor.Executor, error) {
			switch exCfg.Kind {
			case "direct_http":
				return executor.NewDirectHTTPExecutor(executor.DirectHTTPConfig{
					Name:     name + "_" + role,
					Endpoint: exCfg.Endpoint,
					APIKey:   exCfg.APIKey,
					Timeout:  maxTimeout,
					Model:    model,
				}), nil
			case "subprocess", "":
				workDir := exCfg.WorkDir
				if workDir == "" {
					var err error
					workDir, err = os.Getwd()
					if err != nil {
						return nil, err
					}
				}
				if exCfg.BinaryPath == "" {
					return nil, fmt.Errorf("oneshot: --binary-path is required for subprocess executor %q", name)
				}
				return executor.NewSubprocessExecutor(executor.SubprocessConfig{
					Name:       name,
					BinaryPath: exCfg.BinaryPath,
					Args:       exCfg.Args,
					WorkDir:    workDir,
				}), nil
			default:
				return nil, fmt.Errorf("oneshot: unknown executor kind %q", exCfg.Kind)
			}
		},
	}), nil
}

func buildNotifier(c *cli.Context) (notify.Notifier, error) {
	switch {
	case c.String("notify-webhook") != "":
		return nwebhook.New(nwebhook.Config{URL: c.String("notify-webhook")})
	case c.String("notify-redis") != "":
		return nredis.New(nredis.Config{URL: c.String("notify-redis")})
	default:
		return nil, nil
	}
}

func buildArchiver(c *cli.Context) (*archive.Archiver, error) {
	if bucket := c.String("archive-s3-bucket"); bucket != "" {
		return archive.NewS3(archive.DefaultDataset, archive.S3Config{
			Bucket:       bucket,
			Prefix:       c.String("archive-s3-prefix"),
			Region:       c.String("archive-s3-region"),
			Endpoint:     c.String("archive-s3-endpoint"),
			UsePathStyle: c.Bool("archive-s3-path-style"),
		})
	}
	dir := c.String("archive-dir")
	if dir == "" {
		return nil, nil
	}
	return archive.NewFS(archive.DefaultDataset, filepath.Clean(dir))
}
