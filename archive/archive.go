// Package archive writes completed-task artifacts (the final context
// snapshot, the full activity log, and the worker/auditor results) to a
// Lode dataset for durable, queryable storage after a task reaches a
// terminal state.
//
// The dataset is Hive-partitioned by executor, day, and oneshot_id: the
// executor name and the task's own identity are the natural partitions.
package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/justapithecus/lode/lode"
	lodes3 "github.com/justapithecus/lode/lode/s3"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/justapithecus/oneshot/task"
)

// DefaultDataset is the default Lode dataset name for task archives.
const DefaultDataset = "oneshot"

// partitionKeys is the Hive partition layout: executor, day, oneshot_id.
var partitionKeys = []string{"executor", "day", "oneshot_id"}

// DeriveDay computes the partition day from a task's completion time.
// Format: YYYY-MM-DD in UTC.
func DeriveDay(completedAt time.Time) string {
	return completedAt.UTC().Format("2006-01-02")
}

// Record is one archived task: its final state snapshot plus the full
// activity log for the most recent Worker and Auditor runs, msgpack-encoded
// before the Lode write.
type Record struct {
	OneshotID     string            `msgpack:"oneshot_id"`
	Executor      string            `msgpack:"executor"`
	Day           string            `msgpack:"day"`
	FinalState    task.State        `msgpack:"final_state"`
	IterationsRun int               `msgpack:"iterations_run"`
	WorkerResult  *string           `msgpack:"worker_result"`
	AuditorResult *string           `msgpack:"auditor_result"`
	History       []task.HistoryEntry `msgpack:"history"`
	ActivityLog   []byte            `msgpack:"activity_log"` // raw NDJSON bytes
}

// Archiver writes completed task records to a Lode dataset.
type Archiver struct {
	dataset lode.Dataset
}

// New builds an Archiver over dataset, backed by the store factory (e.g.
// lode.NewFSFactory(root) or an S3-backed factory); tests inject
// lode.NewMemoryFactory.
func New(dataset string, factory lode.StoreFactory) (*Archiver, error) {
	ds, err := lode.NewDataset(
		lode.DatasetID(dataset),
		factory,
		lode.WithHiveLayout(partitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
	if err != nil {
		return nil, fmt.Errorf("archive: open dataset %q: %w", dataset, err)
	}
	return &Archiver{dataset: ds}, nil
}

// NewFS builds an Archiver with filesystem-backed storage rooted at root.
func NewFS(dataset, root string) (*Archiver, error) {
	return New(dataset, lode.NewFSFactory(root))
}

// S3Config holds the S3 storage backend configuration for NewS3.
type S3Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string
	// Prefix is the key prefix within the bucket (optional).
	Prefix string
	// Region is the AWS region (optional, uses the default chain if empty).
	Region string
	// Endpoint is a custom S3 endpoint URL for S3-compatible providers
	// (e.g. Cloudflare R2, MinIO). Empty uses the default AWS endpoint.
	Endpoint string
	// UsePathStyle forces path-style addressing, required by most
	// S3-compatible providers.
	UsePathStyle bool
}

func (c *S3Config) validate() error {
	if c.Bucket == "" {
		return errors.New("archive: S3 bucket is required")
	}
	return nil
}

// NewS3 builds an Archiver with S3-backed storage, for deployments that
// archive across hosts rather than to local disk. Uses the AWS SDK's
// default credential chain (env vars, shared config, IAM role).
func NewS3(dataset string, s3cfg S3Config) (*Archiver, error) {
	if err := s3cfg.validate(); err != nil {
		return nil, err
	}

	ctx := context.Background()
	var opts []func(*config.LoadOptions) error
	if s3cfg.Region != "" {
		opts = append(opts, config.WithRegion(s3cfg.Region))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if s3cfg.Endpoint != "" {
		endpoint := s3cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if s3cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	s3Client := s3.NewFromConfig(awsConfig, s3Opts...)

	factory := func() (lode.Store, error) {
		return lodes3.New(s3Client, lodes3.Config{
			Bucket: s3cfg.Bucket,
			Prefix: s3cfg.Prefix,
		})
	}
	return New(dataset, factory)
}

// Write persists rec as one Hive-partitioned record. The record body is
// msgpack-encoded and stored as the record's "body" field; partition keys
// are carried alongside as plain map fields so Lode's HiveLayout can route
// the write without decoding the body.
func (a *Archiver) Write(ctx context.Context, rec Record) error {
	body, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("archive: marshal record: %w", err)
	}

	row := map[string]any{
		"oneshot_id": rec.OneshotID,
		"executor":   rec.Executor,
		"day":        rec.Day,
		"body":       body,
	}

	if _, err := a.dataset.Write(ctx, []any{row}, lode.Metadata{}); err != nil {
		return fmt.Errorf("archive: write dataset: %w", err)
	}
	return nil
}

// BuildRecord assembles a Record from a task snapshot, the executor name
// that ran the final Worker iteration, and the raw activity-log bytes.
func BuildRecord(snap task.Record, executorName string, activityLog []byte, now time.Time) Record {
	return Record{
		OneshotID:     snap.OneshotID,
		Executor:      executorName,
		Day:           DeriveDay(now),
		FinalState:    snap.State,
		IterationsRun: snap.IterationCount,
		WorkerResult:  snap.WorkerResult,
		AuditorResult: snap.AuditorResult,
		History:       snap.History,
		ActivityLog:   activityLog,
	}
}
