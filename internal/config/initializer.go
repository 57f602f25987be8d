package config

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/xitongsys/parquet-go/parquet"
	"go.uber.org/zap"

	"github.com/turbolytics/pimsync/internal/archive"
	"github.com/turbolytics/pimsync/internal/integrations/kafka"
	"github.com/turbolytics/pimsync/internal/integrations/mongo"
	"github.com/turbolytics/pimsync/internal/integrations/postgres"
	"github.com/turbolytics/pimsync/internal/local"
	pq "github.com/turbolytics/pimsync/internal/parquet"
	"github.com/turbolytics/pimsync/internal/preserver"
	"github.com/turbolytics/pimsync/internal/s3"
	"github.com/turbolytics/pimsync/pkg/importer"
	"github.com/turbolytics/pimsync/pkg/inriver"
)

// CloseFunc releases a connection opened by an initializer.
type CloseFunc func(ctx context.Context) error

func noopClose(ctx context.Context) error { return nil }

// NewLogger builds the process logger. debug uses the development encoder.
func NewLogger(level string) (*zap.Logger, error) {
	if strings.EqualFold(level, "debug") {
		return zap.NewDevelopment()
	}

	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	return cfg.Build()
}

func InitializeClient(p *Pimsync, logger *zap.Logger) (*inriver.Client, error) {
	return inriver.NewClient(
		inriver.Config{
			APIKey:    p.Inriver.APIKey,
			APIURL:    p.Inriver.APIURL,
			ChannelID: p.Inriver.ChannelID,
		},
		inriver.WithLogger(logger.Named("inriver")),
		inriver.WithRateLimit(rateOrDefault(p.Inriver.RateLimit), p.Inriver.Burst),
	)
}

func rateOrDefault(r float64) float64 {
	if r == 0 {
		return 10
	}
	return r
}

// InitializeJob resolves a preset with the configured overrides.
func InitializeJob(p *Pimsync, name string) (importer.Job, error) {
	var job importer.Job
	var o Job
	switch name {
	case "historical":
		job, o = importer.Historical, p.Jobs.Historical
	case "nightly":
		job, o = importer.Nightly, p.Jobs.Nightly.Job
	default:
		return importer.Job{}, fmt.Errorf("unknown job: %q", name)
	}

	if o.RetryCeiling > 0 {
		job.RetryCeiling = o.RetryCeiling
	}
	if o.BackoffUnit > 0 {
		job.BackoffUnit = o.BackoffUnit
	}
	if o.PageSize > 0 {
		job.PageSize = o.PageSize
	}
	if o.ObjectType != "" {
		job.ObjectType = o.ObjectType
	}
	return job, nil
}

func InitializeSink(ctx context.Context, p *Pimsync, logger *zap.Logger) (importer.Sink, CloseFunc, error) {
	l := logger.Named("sink")

	switch p.Sink.Type {
	case "stdout":
		return preserver.NewStdout(l), noopClose, nil

	case "kafka":
		uri, err := url.Parse(p.Sink.URI)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid sink uri: %w", err)
		}
		s, err := kafka.NewSink(uri, l)
		if err != nil {
			return nil, nil, err
		}
		if err := s.Connect(ctx); err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case "mongo":
		uri, err := url.Parse(p.Sink.URI)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid sink uri: %w", err)
		}
		s, err := mongo.NewSink(uri, l)
		if err != nil {
			return nil, nil, err
		}
		if err := s.Connect(ctx); err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case "archive":
		s, err := initializeArchive(p.Sink.Archive, l)
		if err != nil {
			return nil, nil, err
		}
		return s, noopClose, nil
	}

	return nil, nil, fmt.Errorf("unsupported sink type: %q", p.Sink.Type)
}

func initializeArchive(a Archive, logger *zap.Logger) (*archive.Sink, error) {
	var repo archive.Repository
	switch a.Repository.Type {
	case "", "local":
		path := a.Repository.Path
		if path == "" {
			path = "./dev/archive"
		}
		repo = local.New(path,
			local.WithPrefix(a.Repository.Prefix),
			local.WithLogger(logger))
	case "s3":
		r, err := s3.New(
			s3.WithBucket(a.Repository.Bucket),
			s3.WithRegion(a.Repository.Region),
			s3.WithPrefix(a.Repository.Prefix),
			s3.WithEndpoint(a.Repository.Endpoint),
			s3.WithForcePathStyle(a.Repository.ForcePathStyle),
			s3.WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		repo = r
	default:
		return nil, fmt.Errorf("unsupported archive repository: %q", a.Repository.Type)
	}

	encOpts := []pq.Option{pq.WithLogger(logger)}
	if a.Compression != "" {
		codec, err := parquet.CompressionCodecFromString(strings.ToUpper(a.Compression))
		if err != nil {
			return nil, err
		}
		encOpts = append(encOpts, pq.WithCompression(codec))
	}

	return archive.New(
		archive.WithLogger(logger),
		archive.WithRepository(repo),
		archive.WithEncoder(pq.New(encOpts...)),
	)
}

func InitializeCheckpointer(ctx context.Context, p *Pimsync, logger *zap.Logger) (importer.Checkpointer, CloseFunc, error) {
	l := logger.Named("checkpointer")

	switch p.Checkpointer.Type {
	case "noop":
		return &importer.NoopCheckpointer{}, noopClose, nil

	case "filesystem":
		return importer.NewFilesystemCheckpointer(p.Checkpointer.Path, l), noopClose, nil

	case "postgres":
		uri, err := url.Parse(p.Checkpointer.URI)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid checkpointer uri: %w", err)
		}
		c, err := postgres.NewCheckpointer(ctx, uri, l)
		if err != nil {
			return nil, nil, err
		}
		return c, func(context.Context) error {
			c.Close()
			return nil
		}, nil

	case "mongo":
		uri, err := url.Parse(p.Checkpointer.URI)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid checkpointer uri: %w", err)
		}
		c, err := mongo.NewCheckpointer(ctx, uri, l)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	}

	return nil, nil, fmt.Errorf("unsupported checkpointer type: %q", p.Checkpointer.Type)
}

func InitializeNotifier(ctx context.Context, p *Pimsync, logger *zap.Logger) (importer.Notifier, CloseFunc, error) {
	l := logger.Named("notifier")

	switch p.Notifier.Type {
	case "log":
		return importer.NewLogNotifier(l), noopClose, nil

	case "kafka":
		uri, err := url.Parse(p.Notifier.URI)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid notifier uri: %w", err)
		}
		n, err := kafka.NewNotifier(uri, l)
		if err != nil {
			return nil, nil, err
		}
		if err := n.Connect(ctx); err != nil {
			return nil, nil, err
		}
		return n, n.Close, nil
	}

	return nil, nil, fmt.Errorf("unsupported notifier type: %q", p.Notifier.Type)
}

// Stack holds everything a job needs. Close releases it in reverse order.
type Stack struct {
	Client       *inriver.Client
	Sink         importer.Sink
	Checkpointer importer.Checkpointer
	Notifier     importer.Notifier

	closers []CloseFunc
}

func (s *Stack) Close(ctx context.Context) error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}

// InitializeStack connects the client, sink, checkpointer and notifier.
func InitializeStack(ctx context.Context, p *Pimsync, logger *zap.Logger) (*Stack, error) {
	client, err := InitializeClient(p, logger)
	if err != nil {
		return nil, err
	}
	s := &Stack{Client: client}

	sink, closeSink, err := InitializeSink(ctx, p, logger)
	if err != nil {
		return nil, err
	}
	s.Sink = sink
	s.closers = append(s.closers, closeSink)

	checkpointer, closeCheckpointer, err := InitializeCheckpointer(ctx, p, logger)
	if err != nil {
		s.Close(ctx)
		return nil, err
	}
	s.Checkpointer = checkpointer
	s.closers = append(s.closers, closeCheckpointer)

	notifier, closeNotifier, err := InitializeNotifier(ctx, p, logger)
	if err != nil {
		s.Close(ctx)
		return nil, err
	}
	s.Notifier = notifier
	s.closers = append(s.closers, closeNotifier)

	return s, nil
}

// InitializeImporter builds the engine for a job. The run id defaults to
// the job name so an interrupted run resumes on the next invocation.
func InitializeImporter(p *Pimsync, s *Stack, jobName, runID string, logger *zap.Logger) (*importer.Importer, error) {
	job, err := InitializeJob(p, jobName)
	if err != nil {
		return nil, err
	}
	if runID == "" {
		runID = jobName
	}

	return importer.New(
		importer.WithID(runID),
		importer.WithLogger(logger.Named("importer")),
		importer.WithJob(job),
		importer.WithSource(s.Client),
		importer.WithSink(s.Sink),
		importer.WithCheckpointer(s.Checkpointer),
		importer.WithNotifier(s.Notifier),
		importer.WithChannelID(p.Inriver.ChannelID),
	)
}
