package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/ent0n29/runcoach/internal/archive"
	"github.com/ent0n29/runcoach/internal/coach"
	"github.com/ent0n29/runcoach/internal/config"
	"github.com/ent0n29/runcoach/internal/httpapi"
	"github.com/ent0n29/runcoach/internal/llm"
	"github.com/ent0n29/runcoach/internal/logging"
	"github.com/ent0n29/runcoach/internal/memory"
	"github.com/ent0n29/runcoach/internal/observability"
	"github.com/ent0n29/runcoach/internal/session"
	"github.com/ent0n29/runcoach/internal/store"
	"github.com/ent0n29/runcoach/internal/versioning"
)

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Store        store.Store
	Versions     *versioning.Manager
	Orchestrator *coach.Orchestrator
	Resetter     *session.Resetter
	Archive      *archive.S3Archiver
	Generator    llm.Generator
	Metrics      *observability.Metrics

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	log := logging.Component("app")
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	st, err := store.NewStore(ctx, cfg.DatabaseURL, cfg.MongoDatabase)
	if err != nil {
		return nil, fmt.Errorf("store init failed: %w", err)
	}

	gen, err := llm.NewGenerator(ctx, llm.Config{
		Mode:          cfg.GeneratorMode,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIModel:   cfg.OpenAIModel,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		GeminiAPIKey:  cfg.GeminiAPIKey,
		GeminiModel:   cfg.GeminiModel,
		HTTPURL:       cfg.GeneratorHTTPURL,
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("generator init failed: %w", err)
	}

	var opts []versioning.Option
	var arch *archive.S3Archiver
	archiveCfg := archive.Config{
		Bucket:          cfg.ArchiveBucket,
		Endpoint:        cfg.ArchiveEndpoint,
		Region:          cfg.ArchiveRegion,
		AccessKeyID:     cfg.ArchiveAccessKeyID,
		SecretAccessKey: cfg.ArchiveSecretAccessKey,
	}
	if archiveCfg.Enabled() {
		arch, err = archive.NewS3Archiver(ctx, archiveCfg, metrics)
		if err != nil && !errors.Is(err, archive.ErrDisabled) {
			_ = st.Close()
			return nil, fmt.Errorf("archive init failed: %w", err)
		}
		if arch != nil {
			opts = append(opts, versioning.WithCommitHook(arch.Put))
		}
	}

	versions := versioning.NewManager(st, metrics, opts...)
	resetter := session.NewResetter(st, versions, metrics)
	if arch != nil {
		resetter.AddResetHook(arch.Purge)
	}

	orchestrator := coach.NewOrchestrator(
		st,
		versions,
		memory.NewFilter(st),
		gen,
		metrics,
		coach.Config{
			HistoryLimit: cfg.ContextHistoryLimit,
			Timeout:      cfg.GenerationTimeout,
			MaxTokens:    cfg.GenerationMaxTokens,
			Temperature:  &cfg.GenerationTemperature,
		},
	)

	deps := httpapi.Deps{
		Turns:     orchestrator,
		Plans:     versions,
		Sessions:  resetter,
		Backend:   st,
		Generator: gen.Name(),
		Metrics:   metrics,
	}
	if arch != nil {
		deps.Exporter = arch
	}
	api := httpapi.New(cfg, deps)

	log.Info().
		Str("store", st.Mode()).
		Str("generator", gen.Name()).
		Bool("archive", arch != nil).
		Msg("runcoach wired")

	cleanup := func() error {
		var errs []error
		if err := st.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
		return errors.Join(errs...)
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Store:        st,
		Versions:     versions,
		Orchestrator: orchestrator,
		Resetter:     resetter,
		Archive:      arch,
		Generator:    gen,
		Metrics:      metrics,
		Cleanup:      cleanup,
	}, nil
}
