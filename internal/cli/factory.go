package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/aretw0/tendril"
	"github.com/aretw0/tendril/internal/config"
	"github.com/aretw0/tendril/pkg/adapters/blob"
	"github.com/aretw0/tendril/pkg/adapters/file"
	httpAdapter "github.com/aretw0/tendril/pkg/adapters/http"
	"github.com/aretw0/tendril/pkg/adapters/memory"
	"github.com/aretw0/tendril/pkg/adapters/process"
	"github.com/aretw0/tendril/pkg/adapters/redis"
	"github.com/aretw0/tendril/pkg/adapters/sqlite"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/loader"
	"github.com/aretw0/tendril/pkg/observability"
	"github.com/aretw0/tendril/pkg/persistence/middleware"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
)

// DefaultPIIPatterns are the variable keys masked when MaskPII is set.
var DefaultPIIPatterns = []string{`(?i)password`, `(?i)secret`, `(?i)token`, `(?i)card`, `(?i)email`, `(?i)ssn`}

// Host bundles an engine with the infrastructure it was built on.
type Host struct {
	Engine   *tendril.Engine
	Registry *prometheus.Registry
	Streams  *httpAdapter.StreamManager

	closers []func() error
}

// Close releases stores and buckets in reverse order of creation.
func (h *Host) Close() error {
	var errs []error
	for i := len(h.closers) - 1; i >= 0; i-- {
		errs = append(errs, h.closers[i]())
	}
	h.closers = nil
	return errors.Join(errs...)
}

// BuildHost wires an engine from cfg: flows from cfg.FlowPaths, the
// configured state store and its middleware, checkpoints, external tools,
// metrics, tracing and audit logging.
func BuildHost(ctx context.Context, cfg *config.Config, logger *slog.Logger, extra ...tendril.Option) (*Host, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.FlowPaths) == 0 {
		return nil, errors.New("no flow paths configured")
	}

	h := &Host{
		Registry: prometheus.NewRegistry(),
		Streams:  httpAdapter.NewStreamManager(),
	}
	ok := false
	defer func() {
		if !ok {
			_ = h.Close()
		}
	}()

	store, locker, err := h.openStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	h.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := observability.NewMetrics(h.Registry)
	if err != nil {
		return nil, err
	}

	opts := []tendril.Option{
		tendril.WithLogger(logger),
		tendril.WithStore(store),
		tendril.WithListeners(domain.MergeListeners(
			metrics.Listeners(),
			observability.Tracing(otel.Tracer(observability.TracerName)),
			observability.Audit(logger),
			h.Streams.Listeners(),
		)),
	}
	if locker != nil {
		opts = append(opts, tendril.WithLocker(locker, cfg.LockTTL))
	}

	if cfg.CheckpointURL != "" {
		cps, err := blob.Open(ctx, cfg.CheckpointURL, blob.DefaultPrefix)
		if err != nil {
			return nil, err
		}
		h.closers = append(h.closers, cps.Close)
		opts = append(opts, tendril.WithCheckpoints(cps))
	} else {
		opts = append(opts, tendril.WithCheckpoints(memory.NewCheckpoints()))
	}

	toolOpts, err := loadTools(cfg, logger)
	if err != nil {
		return nil, err
	}
	opts = append(opts, toolOpts...)
	opts = append(opts, extra...)

	eng, err := tendril.NewFromSource(ctx, loader.NewSource(cfg.FlowPaths...), opts...)
	if err != nil {
		return nil, err
	}
	h.Engine = eng
	ok = true
	return h, nil
}

// openStore builds the configured state store, wrapped in the logging,
// masking and encryption middleware. The encryption layer is innermost so
// masking sees plaintext.
func (h *Host) openStore(cfg *config.Config, logger *slog.Logger) (ports.StateStore, ports.DistributedLocker, error) {
	var (
		store  ports.StateStore
		locker ports.DistributedLocker
	)
	switch cfg.Store {
	case config.StoreMemory:
		store = memory.NewStore()
	case config.StoreFile:
		store = file.New(cfg.FileDir)
	case config.StoreRedis:
		prefix := cfg.Redis.Prefix + ":"
		rs := redis.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			redis.WithPrefix(prefix+"process:"), redis.WithTTL(cfg.Redis.TTL))
		h.closers = append(h.closers, rs.Close)
		store = rs
		locker = redis.NewLocker(rs.Client(), prefix)
	case config.StoreSQLite:
		ss, err := sqlite.Open(cfg.SQLiteDSN)
		if err != nil {
			return nil, nil, err
		}
		h.closers = append(h.closers, ss.Close)
		store = ss
	default:
		return nil, nil, fmt.Errorf("%w: %s", config.ErrInvalidStore, cfg.Store)
	}

	mws := []middleware.Middleware{middleware.NewLoggingMiddleware(logger)}
	if cfg.MaskPII {
		mws = append(mws, middleware.NewPIIMiddleware(DefaultPIIPatterns))
	}
	key, err := cfg.Key()
	if err != nil {
		return nil, nil, err
	}
	if key != nil {
		mws = append(mws, middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key}))
	}
	return middleware.Chain(store, mws...), locker, nil
}

// loadTools registers the tools file as tasks. A relative default path is
// also looked up next to the first flow path.
func loadTools(cfg *config.Config, logger *slog.Logger) ([]tendril.Option, error) {
	path := cfg.ToolsPath
	if path == "" {
		return nil, nil
	}
	tools, err := process.LoadTools(path)
	if err != nil {
		return nil, err
	}
	if len(tools) == 0 && path == config.DefaultToolsPath {
		base := cfg.FlowPaths[0]
		if filepath.Ext(base) != "" {
			base = filepath.Dir(base)
		}
		if tools, err = process.LoadTools(filepath.Join(base, path)); err != nil {
			return nil, err
		}
	}
	if len(tools) == 0 {
		return nil, nil
	}

	runner := process.NewRunner(process.WithTools(tools...), process.WithLogger(logger))
	opts := make([]tendril.Option, 0, len(tools))
	for name, fn := range runner.Tasks() {
		opts = append(opts, tendril.WithTask(name, fn))
	}
	logger.Debug("Process tools registered", "tools", runner.Names())
	return opts, nil
}
