// Package server wires the sharedrop server: storage backends, services,
// the public HTTP API, the gRPC health endpoint and the reconciliation loop.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/sharedrop/internal/logging"
	"github.com/dmitrijs2005/sharedrop/internal/server/config"
	"github.com/dmitrijs2005/sharedrop/internal/server/httpapi"
	"github.com/dmitrijs2005/sharedrop/internal/server/notify"
	"github.com/dmitrijs2005/sharedrop/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/sharedrop/internal/server/services"
	"github.com/dmitrijs2005/sharedrop/internal/server/sessions"
	"github.com/dmitrijs2005/sharedrop/internal/server/storage/legacy"
	"github.com/dmitrijs2005/sharedrop/internal/server/storage/objectstore"

	gs "github.com/dmitrijs2005/sharedrop/internal/server/grpc"
)

const healthProbeInterval = 15 * time.Second

type App struct {
	config     *config.Config
	logger     logging.Logger
	db         *sql.DB
	closers    []func() error
	httpServer *httpapi.Server
	health     *gs.HealthServer
	reconciler *services.Reconciler
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)
	app := &App{config: c, logger: logger}

	db, err := repomanager.OpenDB(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	app.db = db
	app.closers = append(app.closers, db.Close)

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		app.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	store, err := objectstore.New(ctx, objectstore.Options{
		AccessKey:    c.S3RootUser,
		SecretKey:    c.S3RootPassword,
		Region:       c.S3Region,
		BaseEndpoint: c.S3BaseEndpoint,
		Bucket:       c.S3Bucket,
	})
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("object store: %w", err)
	}

	probes := []gs.Probe{
		{Name: "database", Check: db.PingContext},
		{Name: "object_store", Check: store.Ping},
	}

	old, probe, err := newLegacyReader(c)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("legacy store: %w", err)
	}
	if probe != nil {
		probes = append(probes, *probe)
	} else {
		logger.Info(ctx, "no legacy store configured")
	}

	var registry sessions.Registry
	if c.RedisAddr != "" {
		rc := sessions.NewRedisClient(c.RedisAddr)
		app.closers = append(app.closers, rc.Close)
		registry = sessions.NewRedisRegistry(rc, sessions.DefaultTTL)
		probes = append(probes, gs.Probe{Name: "redis", Check: func(ctx context.Context) error {
			return rc.Ping(ctx).Err()
		}})
	} else {
		logger.Warn(ctx, "no Redis configured, upload sessions are kept in process")
		registry = sessions.NewMemoryRegistry()
	}

	var notifier notify.Notifier
	if len(c.KafkaBrokers) > 0 {
		w := notify.NewKafkaWriter(c.KafkaBrokers, c.NotificationTopic)
		app.closers = append(app.closers, w.Close)
		notifier = notify.NewKafkaNotifier(w, logger)
	} else {
		notifier = notify.NewLogNotifier(logger)
	}

	multipart := services.NewMultipartService(store, registry, logger)
	transfers := services.NewTransferService(db, rm, store, notifier, c, logger)
	retrieval := services.NewRetrievalService(db, rm, store, old, c, logger)

	handler := httpapi.NewHandler(multipart, transfers, retrieval, logger, c.MaxFileSize)
	app.httpServer = httpapi.NewServer(c.HTTPAddr, httpapi.NewRouter(handler, []byte(c.SecretKey), logger), logger)
	app.health = gs.NewHealthServer(c.HealthAddrGRPC, logger, healthProbeInterval, probes...)
	app.reconciler = services.NewReconciler(db, rm, store, registry, c.PendingGrace, logger)

	return app, nil
}

// newLegacyReader builds the legacy store and its readiness probe. Without an
// endpoint both are nil; the reader is returned as an untyped nil so the
// retrieval engine can tell.
func newLegacyReader(c *config.Config) (services.LegacyReader, *gs.Probe, error) {
	if c.LegacyEndpoint == "" {
		return nil, nil, nil
	}
	st, err := legacy.New(legacy.Options{
		Endpoint:  c.LegacyEndpoint,
		AccessKey: c.LegacyAccessKey,
		SecretKey: c.LegacySecretKey,
		Bucket:    c.LegacyBucket,
		UseSSL:    c.LegacyUseSSL,
	})
	if err != nil {
		return nil, nil, err
	}
	return st, &gs.Probe{Name: "legacy_store", Check: st.Ping}, nil
}

// Close releases every backend handle in reverse order of acquisition.
func (app *App) Close() {
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil {
			app.logger.Error(context.Background(), "close failed", "error", err)
		}
	}
	app.closers = nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// run starts fn and cancels the whole app if it fails.
func (app *App) run(ctx context.Context, cancelFunc context.CancelFunc, wg *sync.WaitGroup, name string, fn func(context.Context) error) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := fn(ctx); err != nil {
			app.logger.Error(ctx, name+" stopped", "error", err)
			cancelFunc()
		}
	}()
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()
	defer app.Close()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	app.run(ctx, cancelFunc, &wg, "http server", app.httpServer.Run)
	app.run(ctx, cancelFunc, &wg, "health server", app.health.Run)

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.reconciler.RunEvery(ctx, app.config.ReconcileInterval)
	}()

	wg.Wait()
	app.logger.Info(context.Background(), "App stopped")
}
