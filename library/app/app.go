package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Astemirdum/library-desk/library/config"
	"github.com/Astemirdum/library-desk/library/internal/handler"
	"github.com/Astemirdum/library-desk/library/internal/queue"
	"github.com/Astemirdum/library-desk/library/internal/repository"
	"github.com/Astemirdum/library-desk/library/internal/server"
	"github.com/Astemirdum/library-desk/library/internal/service"
	"github.com/Astemirdum/library-desk/library/migrations"
	"github.com/Astemirdum/library-desk/pkg/circuit_breaker"
	"github.com/Astemirdum/library-desk/pkg/kafka"
	"github.com/Astemirdum/library-desk/pkg/logger"
	"github.com/Astemirdum/library-desk/pkg/postgres"
	"github.com/Astemirdum/library-desk/pkg/sqlite"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func Run(cfg config.Config) {
	log := logger.NewLogger(cfg.Log, "library")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, dialect, err := openDB(ctx, cfg)
	if err != nil {
		log.Fatal("db init", zap.String("driver", cfg.Driver), zap.Error(err))
	}
	defer db.Close()

	repo, err := repository.NewRepository(db, dialect, log)
	if err != nil {
		log.Fatal("repo", zap.Error(err))
	}

	publisher, closePublisher := newPublisher(cfg.Kafka, log)
	defer closePublisher()

	svc := service.NewService(repo, log,
		service.WithPolicy(cfg.Policy.Model()),
		service.WithPublisher(publisher),
	)
	h := handler.New(svc, log)
	srv := server.NewServer(cfg.Server, h.NewRouter())

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server start ON: ", zap.String("addr", srv.Addr()))
		return srv.Run()
	})
	g.Go(func() error {
		<-gCtx.Done()
		log.Debug("Graceful shutdown")

		closeCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()
		return srv.Stop(closeCtx)
	})
	if err = g.Wait(); err != nil {
		log.Error("server run", zap.Error(err))
	}
	log.Info("Graceful shutdown finished")
}

func openDB(ctx context.Context, cfg config.Config) (*sqlx.DB, repository.Dialect, error) {
	if cfg.Driver == config.DriverPostgres {
		db, err := postgres.NewPostgresDB(ctx, &cfg.Postgres, migrations.MigrationFiles, migrations.PostgresDir)
		return db, repository.PostgresDialect(), err
	}
	db, err := sqlite.NewSQLiteDB(ctx, &cfg.SQLite, migrations.MigrationFiles, migrations.SQLiteDir)
	return db, repository.SQLiteDialect(), err
}

// newPublisher falls back to dropping events when kafka is not configured or unreachable.
func newPublisher(cfg kafka.Config, log *zap.Logger) (queue.Publisher, func()) {
	if !cfg.Enabled() {
		log.Info("kafka is not configured, loan events are not published")
		return queue.Noop{}, func() {}
	}
	producer, err := kafka.NewProducer(cfg)
	if err != nil {
		log.Error("kafka.NewProducer", zap.Strings("addrs", cfg.Addrs), zap.Error(err))
		return queue.Noop{}, func() {}
	}
	const (
		windowSize       = 20
		cooldown         = 30 * time.Second
		failureThreshold = 0.5
		recoveryRequests = 3
	)
	cb := circuit_breaker.New(windowSize, cooldown, failureThreshold, recoveryRequests)
	return queue.NewKafkaPublisher(producer, cfg.Topic, cb, log), func() {
		if err := producer.Close(); err != nil {
			log.Warn("producer.Close", zap.Error(err))
		}
	}
}
