package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jimlawless/whereami"
	config "github.com/snapshop-tech/go-backend/internal/cfg"
	v1Http "github.com/snapshop-tech/go-backend/internal/delivery/v1/http"
	"github.com/snapshop-tech/go-backend/internal/infrastructure/kafka"
	minioInfra "github.com/snapshop-tech/go-backend/internal/infrastructure/minio"
	ml_service "github.com/snapshop-tech/go-backend/internal/infrastructure/ml-service"
	"github.com/snapshop-tech/go-backend/internal/infrastructure/regen"
	s3Repo "github.com/snapshop-tech/go-backend/internal/repository/minio"
	"github.com/snapshop-tech/go-backend/internal/repository/pgdb"
	pgdbConv "github.com/snapshop-tech/go-backend/internal/repository/pgdb/converter"
	qdrantRepo "github.com/snapshop-tech/go-backend/internal/repository/qdrant"
	"github.com/snapshop-tech/go-backend/internal/repository/redis"
	redisConv "github.com/snapshop-tech/go-backend/internal/repository/redis/converter"
	"github.com/snapshop-tech/go-backend/internal/usecase"
	"github.com/snapshop-tech/go-backend/pkg/clients"
	"github.com/snapshop-tech/go-backend/pkg/closer"
	"github.com/snapshop-tech/go-backend/pkg/e"
	"github.com/snapshop-tech/go-backend/pkg/logger"
	"github.com/snapshop-tech/go-backend/pkg/postgres"
)

// App связывает конфигурацию, инфраструктуру и HTTP-поверхность сервиса.
type App struct {
	cfg    *config.Config
	logger logger.Logger
}

func NewApp(cfg *config.Config, logger logger.Logger) (*App, error) {
	return &App{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Run поднимает зависимости, запускает HTTP-сервер и outbox-воркер
// и блокируется до сигнала завершения или фатальной ошибки сервера.
func (a *App) Run() error {
	cfg, log := a.cfg, a.logger

	// Контекст жизни приложения: его отмена начинает остановку фоновых задач
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	cl := closer.NewCloser(2 * time.Second)

	db, err := initPGDB(log, cfg)
	if err != nil {
		log.Errorf(err, "failed to initialize database")
		return err
	}
	cl.Add(func(ctx context.Context) error {
		db.Close()
		return nil
	})

	prConv := pgdbConv.NewProductConverterImpl()
	catConv := pgdbConv.NewCategoryConverterImpl()
	outboxConv := pgdbConv.NewOutboxEventConverterImpl()
	infoConv := redisConv.NewProductInfoConverterImpl()

	productRepo := pgdb.NewProductRepo(db.Pool, prConv)
	categoryRepo := pgdb.NewCategoryRepo(db.Pool, catConv)
	outboxRepo := pgdb.NewOutboxEventRepo(db.Pool, outboxConv)

	minioClient, err := clients.NewMinIOClient(cfg)
	if err != nil {
		log.Errorf(err, "failed to initialize minio client")
		return err
	}

	minioCtx, minioCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := clients.EnsureBucket(minioCtx, minioClient, cfg.Minio.BucketName); err != nil {
		minioCancel()
		log.Errorf(err, "failed to initialize MinIO bucket")
		return err
	}
	minioCancel()

	imageRepo := s3Repo.NewImageRepo(minioClient, cfg.Minio)

	qdrantClient, err := clients.NewQdrantClient(cfg.Qdrant)
	if err != nil {
		log.Errorf(err, "failed to initialize qdrant")
		return err
	}
	qdrantCtx, qdrantCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := clients.EnsureCollection(qdrantCtx, qdrantClient); err != nil {
		qdrantCancel()
		log.Errorf(err, "failed to initialize qdrant collection")
		return err
	}
	qdrantCancel()
	cl.Add(func(ctx context.Context) error {
		return qdrantClient.Client.Close()
	})

	embRepo := qdrantRepo.NewEmbeddingRepo(qdrantClient.Client, cfg.Qdrant)

	redisClient := clients.NewRedisClient(cfg.Redis)
	redisCtx, redisCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(redisCtx); err != nil {
		redisCancel()
		log.Errorf(err, "failed to connect to redis")
		return err
	}
	redisCancel()
	cl.Add(func(ctx context.Context) error {
		return redisClient.Client.Close()
	})

	cacheRepo := redis.NewCacheRepo(redisClient, infoConv, cfg.Redis, log)

	ml := ml_service.NewMLService(cfg.Ml, log)

	imagesInfra := minioInfra.NewMinioInfrastructure(imageRepo, cfg.Minio, log, appCtx)
	cl.Add(imagesInfra.WaitForCleanup)

	producer, err := kafka.NewProducer(log, cfg.Kafka)
	if err != nil {
		log.Errorf(err, "failed to initialize kafka producer")
		return err
	}
	if err := producer.EnsureTopic(10 * time.Second); err != nil {
		log.Errorf(err, "failed to ensure kafka topic")
		return err
	}
	cl.Add(func(ctx context.Context) error {
		return producer.Close()
	})

	catalogUC := usecase.NewCatalogUC(
		productRepo,
		categoryRepo,
		db.Pool,
		ml,
		imagesInfra,
		embRepo,
		outboxRepo,
		cacheRepo,
		log,
		cfg.Qdrant.VectorSize,
	)

	searchUC := usecase.NewSearchUC(
		productRepo,
		embRepo,
		cacheRepo,
		ml,
		imagesInfra,
		log,
	)

	regenWorker := regen.NewWorker(productRepo, catalogUC, cfg.Regen, log)
	regenUC := usecase.NewRegenUC(regenWorker, cfg.Admin.RefreshToken, log)

	outboxWorker := kafka.NewOutboxWorker(outboxRepo, log, producer, db.Dsn)
	outboxWorker.Start(appCtx)
	cl.Add(func(ctx context.Context) error {
		outboxWorker.Stop()
		return nil
	})

	r := chi.NewRouter()
	router := v1Http.NewRouter(r, log)
	router.Init(catalogUC, searchUC, regenUC)

	httpSrv := v1Http.NewServer(r, cfg.Http)
	cl.Add(httpSrv.Stop)

	errCh := make(chan error, 1)
	go func() {
		log.Infof("HTTP server started on port %s", cfg.Http.Port)
		if err := httpSrv.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf(err, "HTTP server failed")
			errCh <- err
		}
	}()

	// === Ожидание сигнала или ошибки ===
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	var appErr error
	select {
	case appErr = <-errCh:
		log.Errorf(appErr, "HTTP server fatal error")
	case <-shutdown:
		log.Infof("Received shutdown signal, stopping gracefully...")
	}

	// === Graceful shutdown ===
	appCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := cl.Close(shutdownCtx); err != nil {
		log.Warnf("shutdown finished with errors: %v", err)
	}

	log.Infof("Application shutdown complete")
	return appErr
}

func initPGDB(logger logger.Logger, cfg *config.Config) (*postgres.PgDatabase, error) {
	db, err := postgres.Connect(cfg.Db)
	if err != nil {
		logger.Errorf(err, "failed to connect to database")
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	if err := db.RunMigrations(logger); err != nil {
		logger.Errorf(err, "failed to run migrations")
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	if err := db.Ping(); err != nil {
		logger.Errorf(err, "failed to ping database")
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return db, nil
}
