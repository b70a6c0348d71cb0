package main // Entry point package

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/field-reservation/internal/audit"
	"github.com/iliyamo/field-reservation/internal/config"
	"github.com/iliyamo/field-reservation/internal/database"
	"github.com/iliyamo/field-reservation/internal/handler"
	"github.com/iliyamo/field-reservation/internal/middleware"
	"github.com/iliyamo/field-reservation/internal/queue"
	"github.com/iliyamo/field-reservation/internal/repository"
	"github.com/iliyamo/field-reservation/internal/router"
	"github.com/iliyamo/field-reservation/internal/service"
)

func main() {
	config.LoadDotEnv()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer closeStore()

	rdb, err := config.NewRedisClient(config.LoadRedisConfig())
	if err != nil {
		log.Printf("redis unavailable, cache and rate limit disabled: %v", err)
	} else {
		defer rdb.Close()
	}

	opts := []audit.Option{audit.WithRetry(cfg.Audit.RetryAttempts, cfg.Audit.RetryBackoff)}
	if cfg.Audit.EventsEnabled {
		opts = append(opts, audit.WithPublisher(queue.NewPublisher(cfg.Audit.BrokerURL, cfg.Audit.Queue)))
		go func() {
			err := queue.StartAuditConsumer(ctx, queue.ConsumerConfig{
				URL:    cfg.Audit.BrokerURL,
				Queue:  cfg.Audit.Queue,
				LogDir: cfg.Audit.LogDir,
			})
			log.Printf("audit-consumer: stopped: %v", err)
		}()
	}
	recorder := audit.NewRecorder(store, opts...)
	svc := service.New(store, recorder)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestID())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogStatus:    true,
		LogMethod:    true,
		LogURI:       true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			log.Printf("http: %s %s status=%d latency=%s request_id=%s", v.Method, v.URI, v.Status, v.Latency, v.RequestID)
			return nil
		},
	}))
	e.Use(echomw.CORS())

	router.RegisterRoutes(e, handler.NewReservationHandler(svc), router.Options{
		Redis:     rdb,
		Cache:     config.LoadCacheConfig(),
		RateLimit: config.LoadRateLimitConfig(),
	})

	go func() {
		log.Printf("listening on %s (env=%s, store=%s)", cfg.Addr(), cfg.Env, cfg.StoreDriver)
		if err := e.Start(cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	recorder.Wait()
}

// openStore connects the backend named by STORE_DRIVER.  The returned
// func releases its connections.
func openStore(ctx context.Context, cfg config.Config) (repository.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		log.Printf("store: using in-memory store; data is lost on restart")
		return repository.NewMemoryStore(), func() {}, nil

	case config.DriverMongo:
		client, err := database.OpenMongo(cfg.MongoURI, cfg.MongoConnectTimeout)
		if err != nil {
			return nil, nil, err
		}
		s := repository.NewMongoStore(client, cfg.MongoDB)
		if err := s.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, err
		}
		return s, func() { _ = client.Disconnect(context.Background()) }, nil

	default:
		db, err := database.Open(database.MySQLOptions{
			User: cfg.DBUser,
			Pass: cfg.DBPass,
			Host: cfg.DBHost,
			Port: cfg.DBPort,
			Name: cfg.DBName,
		})
		if err != nil {
			return nil, nil, err
		}
		if cfg.DBMigrate {
			if err := database.Migrate(ctx, db); err != nil {
				_ = db.Close()
				return nil, nil, err
			}
		}
		return repository.NewMySQLStore(db), func() { _ = db.Close() }, nil
	}
}
