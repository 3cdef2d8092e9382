package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/emrgen/omnistore/internal/cache"
	"github.com/emrgen/omnistore/internal/catalog"
	"github.com/emrgen/omnistore/internal/compress"
	"github.com/emrgen/omnistore/internal/config"
	"github.com/emrgen/omnistore/internal/engine"
	"github.com/emrgen/omnistore/internal/jobs"
	"github.com/emrgen/omnistore/internal/ledger"
	"github.com/emrgen/omnistore/internal/metrics"
	"github.com/emrgen/omnistore/internal/queue"
	"github.com/emrgen/omnistore/internal/store"
	grpcmiddleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpclogrus "github.com/grpc-ecosystem/go-grpc-middleware/logging/logrus"
	grpcrecovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	grpcctxtags "github.com/grpc-ecosystem/go-grpc-middleware/tags"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Server runs the json api, the grpc health service and the background jobs.
type Server struct {
	cfg *config.Config
}

func NewServer(cfg *config.Config) *Server {
	return &Server{cfg: cfg}
}

// Start blocks until the process receives a termination signal.
func (s *Server) Start() {
	if err := Start(s.cfg); err != nil {
		logrus.Fatalf("error starting server: %v", err)
	}
}

// App holds the wired components of a running instance.
type App struct {
	Engine   *engine.Engine
	Store    *store.GormStore
	Executor *jobs.TaskExecutor
	closers  []func() error
}

// Close releases the connections opened by Wire.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logrus.Errorf("error closing: %v", err)
		}
	}
}

// Wire opens the database, cache and queue named by cfg and builds the engine
// and the job executor on top of them.
func Wire(ctx context.Context, cfg *config.Config) (*App, error) {
	settings, err := config.LoadSettings(cfg)
	if err != nil {
		return nil, err
	}

	db, err := config.GetDb(cfg)
	if err != nil {
		return nil, err
	}
	docStore := store.NewGormStore(db)
	if err := docStore.Migrate(); err != nil {
		return nil, err
	}

	reg, err := catalog.New(settings.Catalog)
	if err != nil {
		return nil, err
	}

	codec, err := compress.New(cfg.Codec)
	if err != nil {
		return nil, err
	}

	app := &App{Store: docStore}

	var c cache.Cache = cache.NewMemory(time.Now)
	if cfg.Redis.Addr != "" {
		redis := cache.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix)
		if err := redis.Ping(ctx); err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		app.closers = append(app.closers, redis.Close)
		c = redis
	}

	var (
		publisher  queue.Publisher
		subscriber queue.Subscriber
	)
	if cfg.Kafka.Brokers != "" {
		kafka, err := queue.NewKafkaQueue(cfg.Kafka.Brokers, cfg.Kafka.Group, cfg.Kafka.Topic)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("kafka: %w", err)
		}
		publisher, subscriber = kafka, kafka
	} else {
		memory := queue.NewMemoryQueue()
		publisher, subscriber = memory, memory
	}
	app.closers = append(app.closers, publisher.Close)

	app.Engine = engine.New(reg, docStore, engine.Options{
		Codec:        codec,
		Cache:        c,
		Publisher:    publisher,
		Scores:       settings.Scores,
		ViewCooldown: cfg.ViewCooldown,
	})

	ledgers, err := ledger.All(reg)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Executor = jobs.NewTaskExecutor(
		[]jobs.Job{
			jobs.NewEventConsumer(subscriber, nil),
		},
		[]jobs.CronJob{
			jobs.NewReconcileTask(cfg.ReconcileCron, docStore),
			jobs.NewLedgerAuditTask(cfg.AuditCron, docStore, ledgers),
		},
	)

	return app, nil
}

// Start runs the grpc and http servers until SIGTERM or SIGINT.
func Start(cfg *config.Config) error {
	grpcPort := ":" + cfg.GrpcPort
	httpPort := ":" + cfg.HttpPort

	app, err := Wire(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	gl, err := net.Listen("tcp", grpcPort)
	if err != nil {
		return err
	}

	rl, err := net.Listen("tcp", httpPort)
	if err != nil {
		return err
	}

	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(grpcmiddleware.ChainUnaryServer(
			grpcctxtags.UnaryServerInterceptor(),
			grpclogrus.UnaryServerInterceptor(logrus.NewEntry(logrus.StandardLogger())),
			grpcrecovery.UnaryServerInterceptor(),
			metrics.GRPCMetrics.UnaryServerInterceptor(),
			// log the request time
			UnaryGrpcRequestTimeInterceptor(),
		)),
	)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	metrics.GRPCMetrics.InitializeMetrics(grpcServer)

	apiMux := http.NewServeMux()
	apiMux.Handle("/metrics", metrics.Handler())
	apiMux.Handle("/", NewAPI(app.Engine).Routes())

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // All origins are allowed
		AllowedMethods:   []string{"GET", "POST", "DELETE", "PUT"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", ViewerHeader},
		AllowCredentials: true,
	})

	restServer := &http.Server{
		Addr:              httpPort,
		Handler:           c.Handler(metrics.InstrumentHandler(apiMux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := app.Executor.Run(); err != nil {
		return err
	}

	// make sure to wait for the servers to stop before exiting
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		logrus.Info("starting http api on: ", httpPort)
		if err := restServer.Serve(rl); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				logrus.Errorf("error starting http api: %v", err)
			}
		}
		logrus.Infof("http api stopped")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		logrus.Info("starting grpc server on: ", grpcPort)
		if err := grpcServer.Serve(gl); err != nil {
			logrus.Infof("grpc failed to start: %v", err)
		}
		logrus.Infof("grpc server stopped")
	}()

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	logrus.Infof("Press Ctrl+C to stop the server")

	// listen for interrupt signal to gracefully shut down the server
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGTERM, unix.SIGINT)
	<-sigs
	// clean Ctrl+C output
	fmt.Println()

	healthServer.Shutdown()
	app.Executor.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := restServer.Shutdown(ctx); err != nil {
		logrus.Errorf("error stopping http api: %v", err)
	}
	grpcServer.GracefulStop()

	wg.Wait()

	return nil
}
