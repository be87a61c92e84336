package main

import (
	"classifier-backend/cmd"
	"classifier-backend/internal/api"
	"classifier-backend/internal/auth"
	"classifier-backend/internal/database"
	"classifier-backend/internal/datasets"
	"classifier-backend/internal/jobs"
	"classifier-backend/internal/messaging"
	"classifier-backend/internal/storage"
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hashicorp/go-plugin"
	"gorm.io/gorm"
)

type APIConfig struct {
	Root        string `env:"ROOT" envDefault:"./classifier-data"`
	Port        int    `env:"PORT" envDefault:"8001"`
	DatabaseURL string `env:"DATABASE_URL" envDefault:""`

	SecretKey    string        `env:"SECRET_KEY,notEmpty,required"`
	SessionTTL   time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	CookieSecure bool          `env:"COOKIE_SECURE" envDefault:"true"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"http://localhost:3000" envSeparator:","`

	DatasetRoot    string `env:"DATASET_ROOT" envDefault:"./datasets"`
	DatasetCatalog string `env:"DATASET_CATALOG" envDefault:""`

	TrainerPluginPath string `env:"TRAINER_PLUGIN_PATH" envDefault:"./bin/trainer"`

	ModelBucketName   string `env:"MODEL_BUCKET_NAME" envDefault:"models"`
	S3EndpointURL     string `env:"S3_ENDPOINT_URL" envDefault:""`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID" envDefault:""`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" envDefault:""`
	S3Region          string `env:"AWS_REGION" envDefault:"us-east-1"`

	RabbitMQURL      string `env:"RABBITMQ_URL" envDefault:""`
	ConsumeJobEvents bool   `env:"CONSUME_JOB_EVENTS" envDefault:"false"`

	MaxUploadBytes int64 `env:"MAX_UPLOAD_BYTES" envDefault:"52428800"`
}

func createObjectStore(cfg APIConfig) storage.ObjectStore {
	var store storage.ObjectStore
	if cfg.S3EndpointURL != "" {
		s3Store, err := storage.NewS3ObjectStore(storage.S3ClientConfig{
			Endpoint:        cfg.S3EndpointURL,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			log.Fatalf("Failed to create S3 client: %v", err)
		}
		store = s3Store
	} else {
		localStore, err := storage.NewLocalObjectStore(filepath.Join(cfg.Root, "storage"))
		if err != nil {
			log.Fatalf("Failed to create local object store: %v", err)
		}
		store = localStore
	}

	if err := store.CreateBucket(context.Background(), cfg.ModelBucketName); err != nil {
		log.Fatalf("Failed to create bucket %s: %v", cfg.ModelBucketName, err)
	}

	return store
}

// createEvents returns the job event publisher and, if events are consumed by
// this process, the receiver to read them from. Without a broker the in memory
// queue is always consumed so that it never fills up.
func createEvents(cfg APIConfig) (messaging.Publisher, messaging.Receiver) {
	if cfg.RabbitMQURL == "" {
		slog.Info("no RABBITMQ_URL configured, job events are logged in process")
		queue := messaging.NewInMemoryQueue(1000)
		return queue, queue
	}

	publisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}

	if !cfg.ConsumeJobEvents {
		return publisher, nil
	}

	receiver, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to subscribe to RabbitMQ: %v", err)
	}
	return publisher, receiver
}

func createServer(cfg APIConfig, db *gorm.DB, manager *jobs.Manager, authenticator *auth.Authenticator) *http.Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	apiHandler := api.NewBackendService(db, manager, authenticator, cfg.MaxUploadBytes)

	r.Route("/api/v1", func(r chi.Router) {
		apiHandler.AddRoutes(r)
	})

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}
}

func main() {
	cmd.LoadEnvFile()

	var cfg APIConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	if err := os.MkdirAll(cfg.Root, os.ModePerm); err != nil {
		log.Fatalf("error creating root directory: %v", err)
	}

	f, err := os.OpenFile(filepath.Join(cfg.Root, "backend.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	log.SetOutput(io.MultiWriter(f, os.Stderr))

	slog.Info("starting api server", "root", cfg.Root, "port", cfg.Port, "dataset_root", cfg.DatasetRoot, "trainer", cfg.TrainerPluginPath)

	db, err := database.NewDatabase(cfg.DatabaseURL, cfg.Root)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	catalog, err := datasets.LoadCatalog(cfg.DatasetRoot, cfg.DatasetCatalog)
	if err != nil {
		log.Fatalf("Failed to load dataset catalog: %v", err)
	}

	authenticator, err := auth.NewAuthenticator(cfg.SecretKey, cfg.SessionTTL, cfg.CookieSecure)
	if err != nil {
		log.Fatalf("Failed to create authenticator: %v", err)
	}

	artifacts := createObjectStore(cfg)

	publisher, receiver := createEvents(cfg)
	defer publisher.Close()

	eventsCtx, stopEvents := context.WithCancel(context.Background())
	eventsDone := make(chan struct{})
	if receiver != nil {
		go func() {
			defer close(eventsDone)
			messaging.Consume(eventsCtx, receiver, messaging.LogEvent)
		}()
	} else {
		close(eventsDone)
	}

	launcher := jobs.NewPluginLauncher(cfg.TrainerPluginPath)

	manager := jobs.NewManager(db, launcher, catalog, publisher, artifacts, jobs.ManagerConfig{
		ModelsRoot:  filepath.Join(cfg.Root, "models"),
		ModelBucket: cfg.ModelBucketName,
	})

	server := createServer(cfg, db, manager, authenticator)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	slog.Info("server started", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %d: %v\n", cfg.Port, err)
	}

	// Training workers do not outlive the server.
	slog.Info("stopping training workers")
	plugin.CleanupClients()
	launcher.Wait()

	stopEvents()
	<-eventsDone
	if receiver != nil {
		receiver.Close()
	}

	slog.Info("server stopped")
}
