package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/saas-innova/file-provider/internal/config"
	"github.com/saas-innova/file-provider/internal/handlers"
	"github.com/saas-innova/file-provider/internal/imaging"
	"github.com/saas-innova/file-provider/internal/provider"
	"github.com/saas-innova/file-provider/internal/storage"
	"github.com/saas-innova/file-provider/internal/tracing"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	log.Println("Starting file-provider service...")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Service: %s, Port: %s, Storage: %s", cfg.ServiceName, cfg.ServicePort, cfg.StorageType)

	// Initialize OpenTelemetry tracing
	shutdownTracer, err := tracing.InitTracer(cfg.ServiceName, cfg.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	// Select the storage backend
	var backend provider.Backend
	if cfg.StorageType == config.StorageTypeBucket {
		log.Println("Connecting to MinIO...")
		minioClient, err := storage.NewMinioClient(
			cfg.MinIOEndpoint,
			cfg.MinIOAccessKey,
			cfg.MinIOSecretKey,
			cfg.MinIOBucketName,
			cfg.MinIOUseSSL,
		)
		if err != nil {
			log.Fatalf("Failed to initialize MinIO client: %v", err)
		}
		log.Println("MinIO client initialized")
		backend = provider.NewBucketBackend(minioClient)
	} else {
		log.Printf("Using disk storage at %s", cfg.StoragePath)
		backend = provider.NewDiskBackend(cfg.StoragePath)
	}

	// Image recompression always scratches to local disk, so the temp
	// directory lives under the storage path in both modes.
	gateway := provider.NewGateway(backend, filepath.Join(cfg.StoragePath, "temp"))

	// Initialize MySQL client and install the schema
	log.Println("Connecting to MySQL...")
	mysqlClient, err := storage.NewMySQLClient(cfg.GetDSN())
	if err != nil {
		log.Fatalf("Failed to initialize MySQL client: %v", err)
	}
	defer mysqlClient.Close()
	if err := mysqlClient.RunMigrations(context.Background()); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("MySQL client initialized")

	// Initialize Redis client
	log.Println("Connecting to Redis...")
	redisClient, err := storage.NewRedisClient(cfg.GetRedisAddr(), cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatalf("Failed to initialize Redis client: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis client initialized")

	// Initialize handlers
	reducer := imaging.NewReducer()
	writeHandler := handlers.NewWriteHandler(gateway, mysqlClient, redisClient, reducer, cfg.ImageMaxSizeKB)
	readHandler := handlers.NewReadHandler(gateway, mysqlClient, redisClient, cfg.HostURL)

	// Setup HTTP router
	router := mux.NewRouter()

	// Health check endpoint (no tracing needed)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	// File operations with tracing
	router.Handle("/files", otelhttp.NewHandler(http.HandlerFunc(writeHandler.Upload), "POST /files")).Methods("POST")
	router.Handle("/files", otelhttp.NewHandler(http.HandlerFunc(readHandler.List), "GET /files")).Methods("GET")
	router.Handle("/files/{file_id}", otelhttp.NewHandler(http.HandlerFunc(writeHandler.Update), "PUT /files/{file_id}")).Methods("PUT")
	router.Handle("/files/{file_id}", otelhttp.NewHandler(http.HandlerFunc(writeHandler.Delete), "DELETE /files/{file_id}")).Methods("DELETE")
	router.Handle("/files/{file_id}", otelhttp.NewHandler(http.HandlerFunc(readHandler.Fetch), "GET /files/{file_id}")).Methods("GET")
	router.Handle("/files/{file_id}/details", otelhttp.NewHandler(http.HandlerFunc(readHandler.Details), "GET /files/{file_id}/details")).Methods("GET")
	router.Handle("/file/{file_id}", otelhttp.NewHandler(http.HandlerFunc(readHandler.ServeLocal), "GET /file/{file_id}")).Methods("GET")

	// Sweep stale temp entries on a fixed schedule
	sweepStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		maxAge := time.Duration(cfg.TempMaxAgeSeconds) * time.Second
		for {
			select {
			case <-ticker.C:
				gateway.PurgeStaleTemp(context.Background(), maxAge)
			case <-sweepStop:
				return
			}
		}
	}()

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.ServicePort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Server listening on port %s", cfg.ServicePort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	close(sweepStop)

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
