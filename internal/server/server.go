package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/alcher96/AccountService/internal/config"
	"github.com/alcher96/AccountService/internal/events"
	"github.com/alcher96/AccountService/internal/handler"
	"github.com/alcher96/AccountService/internal/inbox"
	"github.com/alcher96/AccountService/internal/outbox"
	"github.com/alcher96/AccountService/internal/repository"
	"github.com/alcher96/AccountService/internal/service"
)

// Server wires the HTTP surface, the store, the bus and the background
// workers together.
type Server struct {
	router *mux.Router
	server *http.Server
	db     *sql.DB
	rdb    *redis.Client
	logger *slog.Logger
	port   string

	outboxPublisher *outbox.Publisher
	cancelWorkers   context.CancelFunc
	workers         sync.WaitGroup
}

// NewServer creates a new server instance: it connects to Postgres and
// Redis, builds the repositories, services and handlers, and registers the
// routes. Background workers start in Start.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := sql.Open("postgres", cfg.GetDBConnectionString())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("successfully connected to database")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		db.Close()
		rdb.Close()
		return nil, err
	}
	logger.Info("successfully connected to redis")

	store := repository.NewStore(db, logger)
	accountRepo := repository.NewAccountRepository(store, logger)
	outboxRepo := repository.NewOutboxRepository(store, logger)
	inboxRepo := repository.NewInboxRepository(store, logger)

	accountService := service.NewAccountService(accountRepo, logger)
	transactionService := service.NewTransactionService(accountRepo, logger)

	accountHandler := handler.NewAccountHandler(accountService)
	transactionHandler := handler.NewTransactionHandler(transactionService)

	busPublisher := events.NewPublisher(rdb)
	outboxPublisher := outbox.NewPublisher(outboxRepo, busPublisher, logger, cfg.OutboxInterval, cfg.OutboxBatchSize)

	clientStatusConsumer := inbox.NewClientStatusConsumer(accountRepo, inboxRepo, logger)
	clientSubscriber := events.NewSubscriber(rdb, events.SubscriberConfig{
		Stream:   events.StreamClientEvents,
		Group:    "account-service",
		Consumer: "account-service-1",
		Handler:  clientStatusConsumer.Handle,
	}, logger)

	router := mux.NewRouter()
	router.Use(loggingMiddleware(logger))

	// Account routes
	router.HandleFunc("/accounts", accountHandler.CreateAccount).Methods("POST")
	router.HandleFunc("/accounts", accountHandler.ListAccounts).Methods("GET")
	router.HandleFunc("/accounts/{account_id}", accountHandler.GetAccount).Methods("GET")
	router.HandleFunc("/accounts/{account_id}", accountHandler.PatchAccount).Methods("PATCH")
	router.HandleFunc("/accounts/{account_id}", accountHandler.DeleteAccount).Methods("DELETE")

	// Transaction routes
	router.HandleFunc("/accounts/{account_id}/transactions", transactionHandler.PostTransaction).Methods("POST")
	router.HandleFunc("/accounts/{account_id}/transactions", transactionHandler.ListTransactions).Methods("GET")
	router.HandleFunc("/transfers", transactionHandler.Transfer).Methods("POST")
	router.HandleFunc("/interest/accruals", accountHandler.AccrueInterest).Methods("POST")

	// Health check
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": "database unavailable"})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}).Methods("GET")

	srv := &Server{
		router:          router,
		db:              db,
		rdb:             rdb,
		logger:          logger,
		outboxPublisher: outboxPublisher,
	}

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	srv.cancelWorkers = cancelWorkers

	srv.workers.Add(2)
	go func() {
		defer srv.workers.Done()
		outboxPublisher.Run(workerCtx)
	}()
	go func() {
		defer srv.workers.Done()
		clientSubscriber.Start(workerCtx)
	}()

	return srv, nil
}

// OutboxPublisher exposes the background publisher so tests can pause and
// resume delivery.
func (s *Server) OutboxPublisher() *outbox.Publisher {
	return s.outboxPublisher
}

// loggingMiddleware adds request logging
func loggingMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.statusCode,
				"duration", time.Since(start),
				"user_agent", r.UserAgent(),
			)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server on the specified port. Port "0" picks a free
// one; the chosen port is returned by GetPort.
func (s *Server) Start(port string) (string, error) {
	listener, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return "", err
	}

	addr := listener.Addr().(*net.TCPAddr)
	s.port = strconv.Itoa(addr.Port)

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting server", "port", s.port)

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server failed", "error", err)
		}
	}()

	return s.port, nil
}

// Stop gracefully shuts down the server: background workers first, then the
// HTTP listener, then the store and bus connections.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down server")

	if s.cancelWorkers != nil {
		s.cancelWorkers()
		s.workers.Wait()
	}

	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}

	if s.db != nil {
		s.db.Close()
	}
	if s.rdb != nil {
		s.rdb.Close()
	}
	return err
}

// GetPort returns the port the server is listening on
func (s *Server) GetPort() string {
	return s.port
}

// GetBaseURL returns the base URL for the server
func (s *Server) GetBaseURL() string {
	return "http://localhost:" + s.port
}

// GetRouter returns the router for testing purposes
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

// StartServer starts the server with the given configuration
func StartServer(cfg *config.Config) (*Server, string, error) {
	var logger *slog.Logger
	if cfg.ServerPort == "0" {
		// Test environment - keep logs out of the way
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	} else {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}

	server, err := NewServer(cfg, logger)
	if err != nil {
		return nil, "", err
	}

	port, err := server.Start(cfg.ServerPort)
	if err != nil {
		return nil, "", err
	}

	return server, port, nil
}
