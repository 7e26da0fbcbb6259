// API service: conversation sync core behind a JSON HTTP surface plus a
// WebSocket change-notification socket.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatsync/internal/config"
	"github.com/chatsync/internal/feed"
	"github.com/chatsync/internal/handler"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/middleware"
	"github.com/chatsync/internal/push"
	"github.com/chatsync/internal/repository"
	"github.com/chatsync/internal/startup"
	"github.com/chatsync/internal/ws"
	"github.com/chatsync/migrations"
)

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	flag.Parse()

	logger.Info("starting API service")
	cfg := config.Load()

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var err error
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 4

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second)
	defer pool.Close()

	runMigrations(pool)
	if *migrate && !*dev {
		return
	}

	// Presence survives restarts as stored rows; stale online flags from a
	// crashed instance expire through the read-time window, but reset them
	// anyway so a fresh boot starts clean.
	resetCtx, resetCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if _, err := pool.Exec(resetCtx, "UPDATE presence SET online = false"); err != nil {
		logger.Errorf("reset presence: %v", err)
	}
	resetCancel()
	logger.Info("database connected, migrations applied")

	var eventFeed feed.Feed
	if cfg.RedisURL != "" {
		eventFeed = startup.ConnectFeedWithRetry(cfg.RedisURL, 60*time.Second)
		logger.Info("redis change feed connected")
	} else {
		eventFeed = feed.NewMemory()
		logger.Info("using in-process change feed")
	}
	defer eventFeed.Close()

	userRepo := repository.NewUserRepository(pool)
	convRepo := repository.NewConversationRepository(pool)
	msgRepo := repository.NewMessageRepository(pool)
	presenceRepo := repository.NewPresenceRepository(pool)
	typingRepo := repository.NewTypingRepository(pool)
	reactRepo := repository.NewReactionRepository(pool)
	pushRepo := repository.NewPushRepository(pool)

	var pushSender *push.Sender
	if keys, err := push.EnsureVAPIDKeys(""); err != nil {
		logger.Errorf("VAPID keys unavailable: %v (push disabled)", err)
	} else {
		pushSender = push.NewSender(pushRepo, keys)
	}

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := ws.NewHub(eventFeed, presenceRepo, convRepo, cfg.MaxWSConnections)

	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	userH := handler.NewUserHandler(userRepo)
	convH := handler.NewConversationHandler(convRepo, userRepo, msgRepo, eventFeed)
	msgH := handler.NewMessageHandler(msgRepo, convRepo, userRepo, presenceRepo, reactRepo, eventFeed, pushSender)
	presenceH := handler.NewPresenceHandler(presenceRepo, convRepo, userRepo, eventFeed)
	typingH := handler.NewTypingHandler(typingRepo, convRepo, userRepo, eventFeed)
	pushH := handler.NewPushHandler(pushRepo, userRepo, pushSender)
	wsH := handler.NewWSHandler(hub, userRepo, cfg.CORSAllowedOrigins)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// Do not compress WebSocket upgrades: a wrapped ResponseWriter loses
	// http.Hijacker and the upgrade fails with a 500.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.RateLimitAPI)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.Identity(cfg.Auth.Secret, cfg.Auth.Issuer))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Get("/api/config/push", pushH.PublicKey)

	// Reads fail open: unauthenticated callers get empty/null payloads.
	r.Get("/api/users/me", userH.GetCurrentUser)
	r.Get("/api/users", userH.GetUsers)
	r.Get("/api/users/{id}", userH.GetUser)
	r.Get("/api/conversations", convH.ListConversations)
	r.Get("/api/conversations/{id}", convH.GetConversation)
	r.Get("/api/conversations/{id}/messages", msgH.ListMessages)
	r.Get("/api/conversations/{id}/typing", typingH.GetTyping)
	r.Get("/api/messages/{id}/reactions", msgH.GetReactions)
	r.Get("/api/presence", presenceH.GetPresence)
	r.Get("/api/presence/user", presenceH.GetUserPresence)
	r.Get("/api/typing/active", typingH.GetAllActive)

	// Writes fail closed.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireIdentity)
		r.Post("/api/users/sync", userH.SyncUser)
		r.Post("/api/conversations/direct", convH.GetOrCreateDirect)
		r.Post("/api/conversations/group", convH.CreateGroup)
		r.Post("/api/conversations/{id}/read", convH.MarkRead)
		r.Post("/api/conversations/{id}/messages", msgH.SendMessage)
		r.Post("/api/conversations/{id}/typing", typingH.SetTyping)
		r.Delete("/api/messages/{id}", msgH.DeleteMessage)
		r.Post("/api/messages/{id}/reactions", msgH.ToggleReaction)
		r.Post("/api/presence/heartbeat", presenceH.Heartbeat)
		r.Post("/api/presence/offline", presenceH.SetOffline)
		r.Post("/api/push/subscribe", pushH.Subscribe)
		r.Delete("/api/push/subscribe", pushH.Unsubscribe)
		r.Get("/ws", wsH.ServeWS)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

func runMigrations(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, name := range migrations.Names {
		data, err := migrations.Files.ReadFile(name)
		if err != nil {
			logger.Errorf("read migration %s: %v", name, err)
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			logger.Errorf("run migration %s: %v", name, err)
			os.Exit(1)
		}
	}
	logger.Info("migrations applied")
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "chatsync"
		password = "chatsync_secret"
		database = "chatsync"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
