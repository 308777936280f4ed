package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/anonto42/nano-midea/chatsync/internal/chatlist"
	"github.com/anonto42/nano-midea/chatsync/internal/chatroom"
	"github.com/anonto42/nano-midea/chatsync/internal/headcache"
	"github.com/anonto42/nano-midea/chatsync/internal/kv"
	"github.com/anonto42/nano-midea/chatsync/internal/middleware"
	"github.com/anonto42/nano-midea/chatsync/internal/notify"
	"github.com/anonto42/nano-midea/chatsync/internal/profilecache"
	"github.com/anonto42/nano-midea/chatsync/internal/repositories"
	"github.com/anonto42/nano-midea/chatsync/internal/repositories/memory"
	"github.com/anonto42/nano-midea/chatsync/internal/resetcode"
	"github.com/anonto42/nano-midea/chatsync/internal/router"
	"github.com/anonto42/nano-midea/chatsync/internal/session"
	"github.com/anonto42/nano-midea/chatsync/internal/unread"
	"github.com/anonto42/nano-midea/chatsync/pkg/config"
	"github.com/anonto42/nano-midea/chatsync/pkg/firebase"
	"github.com/anonto42/nano-midea/chatsync/pkg/logger"
	"github.com/anonto42/nano-midea/chatsync/validators"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize the local store connection
	db, err := config.InitDB(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}
	defer db.CloseDB()

	local, err := localStore(cfg, db)
	if err != nil {
		return err
	}
	writer := kv.NewWriter(local, log)
	defer writer.Close()

	// Remote document store and identity
	store, verifier, closeRemote, err := remote(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeRemote()

	profiles, err := profilecache.New(store.Profiles, profilecache.Options{
		TTL:         cfg.ProfileTTL,
		Size:        cfg.ProfileCacheSize,
		Concurrency: cfg.ProfileConcurrency,
		Writer:      writer,
		Log:         log,
	})
	if err != nil {
		return err
	}
	notes := notify.NewCenter(cfg.NotificationTTL)
	sess := session.New(session.Deps{
		Store:             store,
		Profiles:          profiles,
		Heads:             headcache.New(writer, log),
		Marks:             unread.NewWatermarks(writer, log, nil),
		Favorites:         chatlist.NewFavorites(writer, log),
		Notify:            notes,
		Writer:            writer,
		ConversationLimit: cfg.ConversationLimit,
		Room: chatroom.Options{
			Window:     cfg.ReconcileWindow,
			PendingTTL: cfg.PendingTTL,
			PageSize:   cfg.MessagePageSize,
			Log:        log,
		},
		Log: log,
	})
	sess.Restore(ctx, local)
	defer sess.Close()

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true
	e.Validator = validators.NewValidator()
	config.SetupMiddleware(e, log)
	router.SetupRoutes(e, router.Deps{
		Session:    sess,
		Verifier:   verifier,
		ResetCodes: resetcode.NewClient(cfg.ResetCodeURL, cfg.ResetCodeTimeout),
		Log:        log,
	})

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Str("doc_store", cfg.DocStore).Str("local_store", cfg.LocalStore).Msg("chatsync listening")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	log.Info().Msg("chatsync stopped")
	return nil
}

func localStore(cfg *config.Config, db *config.DB) (kv.Store, error) {
	switch cfg.LocalStore {
	case "postgres":
		return kv.NewGormStore(db.Postgres)
	case "mongo":
		return kv.NewMongoStore(db.Mongo.Database(cfg.MongoDatabase)), nil
	case "redis":
		return kv.NewRedisStore(db.Redis, "chatsync:"), nil
	default:
		return kv.NewMemoryStore(), nil
	}
}

func remote(ctx context.Context, cfg *config.Config, log zerolog.Logger) (repositories.Store, middleware.TokenVerifier, func(), error) {
	if cfg.DocStore == "memory" {
		log.Warn().Msg("in-memory document store, bearer tokens are taken as uids")
		return memory.New().Store(), middleware.DevVerifier{}, func() {}, nil
	}
	app, err := firebase.InitFirebase(ctx, cfg.FirebaseCredentialsPath, cfg.FirebaseProjectID, log)
	if err != nil {
		return repositories.Store{}, nil, nil, fmt.Errorf("failed to initialize Firebase: %w", err)
	}
	closeFn := func() {
		if err := app.Close(); err != nil {
			log.Warn().Err(err).Msg("firestore close")
		}
	}
	return repositories.NewFirestoreStore(app.Firestore, log), app.AuthClient, closeFn, nil
}
