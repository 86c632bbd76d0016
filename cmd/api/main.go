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

	"github.com/cloudwego/eino/components/model"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/config"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/handler"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/logging"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/model/persona"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/service/ai"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/service/blob"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/service/chat"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/service/emotion"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/service/mediacache"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/service/remote"
	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/service/speech"
)

func main() {
	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fallback := logging.New(logging.Config{})
		fallback.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if envErr != nil {
		logger.Debug().Err(envErr).Msg("no .env file, using system environment only")
	}

	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("companion backend stopped")
		os.Exit(1)
	}
}

// run wires the services and serves until a signal arrives. Deferred
// cleanup runs before it returns, whatever the outcome.
func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	personas := persona.Seed()
	if cfg.Storage.PersonasFile != "" {
		var err error
		personas, err = persona.LoadFile(cfg.Storage.PersonasFile)
		if err != nil {
			return fmt.Errorf("load personas: %w", err)
		}
	}
	personaStore := persona.NewMemoryStore(personas)

	var kv mediacache.KV = mediacache.NewMemoryStore()
	if cfg.Storage.CacheDBPath != "" {
		store, err := mediacache.OpenSQLite(cfg.Storage.CacheDBPath)
		if err != nil {
			return fmt.Errorf("open cache database %s: %w", cfg.Storage.CacheDBPath, err)
		}
		defer store.Close()
		kv = store
		logger.Info().Str("path", cfg.Storage.CacheDBPath).Msg("video cache persisted to sqlite")
	}

	client := remote.NewClient(cfg.Media.Timeout, logging.Component(logger, "remote"))

	deps := chat.Deps{
		VideoEnabled: cfg.Media.VideoEnabled,
		Cache:        kv,
		HistoryLimit: cfg.Chat.HistoryLimit,
		Logger:       logger,
	}

	var chatModel model.ChatModel
	if cfg.AI.Enabled() {
		var err error
		chatModel, err = cfg.AI.NewChatModel(ctx)
		if err != nil {
			return fmt.Errorf("create Ark chat model: %w", err)
		}
	}

	switch {
	case cfg.Media.ReplyEndpoint != "":
		deps.Replies = remote.NewReplyClient(client, cfg.Media.ReplyEndpoint)
		logger.Info().Str("endpoint", cfg.Media.ReplyEndpoint).Msg("replies served by remote endpoint")
	case chatModel != nil:
		aiService, err := ai.NewServiceWithModel(ctx, chatModel, cfg.Chat.HistoryLimit, logging.Component(logger, "ai"))
		if err != nil {
			return fmt.Errorf("initialize AI service: %w", err)
		}
		deps.Replies = aiService
		logger.Info().Str("model", cfg.AI.Model).Msg("replies served by Ark model")
	default:
		// 只有带 replyUrl 的 persona 可以回复，其余会话收到道歉
		deps.Replies = remote.NewReplyClient(client, "")
		logger.Warn().Msg("REPLY_ENDPOINT and Ark credentials missing, only personas with replyUrl can answer")
	}

	if cfg.Media.VideoEnabled {
		deps.Videos = remote.NewVideoClient(client, cfg.Media.VideoEndpoint)
		logger.Info().Str("endpoint", cfg.Media.VideoEndpoint).Msg("talking-head video enabled")
	}

	if cfg.Media.TTSEndpoint != "" {
		var moodModel model.BaseChatModel
		if chatModel != nil {
			moodModel = chatModel
		}
		moods, err := emotion.NewClassifier(ctx, moodModel, emotion.Config{Enabled: cfg.AI.MoodLLMEnabled}, logging.Component(logger, "emotion"))
		if err != nil {
			return fmt.Errorf("initialize mood classifier: %w", err)
		}
		voices := speech.NewService(remote.NewTTSClient(client, cfg.Media.TTSEndpoint), logging.Component(logger, "speech"))
		deps.Voices = voices.WithClassifier(moods)
		logger.Info().Str("endpoint", cfg.Media.TTSEndpoint).Bool("mood_llm", moods.Enabled()).Msg("voice snippets enabled")
	}

	blobs := blob.NewStore(cfg.Server.PublicBaseURL+"/api/blobs", blob.DefaultMaxBytes)
	deps.Blobs = blobs

	chatService := chat.NewService(personaStore, deps)
	defer chatService.CloseAll()

	router := handler.NewRouter(personaStore, chatService, blobs, logger)

	return startServer(ctx, cfg.Server, router, logger)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger zerolog.Logger) error {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info().Str("addr", addr).Msg("companion backend listening")
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
