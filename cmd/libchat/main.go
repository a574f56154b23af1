package main

import (
	"context"
	"log"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"github.com/libroom/chatkit/internal/api"
	"github.com/libroom/chatkit/internal/auth"
	"github.com/libroom/chatkit/internal/cache"
	"github.com/libroom/chatkit/internal/chat"
	"github.com/libroom/chatkit/internal/config"
	"github.com/libroom/chatkit/internal/notify"
	"github.com/libroom/chatkit/internal/socket"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file, using environment as-is")
	}
	cfg := config.MustLoad()
	if cfg.Token == "" {
		log.Fatal("LIBROOM_TOKEN is required: log in through the web app and copy the session token")
	}

	claims, err := auth.Identify(cfg.Token)
	if err != nil {
		log.Fatalf("invalid session token: %v", err)
	}
	slog.Info("starting libchat", "user", claims.Username, "server", cfg.ServerURL)

	snapshots, err := cache.Open(cfg.CacheDSN)
	if err != nil {
		log.Fatalf("opening local cache: %v", err)
	}
	defer snapshots.Close()

	notifier := notify.New()
	ctrl := chat.NewController(chat.Options{
		API:            api.New(cfg.ServerURL, cfg.Token, cfg.HTTPTimeout),
		Conn:           socket.New(),
		Notifier:       notifier,
		Cache:          snapshots,
		UserID:         claims.UserID,
		SocketURL:      cfg.SocketURL,
		Token:          cfg.Token,
		TypingDebounce: cfg.TypingDebounce,
		TypingExpiry:   cfg.TypingExpiry,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := ctrl.Start(ctx); err != nil {
		log.Fatalf("starting chat controller: %v", err)
	}
	defer ctrl.Close()

	program := tea.NewProgram(newUI(ctrl, notifier, claims.UserID), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		log.Fatalf("ui error: %v", err)
	}
}
