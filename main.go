package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"arenachat/internal/auth"
	"arenachat/internal/commands"
	"arenachat/internal/config"
	"arenachat/internal/filestore"
	"arenachat/internal/http"
	"arenachat/internal/hub"
	"arenachat/internal/models"
	"arenachat/internal/notify"
	"arenachat/internal/room"
	"arenachat/internal/storage"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context) error {
	mintToken := flag.String("mint-token", "", "Identity id to mint a bearer token for (prints the token and exits)")
	displayName := flag.String("display-name", "", "Display name for -mint-token")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if *mintToken != "" {
		return commands.MintToken(ctx, cfg, *mintToken, *displayName)
	}

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	authService, err := auth.NewService(ctx, auth.Config{TokenExpiry: cfg.TokenExpiry}, bbStorage)
	if err != nil {
		return err
	}

	files, err := filestore.NewLocal(cfg.UploadsPath)
	if err != nil {
		return err
	}

	notifier := notify.NewPushNotifier(cfg, bbStorage, logger)
	var roomNotifier room.Notifier
	if notifier.Enabled() {
		roomNotifier = notifier
	} else {
		logger.Info("web push disabled, VAPID keys not configured")
	}

	h := hub.New(hub.Config{
		BacklogLimit:      cfg.BacklogLimit,
		MaxPinned:         cfg.MaxPinned,
		MaxMessageBytes:   cfg.MaxMessageBytes,
		TypingTTL:         cfg.TypingTTL,
		DefaultMaxMembers: cfg.MaxRoomMembers,
	}, bbStorage, roomNotifier, logger)
	defer h.Close()

	if err := h.Rehydrate(); err != nil {
		return err
	}
	if len(h.Rooms()) == 0 {
		if _, err := h.Provision(models.Room{ID: "general", Kind: models.RoomKindPublic, Name: "General"}); err != nil {
			return err
		}
	}

	apiServer := http.NewAPIServer(authService, h, files, bbStorage, cfg, logger)

	g, gCtx := errgroup.WithContext(ctx)

	if notifier.Enabled() {
		g.Go(func() error {
			if err := notifier.Run(gCtx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}
