package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mediarelay/internal/bot"
	"mediarelay/internal/cache"
	"mediarelay/internal/config"
	"mediarelay/internal/download"
	"mediarelay/internal/httputil"
	"mediarelay/internal/pool"
	"mediarelay/internal/relay"
	"mediarelay/internal/telegram"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot until interrupted",
	Args:  cobra.NoArgs,
	RunE:  serveRun,
}

func serveRun(cmd *cobra.Command, args []string) error {
	if err := cfg.ValidateBot(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPath, err := config.ExpandPath(cfg.DBPath)
	if err != nil {
		return err
	}
	workDir, err := config.ExpandPath(cfg.WorkDir)
	if err != nil {
		return err
	}

	store, err := cache.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening cache: %w", err)
	}
	defer store.Close()

	opts := download.DefaultOptions()
	opts.Binary = cfg.YtDlp
	opts.FFmpegLocation = cfg.FFmpegLocation
	opts.Retries = cfg.YtDlpRetries
	opts.SocketTimeout = cfg.SocketTimeout.Duration
	opts.Attempts = cfg.FetchAttempts
	opts.AttemptTimeout = cfg.AttemptTimeout.Duration
	dl := download.New(opts)
	if err := dl.Available(); err != nil {
		slog.Warn("downloads will fail until the extractor is installed", slog.Any("error", err))
	}

	// Requests are bounded by their contexts; uploads can take minutes.
	api, err := telegram.NewClient(ctx, httputil.NewClient(0), cfg.APIBase, cfg.Token)
	if err != nil {
		return fmt.Errorf("checking bot token: %w", err)
	}
	slog.Info("connected to telegram", slog.String("username", api.Username()), slog.Int64("channel_id", cfg.ChannelID))

	p := bot.NewPipeline(store, dl, relay.New(api, cfg.ChannelID), bot.Options{
		WorkDir:        workDir,
		MaxFileSize:    cfg.MaxFileSize,
		RequestTimeout: cfg.RequestTimeout.Duration,
		Caption:        "✅ Downloaded via @" + api.Username(),
		Pool:           pool.New(cfg.Workers, cfg.FetchTimeout.Duration),
	})

	start := time.Now()
	err = bot.New(api, p, cfg.PollTimeout.Duration).Run(ctx)
	slog.Info("stopped", slog.Duration("uptime", time.Since(start).Round(time.Second)))
	return err
}
