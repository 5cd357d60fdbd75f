package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"difyline/config"
	dbpkg "difyline/db"
	"difyline/router"
	"difyline/tools"
	"difyline/webhook"
	"difyline/workers"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var version = "dev"

const (
	shutdownTimeout = 5 * time.Second
	janitorInterval = time.Hour
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "difyline",
		Short:         "LINE webhook relay answering through Dify",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "optional YAML/JSON config file (environment overrides it)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configPath)
		},
	})
	root.AddCommand(newSignCmd(&configPath))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})

	return root
}

// newSignCmd prints the X-Line-Signature for a body, for hand-made webhook calls.
func newSignCmd(configPath *string) *cobra.Command {
	var secret string

	cmd := &cobra.Command{
		Use:   "sign [file]",
		Short: "Print the X-Line-Signature of a request body (file or stdin)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				cfg, err := config.Load(*configPath)
				if err != nil {
					return err
				}
				secret = cfg.Line.ChannelSecret
			}
			if secret == "" {
				return errors.New("channel secret not set (use --secret or LINE_CHANNEL_SECRET)")
			}

			var (
				body []byte
				err  error
			)
			if len(args) == 1 && args[0] != "-" {
				body, err = os.ReadFile(args[0])
			} else {
				body, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return fmt.Errorf("read body: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), webhook.Sign(secret, body))
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "channel secret (defaults to the configured one)")
	return cmd
}

func serve(parent context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	cfg.LogSummary(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var gateway workers.Gateway
	switch cfg.AI.Provider {
	case config.PROVIDER_OPENAI:
		gateway = tools.NewOpenAIClient(cfg, logger)
	default:
		gateway = tools.NewDifyClient(cfg, logger)
	}

	replier, err := tools.NewLineReplier(cfg, logger)
	if err != nil {
		return err
	}

	var (
		ledger          *dbpkg.Ledger
		processorLedger workers.Ledger
	)
	if cfg.LedgerEnabled() {
		database, err := dbpkg.Connect(cfg, logger)
		if err != nil {
			logger.Error("database connection failed", "error", err)
			return err
		}
		defer database.Close()

		ledger = dbpkg.NewLedger(database)
		processorLedger = ledger
		workers.StartLedgerJanitor(ctx, ledger, cfg.LedgerRetention, janitorInterval, logger)
	}

	processor := workers.NewEventProcessor(cfg, gateway, replier, processorLedger, logger)

	if cfg.SlogLevel() != slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	router.Initialize(r, cfg, router.Dependencies{
		Receiver:  webhook.NewReceiver(cfg.Line.ChannelSecret, logger),
		Processor: processor,
		Ledger:    ledger,
		Logger:    logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.ApiPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr, "bot", cfg.BotName, "provider", cfg.AI.Provider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", "error", err)
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		return err
	}
	return nil
}
