// Command server runs the public read-only API and the job submission
// surface (internal/queue) behind one HTTP listener: a chi REST router
// with CORS, and graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hallyuwire/corehub/server/internal/api"
	"github.com/hallyuwire/corehub/server/internal/config"
	"github.com/hallyuwire/corehub/server/internal/db"
	"github.com/hallyuwire/corehub/server/internal/logging"
	"github.com/hallyuwire/corehub/server/internal/queue"
)

const shutdownTimeout = 30 * time.Second

var (
	flagAddr           string
	flagAllowedOrigins string
)

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the corehub public API and job submission server",
	RunE:  runServer,
}

func main() {
	rootCmd.Flags().StringVar(&flagAddr, "addr", ":8080", "address to listen on")
	rootCmd.Flags().StringVar(&flagAllowedOrigins, "allowed-origins", "*", "comma-separated CORS allowed origins")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	logger := logging.Must(cfg.LogLevel, string(cfg.Environment))
	defer logger.Sync()

	database, err := db.NewDB(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("server: connecting to database: %w", err)
	}
	defer database.Close()

	store := api.NewPGStore(database)
	jobQueue := queue.New(database)

	var origins []string
	for _, o := range strings.Split(flagAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	srvHandler := api.NewServer(store, jobQueue, logger, api.Config{AllowedOrigins: origins})

	httpSrv := &http.Server{
		Addr:         flagAddr,
		Handler:      srvHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server: listening", zap.String("addr", flagAddr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen failed: %w", err)
	case <-quit:
		logger.Info("server: shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: forced shutdown: %w", err)
	}
	logger.Info("server: exited cleanly")
	return nil
}
