package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mentora/tutorvoice/internal/app"
	"github.com/mentora/tutorvoice/internal/config"
)

func main() {
	root := &cobra.Command{
		Use:           "tutorvoice",
		Short:         "AI tutoring voice session service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newConfigCmd())

	if err := root.Execute(); err != nil {
		log.Fatalf("%v", err)
	}
}

func newServeCmd() *cobra.Command {
	var bindAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			if bindAddr != "" {
				cfg.BindAddr = bindAddr
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&bindAddr, "bind", "", "listen address (overrides APP_BIND_ADDR)")
	return cmd
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			// Secrets stay out of the dump.
			fmt.Fprintf(cmd.OutOrStdout(), "bind_addr: %s\n", cfg.BindAddr)
			fmt.Fprintf(cmd.OutOrStdout(), "metrics_namespace: %s\n", cfg.MetricsNamespace)
			fmt.Fprintf(cmd.OutOrStdout(), "session_inactivity_timeout: %s\n", cfg.SessionInactivityTimeout)
			fmt.Fprintf(cmd.OutOrStdout(), "conversation_cap: %d\n", cfg.ConversationCap)
			fmt.Fprintf(cmd.OutOrStdout(), "completion_url: %s\n", cfg.CompletionURL)
			fmt.Fprintf(cmd.OutOrStdout(), "completion_model: %s\n", cfg.CompletionModel)
			fmt.Fprintf(cmd.OutOrStdout(), "speech_provider: %s\n", cfg.SpeechProvider)
			fmt.Fprintf(cmd.OutOrStdout(), "speech_restart_delay: %s\n", cfg.SpeechRestartDelay)
			fmt.Fprintf(cmd.OutOrStdout(), "database_url_set: %t\n", cfg.DatabaseURL != "")
			fmt.Fprintf(cmd.OutOrStdout(), "supabase_url_set: %t\n", cfg.SupabaseURL != "")
			fmt.Fprintf(cmd.OutOrStdout(), "redis_addr: %s\n", cfg.RedisAddr)
			return nil
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	built, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			log.Printf("cleanup error: %v", err)
		}
	}()
	log.Printf("backends: %s", built.Detail)

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: built.API.Router(),
	}

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	built.Sessions.StartJanitor(runCtx, 5*time.Second)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return fmt.Errorf("listen error: %w", err)
	case <-runCtx.Done():
	case <-sigCh:
		log.Printf("shutdown signal received")
	}

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
	return nil
}
