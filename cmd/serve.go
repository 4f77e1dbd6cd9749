package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/monitoring"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the outreach API server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		env, err := initEnv(ctx, config.ModeServe)
		if err != nil {
			return err
		}
		defer env.Close()

		seeded, err := seedDefaultTemplate(ctx, env.Store)
		if err != nil {
			return err
		}
		if seeded {
			zap.L().Info("seeded default template")
		}

		stuck := time.Duration(cfg.Monitoring.StuckSendMins) * time.Minute
		collector := monitoring.NewCollector(env.Store, stuck)
		if cfg.Monitoring.Enabled {
			go newChecker(env.Store, cfg).Run(ctx)
		}

		handler, api := buildRouter(ctx, env, collector, apiConfig{
			APIKey:       cfg.Server.APIKey,
			CORSOrigins:  cfg.Server.CORSOrigins,
			DefaultLimit: cfg.Pipeline.DefaultResultLimit,
			LookbackHrs:  cfg.Monitoring.LookbackWindowHours,
		})

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		// Interrupted runs leave claims for reconcile to release.
		api.Wait()
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
