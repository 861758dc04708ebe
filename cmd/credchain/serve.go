package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"credchain/internal/advisory"
	"credchain/internal/app"
	"credchain/internal/config"
	"credchain/internal/logger"
	"credchain/internal/server"
	"credchain/internal/telemetry"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		Long: `Start the HTTP API. Settings come from the environment:
CREDCHAIN_ADDR, CREDCHAIN_BASE_PATH, CREDCHAIN_JWT_SECRET, CREDCHAIN_ALLOW_ACTOR_HEADER,
CREDCHAIN_ENV, CREDCHAIN_ADVISORY_URL, CREDCHAIN_OTEL_ENDPOINT. --addr and --base-path override them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := config.ParseServerEnv()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				env.Addr = addr
			}
			if cmd.Flags().Changed("base-path") {
				env.BasePath = basePath
			}
			log := logger.New(env.Environment)
			if env.JWTSecret == "" && !env.AllowActorHeader {
				log.Warn().Msg("neither CREDCHAIN_JWT_SECRET nor CREDCHAIN_ALLOW_ACTOR_HEADER is set; only API keys authenticate")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdownTracing, err := telemetry.Setup(ctx, "credchain", env.OTelEndpoint)
			if err != nil {
				return err
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), env.ShutdownTimeout)
				defer cancel()
				if err := shutdownTracing(sctx); err != nil {
					log.Error().Err(err).Msg("tracing shutdown")
				}
			}()

			return withWorkspace(ctx, func(ctx context.Context, w *app.Workspace) error {
				adv := advisory.New(env.AdvisoryURL, w.Config.Token.Decimals, log)
				adv.Timeout = env.AdvisoryTimeout
				handler, err := server.New(server.Config{
					Engine:   w.Engine,
					BasePath: env.BasePath,
					Auth: server.AuthConfig{
						JWTSecret:        env.JWTSecret,
						AllowActorHeader: env.AllowActorHeader,
						Logger:           log,
					},
					Advisory: adv,
					Logger:   log,
				})
				if err != nil {
					return err
				}

				hooks := server.NewWebhookDispatcher(w.Engine, log)
				latest, err := w.Engine.Repo.LatestEventID(ctx)
				if err != nil {
					return err
				}
				for i := range w.Config.Webhooks {
					hooks.SetCursor(i, latest)
				}
				go hooks.Run(ctx)

				srv := &http.Server{Addr: env.Addr, Handler: handler, ReadHeaderTimeout: env.ReadHeaderTimeout}
				go func() {
					<-ctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), env.ShutdownTimeout)
					defer cancel()
					if err := srv.Shutdown(sctx); err != nil {
						log.Error().Err(err).Msg("http shutdown")
					}
				}()
				log.Info().
					Str("addr", env.Addr).
					Str("base_path", env.BasePath).
					Str("workspace", viper.GetString("workspace")).
					Int("webhooks", len(w.Config.Webhooks)).
					Bool("advisory", env.AdvisoryURL != "").
					Str("openapi", path.Join(env.BasePath, "openapi.json")).
					Msg("serving credchain API")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				log.Info().Msg("server stopped")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}
