package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/buildloop-io/buildloop/internal/config"
	"github.com/buildloop-io/buildloop/internal/cost"
	"github.com/buildloop-io/buildloop/internal/httpapi"
	"github.com/buildloop-io/buildloop/internal/notify"
	"github.com/buildloop-io/buildloop/internal/otel"
	"github.com/buildloop-io/buildloop/internal/store"
	"github.com/buildloop-io/buildloop/pkg/models"
)

func newServeCmd() *cobra.Command {
	var (
		addr       string
		apiKey     string
		dev        bool
		dryRun     bool
		enableOtel bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the build API over HTTP (tickets, build trigger, SSE events)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ws := config.MustWorkspaceFrom(ctx)

			cfg, err := config.Load(ws)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.ValidateAgent(dryRun); err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			if apiKey != "" {
				cfg.APIKey = apiKey
			}

			rates := cost.DefaultRates()
			if cfg.RatesFile != "" {
				if rates, err = cost.LoadRates(cfg.RatesFile); err != nil {
					return err
				}
			}

			var metricsHandler http.Handler
			if enableOtel {
				h, err := otel.InitMeterProvider(ctx, "buildloop")
				if err != nil {
					return err
				}
				metricsHandler = h
			}

			app, err := httpapi.NewApp(httpapi.ServerOptions{
				Addr:        cfg.Addr,
				Workspace:   ws,
				Dev:         dev,
				APIKey:      cfg.APIKey,
				StoreDriver: cfg.Store.Driver,
				StorePath:   cfg.Store.Path,
				DBURL:       cfg.Store.URL,
				Collab: buildCollaborators(cfg, rates, dryRun, func(string) {
					// Server mode surfaces progress via SSE, not stdout.
				}),
				Notifier:       notify.FromEnv(),
				MetricsHandler: metricsHandler,
				UseOtelHTTP:    enableOtel,
			})
			if err != nil {
				return err
			}
			if enableOtel {
				if err := otel.InitMetricsWithTicketCount(ctx, ticketCounts(app.Store)); err != nil {
					return err
				}
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- app.Server.ListenAndServe()
			}()
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "buildloop serving on http://%s\n", cfg.Addr)

			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return app.Server.Shutdown(shutdownCtx)
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config, 127.0.0.1:4711)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Require X-API-Key on requests")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable permissive CORS for a local dashboard")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Use stub collaborators instead of the agent binary")
	cmd.Flags().BoolVar(&enableOtel, "otel", false, "Export OpenTelemetry metrics on /metrics")
	return cmd
}

// ticketCounts feeds the per-status ticket gauge from the store.
func ticketCounts(st store.Store) otel.TicketCountFunc {
	return func() (todo, inProgress, done, errored int64) {
		tf, err := st.Load(context.Background())
		if err != nil {
			return 0, 0, 0, 0
		}
		for _, tk := range tf.Tickets {
			switch tk.Status {
			case models.StatusTodo:
				todo++
			case models.StatusInProgress:
				inProgress++
			case models.StatusDone:
				done++
			case models.StatusError:
				errored++
			}
		}
		return todo, inProgress, done, errored
	}
}
