package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/exploopio/scanorch/pkg/config"
	scanerrors "github.com/exploopio/scanorch/pkg/errors"
	"github.com/exploopio/scanorch/pkg/health"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the maintenance loop and the operations endpoints",
		Long: `serve fails scans that exceed the scan timeout, removes scans older than
the retention period, and exposes:

  GET /metrics              Prometheus metrics
  GET /healthz              store, disk and adapter health
  GET /scans/{id}           scan summary
  GET /scans/{id}/report    report of a finished scan`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(g)
			if err != nil {
				return err
			}
			defer a.close()

			if addr == "" {
				addr = a.cfg.Metrics.Addr
			}
			return a.serve(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: metrics.addr from config)")
	return cmd
}

func (a *app) serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go a.orch.RunMaintenance(ctx, a.cfg.Orchestrator.SweepInterval)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (a *app) router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", a.metrics.Handler()).Methods(http.MethodGet)
	r.Handle("/healthz", a.healthHandler()).Methods(http.MethodGet)
	r.HandleFunc("/scans/{id}", a.handleSummary).Methods(http.MethodGet)
	r.HandleFunc("/scans/{id}/report", a.handleReport).Methods(http.MethodGet)
	return r
}

func (a *app) healthHandler() *health.Handler {
	h := health.NewHandler(health.WithVersion(appVersion))
	h.Register("store", &health.StoreCheck{Ping: a.repo.Ping})
	h.Register("adapters", &health.AdapterCheck{Registry: a.registry})
	if a.cfg.Store.Driver == config.DriverSQLite && a.cfg.Store.Path != ":memory:" {
		h.Register("disk", &health.DiskCheck{Path: filepath.Dir(a.cfg.Store.Path), MinFreePercent: 5})
	}
	return h
}

func (a *app) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := a.orch.ScanSummary(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, summary)
}

func (a *app) handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := a.orch.Report(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, report)
}

func (a *app) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch scanerrors.GetKind(err) {
	case scanerrors.KindNotFound:
		status = http.StatusNotFound
	case scanerrors.KindConflict:
		status = http.StatusConflict
	case scanerrors.KindInvalidInput:
		status = http.StatusBadRequest
	default:
		a.logger.Error("request failed: %v", err)
	}
	writeJSONResponse(w, status, map[string]string{"error": err.Error()})
}

func writeJSONResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = writeJSON(w, v)
}
