package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fxsml/gopipe-cep/message"
)

type endpointStatus struct {
	Name       string `json:"name"`
	Expression string `json:"expression"`
	Consumers  int    `json:"consumers"`
	Query      string `json:"query,omitempty"`
}

type healthStatus struct {
	Status    string           `json:"status"`
	Queries   int              `json:"queries"`
	Endpoints []endpointStatus `json:"endpoints"`
}

// Handler serves prometheus metrics on the configured path and endpoint
// status on /healthz.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))
	mux.HandleFunc("/healthz", a.healthz)
	return mux
}

func (a *App) healthz(w http.ResponseWriter, _ *http.Request) {
	status := healthStatus{Status: "ok", Queries: a.engine.Queries()}
	for _, ep := range a.component.Endpoints() {
		s := endpointStatus{
			Name:       ep.Name(),
			Expression: ep.Expression().Value,
			Consumers:  ep.Consumers(),
		}
		if q := ep.ActiveQuery(); q != nil {
			s.Query = q.ID()
		}
		status.Endpoints = append(status.Endpoints, s)
	}

	body, err := message.NewJSONMarshaler().Marshal(status)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

// serveMetrics starts the metrics server if enabled and returns its
// shutdown func.
func (a *App) serveMetrics() func() error {
	if !a.cfg.Metrics.Enable {
		return func() error { return nil }
	}

	srv := &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("Metrics server listening",
			"component", "app",
			"addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Metrics server failed",
				"component", "app",
				"error", err)
		}
	}()

	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
