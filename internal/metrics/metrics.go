// Package metrics holds the Prometheus collectors shared by the client
// components and serves them over HTTP when enabled.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chitieu/internal/middleware/trace"
)

// Outcomes of a pushed event reaching a collection.
const (
	OutcomeApplied   = "applied"
	OutcomeDiscarded = "discarded"
	OutcomeLate      = "late"
	OutcomeMalformed = "malformed"
)

const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultPartial = "partial"
	ResultDenied  = "denied"
)

var (
	CollectionEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chitieu",
		Subsystem: "collection",
		Name:      "events_total",
		Help:      "Push events received by synchronized collections, by outcome.",
	}, []string{"table", "outcome"})

	CollectionLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chitieu",
		Subsystem: "collection",
		Name:      "loads_total",
		Help:      "Initial loads issued by synchronized collections.",
	}, []string{"table", "result"})

	ChannelDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chitieu",
		Subsystem: "collection",
		Name:      "channel_drops_total",
		Help:      "Push channels that stopped delivering before their collection was closed.",
	}, []string{"table"})

	LedgerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chitieu",
		Subsystem: "ledger",
		Name:      "operations_total",
		Help:      "Ledger mutations by operation and result.",
	}, []string{"operation", "result"})

	RelayMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chitieu",
		Subsystem: "amqp",
		Name:      "messages_total",
		Help:      "Change messages handled by the AMQP relay.",
	}, []string{"direction", "result"})

	ExportedRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chitieu",
		Subsystem: "exporter",
		Name:      "rows_total",
		Help:      "Ledger entries appended to the spreadsheet.",
	}, []string{"result"})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve listens on addr until ctx is done.
func Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           trace.Handler(logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics server shutdown failed", "error", err)
		}
	}()

	logger.InfoContext(ctx, "Serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
