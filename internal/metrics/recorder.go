package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/skalibog/emacross/pkg/logger"
	"go.uber.org/zap"
)

// Recorder метрики сканера. Нулевой указатель допустим, вызовы игнорируются.
type Recorder struct {
	registry      *prometheus.Registry
	scans         *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	alerts        *prometheus.CounterVec
	fetchErrors   *prometheus.CounterVec
	sinkErrors    prometheus.Counter
	cycleDuration prometheus.Histogram
	dedupEntries  prometheus.Gauge
}

// New создает метрики в собственном реестре
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		scans: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emacross_symbol_scans_total",
				Help: "Number of symbol scans by outcome",
			},
			[]string{"result"},
		),
		rejections: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emacross_rejections_total",
				Help: "Candidates stopped by a signal gate",
			},
			[]string{"gate"},
		),
		alerts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emacross_alerts_total",
				Help: "Emitted alerts",
			},
			[]string{"symbol", "side"},
		),
		fetchErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emacross_fetch_errors_total",
				Help: "Market data errors by kind",
			},
			[]string{"kind"},
		),
		sinkErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "emacross_sink_errors_total",
			Help: "Failed alert deliveries",
		}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "emacross_cycle_duration_seconds",
			Help:    "Duration of a full scan cycle",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		dedupEntries: f.NewGauge(prometheus.GaugeOpts{
			Name: "emacross_dedup_entries",
			Help: "Entries held by the dedup store",
		}),
	}
}

func (r *Recorder) RecordScan(result string) {
	if r == nil {
		return
	}
	r.scans.WithLabelValues(result).Inc()
}

func (r *Recorder) RecordRejection(gate string) {
	if r == nil {
		return
	}
	r.rejections.WithLabelValues(gate).Inc()
}

func (r *Recorder) RecordAlert(symbol, side string) {
	if r == nil {
		return
	}
	r.alerts.WithLabelValues(symbol, side).Inc()
}

func (r *Recorder) RecordFetchError(kind string) {
	if r == nil {
		return
	}
	r.fetchErrors.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordSinkError() {
	if r == nil {
		return
	}
	r.sinkErrors.Inc()
}

func (r *Recorder) RecordCycle(d time.Duration) {
	if r == nil {
		return
	}
	r.cycleDuration.Observe(d.Seconds())
}

func (r *Recorder) SetDedupEntries(n int) {
	if r == nil {
		return
	}
	r.dedupEntries.Set(float64(n))
}

// Handler HTTP-обработчик для /metrics
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Serve отдает метрики до отмены контекста
func (r *Recorder) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Метрики доступны", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
