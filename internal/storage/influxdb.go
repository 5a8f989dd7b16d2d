package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/shopspring/decimal"
	"github.com/skalibog/emacross/internal/config"
	"github.com/skalibog/emacross/pkg/models"
)

const (
	measurementAlerts  = "alerts"
	measurementEvents  = "events"
	measurementCandles = "candles"

	listSeparator = ";"
	noteSeparator = "|"
)

// InfluxDBJournal журнал сигналов в InfluxDB, подключается как получатель сигналов
type InfluxDBJournal struct {
	client      influxdb2.Client
	queryAPI    api.QueryAPI
	writeAPI    api.WriteAPIBlocking
	bucket      string
	saveCandles bool
}

// NewInfluxDBJournal подключается к InfluxDB и проверяет доступность сервера
func NewInfluxDBJournal(ctx context.Context, cfg config.StorageConfig) (*InfluxDBJournal, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Проверка соединения
	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ошибка соединения с InfluxDB: %w", err)
	}
	if health == nil || health.Status != domain.HealthCheckStatusPass {
		client.Close()
		return nil, fmt.Errorf("InfluxDB не в состоянии 'pass': %+v", health)
	}

	return &InfluxDBJournal{
		client:      client,
		queryAPI:    client.QueryAPI(cfg.Organization),
		writeAPI:    client.WriteAPIBlocking(cfg.Organization, cfg.Bucket),
		bucket:      cfg.Bucket,
		saveCandles: cfg.SaveCandles,
	}, nil
}

// Close закрывает соединение с базой данных
func (j *InfluxDBJournal) Close() {
	j.client.Close()
}

// SendAlert сохраняет сигнал
func (j *InfluxDBJournal) SendAlert(ctx context.Context, a *models.Alert) error {
	if err := j.writeAPI.WritePoint(ctx, alertPoint(a)); err != nil {
		return fmt.Errorf("ошибка записи сигнала в InfluxDB: %w", err)
	}
	return nil
}

// SendInfo сохраняет служебное сообщение
func (j *InfluxDBJournal) SendInfo(ctx context.Context, text string) error {
	p := influxdb2.NewPoint(
		measurementEvents,
		map[string]string{"kind": "info"},
		map[string]interface{}{"message": text},
		time.Now(),
	)
	if err := j.writeAPI.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("ошибка записи события в InfluxDB: %w", err)
	}
	return nil
}

// SaveCandles сохраняет свечи ряда, если это включено в настройках
func (j *InfluxDBJournal) SaveCandles(ctx context.Context, series *models.Series) error {
	if !j.saveCandles || series.Len() == 0 {
		return nil
	}
	points := make([]*write.Point, 0, series.Len())
	for _, bar := range series.Bars {
		points = append(points, influxdb2.NewPoint(
			measurementCandles,
			map[string]string{
				"symbol":   series.Symbol,
				"interval": series.Timeframe,
			},
			map[string]interface{}{
				"open":   bar.Open,
				"high":   bar.High,
				"low":    bar.Low,
				"close":  bar.Close,
				"volume": bar.Volume,
			},
			bar.OpenTime,
		))
	}
	if err := j.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("ошибка записи свечей в InfluxDB: %w", err)
	}
	return nil
}

// RecentAlerts последние сигналы, от новых к старым
func (j *InfluxDBJournal) RecentAlerts(ctx context.Context, limit int) ([]*models.Alert, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: -30d)
			|> filter(fn: (r) => r._measurement == "%s")
			|> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
			|> group()
			|> sort(columns: ["_time"], desc: true)
			|> limit(n: %d)
	`, j.bucket, measurementAlerts, limit)

	result, err := j.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса истории сигналов: %w", err)
	}
	defer result.Close()

	var alerts []*models.Alert
	for result.Next() {
		r := result.Record()
		a := &models.Alert{
			BarTime: r.Time(),
			Symbol:  stringValue(r.ValueByKey("symbol")),
			Side:    models.Side(stringValue(r.ValueByKey("side"))),
		}
		a.Timeframe = stringValue(r.ValueByKey("timeframe"))
		a.ID = stringValue(r.ValueByKey("id"))
		if lev, ok := r.ValueByKey("leverage").(int64); ok {
			a.Leverage = int(lev)
		}
		a.EntryHigh = decimalValue(r.ValueByKey("entry_high"))
		a.EntryLow = decimalValue(r.ValueByKey("entry_low"))
		a.StopLoss = decimalValue(r.ValueByKey("stop_loss"))
		a.Targets = parseTargets(stringValue(r.ValueByKey("targets")))
		a.Annotations = parseAnnotations(stringValue(r.ValueByKey("annotations")))
		if ts, ok := r.ValueByKey("created_at").(int64); ok {
			a.CreatedAt = time.UnixMilli(ts).UTC()
		}
		alerts = append(alerts, a)
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("ошибка разбора истории сигналов: %w", result.Err())
	}
	return alerts, nil
}

func alertPoint(a *models.Alert) *write.Point {
	targets := make([]string, len(a.Targets))
	for i, tp := range a.Targets {
		targets[i] = tp.String()
	}
	notes := make([]string, len(a.Annotations))
	for i, n := range a.Annotations {
		notes[i] = n.Label + "=" + n.Text
	}
	return influxdb2.NewPoint(
		measurementAlerts,
		map[string]string{
			"symbol":    a.Symbol,
			"side":      string(a.Side),
			"timeframe": a.Timeframe,
		},
		map[string]interface{}{
			"id":          a.ID,
			"leverage":    int64(a.Leverage),
			"entry_high":  a.EntryHigh.InexactFloat64(),
			"entry_low":   a.EntryLow.InexactFloat64(),
			"stop_loss":   a.StopLoss.InexactFloat64(),
			"targets":     strings.Join(targets, listSeparator),
			"annotations": strings.Join(notes, noteSeparator),
			"created_at":  a.CreatedAt.UnixMilli(),
		},
		a.BarTime,
	)
}

func stringValue(v interface{}) string {
	s, _ := v.(string)
	return s
}

func decimalValue(v interface{}) decimal.Decimal {
	if f, ok := v.(float64); ok {
		return decimal.NewFromFloat(f)
	}
	return decimal.Zero
}

func parseTargets(s string) []decimal.Decimal {
	var out []decimal.Decimal
	for _, part := range strings.Split(s, listSeparator) {
		if d, err := decimal.NewFromString(strings.TrimSpace(part)); err == nil {
			out = append(out, d)
		}
	}
	return out
}

func parseAnnotations(s string) []models.Annotation {
	var out []models.Annotation
	for _, part := range strings.Split(s, noteSeparator) {
		label, text, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		out = append(out, models.Annotation{Label: label, Text: text})
	}
	return out
}
