package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/skalibog/emacross/internal/config"
	"github.com/skalibog/emacross/pkg/logger"
	"github.com/skalibog/emacross/pkg/models"
	"go.uber.org/zap"
)

// Sink получатель сигналов и служебных сообщений
type Sink interface {
	SendAlert(ctx context.Context, alert *models.Alert) error
	SendInfo(ctx context.Context, text string) error
}

// Multi рассылает в несколько получателей, ошибки объединяются
type Multi []Sink

func (m Multi) SendAlert(ctx context.Context, alert *models.Alert) error {
	var errs []error
	for _, s := range m {
		if err := s.SendAlert(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) SendInfo(ctx context.Context, text string) error {
	var errs []error
	for _, s := range m {
		if err := s.SendInfo(ctx, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink пишет сигналы в лог
type LogSink struct{}

func (LogSink) SendAlert(_ context.Context, a *models.Alert) error {
	targets := make([]string, len(a.Targets))
	for i, tp := range a.Targets {
		targets[i] = FormatPrice(tp)
	}
	logger.Info("Сигнал",
		zap.String("id", a.ID),
		zap.String("symbol", a.Symbol),
		zap.String("side", string(a.Side)),
		zap.String("timeframe", a.Timeframe),
		zap.String("entry_low", FormatPrice(a.EntryLow)),
		zap.String("entry_high", FormatPrice(a.EntryHigh)),
		zap.String("stop_loss", FormatPrice(a.StopLoss)),
		zap.Strings("targets", targets),
		zap.Time("bar_time", a.BarTime),
	)
	return nil
}

func (LogSink) SendInfo(_ context.Context, text string) error {
	logger.Info(text)
	return nil
}

// FromConfig собирает получателей из настроек
func FromConfig(cfg config.NotifyConfig) (Multi, error) {
	var sinks Multi
	if cfg.Log {
		sinks = append(sinks, LogSink{})
	}
	if cfg.DiscordWebhook != "" {
		sinks = append(sinks, NewDiscord(cfg.DiscordWebhook, cfg.Title, cfg.Timeout))
	}
	if cfg.Telegram.Token != "" {
		tg, err := NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, cfg.Title)
		if err != nil {
			return nil, fmt.Errorf("ошибка инициализации Telegram: %w", err)
		}
		sinks = append(sinks, tg)
	}
	return sinks, nil
}
