package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	sig "github.com/skalibog/emacross/internal/analysis/signal"
	"github.com/skalibog/emacross/internal/config"
	"github.com/skalibog/emacross/internal/exchange"
	"github.com/skalibog/emacross/internal/metrics"
	"github.com/skalibog/emacross/internal/notify"
	"github.com/skalibog/emacross/internal/scanner"
	"github.com/skalibog/emacross/internal/storage"
	"github.com/skalibog/emacross/internal/ui"
	"github.com/skalibog/emacross/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	// Обработка флагов командной строки
	configPath := flag.String("config", "config.yaml", "путь к файлу конфигурации")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Консоль занята терминальным интерфейсом
	if cfg.UI.Enabled {
		cfg.Logging.Console = false
	}
	if err := logger.Init(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error("Сканер остановлен с ошибкой", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("Завершение работы")
}

func run(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	provider := exchange.NewProvider(cfg.Provider)
	engine := sig.NewEngine(cfg.Signal, cfg.Trading.MinBars, provider, sig.NewStore())

	sinks, err := notify.FromConfig(cfg.Notify)
	if err != nil {
		return err
	}

	var rec *metrics.Recorder
	if cfg.Metrics.Enabled {
		rec = metrics.New()
		go func() {
			if err := rec.Serve(ctx, cfg.Metrics.Addr); err != nil {
				logger.Error("Ошибка сервера метрик", zap.Error(err))
			}
		}()
	}

	var journal *storage.InfluxDBJournal
	if cfg.Storage.Enabled {
		connectCtx, cancelConnect := context.WithTimeout(ctx, 10*time.Second)
		journal, err = storage.NewInfluxDBJournal(connectCtx, cfg.Storage)
		cancelConnect()
		if err != nil {
			return fmt.Errorf("ошибка инициализации хранилища: %w", err)
		}
		defer journal.Close()
		sinks = append(sinks, journal)
	}

	var board *ui.TermUI
	if cfg.UI.Enabled {
		board = ui.NewTermUI(cfg.UI, cfg.Logging.JSONFile, "EMA Cross Scanner - "+provider.Name())
		if journal != nil {
			recent, err := journal.RecentAlerts(ctx, cfg.UI.MaxAlerts)
			if err != nil {
				logger.Warn("Не удалось загрузить историю сигналов", zap.Error(err))
			}
			board.Preload(recent)
		}
		sinks = append(sinks, board)
	}

	s := scanner.New(cfg, provider, engine, sinks, rec)
	if journal != nil {
		s.SetCandleSaver(journal)
	}

	if board == nil {
		if err := s.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	}

	// Сканер в фоне, интерфейс в основном потоке; выход из интерфейса останавливает сканер
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()
	if err := board.Run(ctx); err != nil {
		return err
	}
	cancel()
	if err := <-done; err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
