package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/skalibog/emacross/pkg/logger"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// Config представляет полную конфигурацию приложения
type Config struct {
	Provider ProviderConfig `yaml:"provider"`
	Trading  TradingConfig  `yaml:"trading"`
	Signal   SignalConfig   `yaml:"signal"`
	Scan     ScanConfig     `yaml:"scan"`
	Notify   NotifyConfig   `yaml:"notify"`
	Storage  StorageConfig  `yaml:"storage"`
	UI       UIConfig       `yaml:"ui"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  logger.Config  `yaml:"logging"`
}

// ProviderConfig выбор и настройки источника рыночных данных
type ProviderConfig struct {
	Name          string            `yaml:"name"`
	ExchangeLabel string            `yaml:"exchange_label"`
	Timeout       time.Duration     `yaml:"timeout"`
	UniverseTTL   time.Duration     `yaml:"universe_ttl"`
	Retry         RetryConfig       `yaml:"retry"`
	Hyperliquid   HyperliquidConfig `yaml:"hyperliquid"`
	Blofin        BlofinConfig      `yaml:"blofin"`
	Binance       BinanceConfig     `yaml:"binance"`
}

// RetryConfig политика повторов при временных ошибках
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	Multiplier float64       `yaml:"multiplier"`
}

// HyperliquidConfig настройки REST-шлюза Hyperliquid
type HyperliquidConfig struct {
	BaseURL    string `yaml:"base_url"`
	KlinesPath string `yaml:"klines_path"`
	InfoPath   string `yaml:"info_path"`
	ForceQuote string `yaml:"force_quote"`
}

// BlofinConfig настройки REST API BloFin
type BlofinConfig struct {
	BaseURL         string `yaml:"base_url"`
	KlinesPath      string `yaml:"klines_path"`
	InstrumentsPath string `yaml:"instruments_path"`
	TickersPath     string `yaml:"tickers_path"`
	FundingPath     string `yaml:"funding_path"`
	InstType        string `yaml:"inst_type"`
	PageLimit       int    `yaml:"page_limit"`
}

// BinanceConfig содержит настройки подключения к Binance Futures
type BinanceConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	Testnet   bool   `yaml:"testnet"`
	PageLimit int    `yaml:"page_limit"`
}

// TradingConfig набор символов и рабочий таймфрейм
type TradingConfig struct {
	Symbols     []string          `yaml:"symbols"`
	Timeframe   string            `yaml:"timeframe"`
	MinBars     int               `yaml:"min_bars"`
	AutoSymbols AutoSymbolsConfig `yaml:"auto_symbols"`
}

// AutoSymbolsConfig автоматический выбор символов по объему
type AutoSymbolsConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Quote     string  `yaml:"quote"`
	TopN      int     `yaml:"top_n"`
	MinVolume float64 `yaml:"min_volume"`
}

// SignalConfig параметры индикаторов, фильтров и уровней
type SignalConfig struct {
	EMAFast      int     `yaml:"ema_fast"`
	EMASlow      int     `yaml:"ema_slow"`
	EMATrend     int     `yaml:"ema_trend"`
	ATRPeriod    int     `yaml:"atr_period"`
	ADXPeriod    int     `yaml:"adx_period"`
	VolumeSMA    int     `yaml:"volume_sma"`
	MinADX       float64 `yaml:"min_adx"`
	VolumeMult   float64 `yaml:"volume_mult"`
	CooldownBars int     `yaml:"cooldown_bars"`
	// DedupRetentionBars > 0 включает вытеснение старых записей дедупликации
	DedupRetentionBars int `yaml:"dedup_retention_bars"`

	Leverage    int       `yaml:"leverage"`
	RiskATR     float64   `yaml:"risk_atr"`
	PullLower   float64   `yaml:"pull_lower"`
	PullUpper   float64   `yaml:"pull_upper"`
	TargetMults []float64 `yaml:"target_mults"`

	HTF     HTFConfig     `yaml:"htf"`
	Funding FundingConfig `yaml:"funding"`
}

// HTFConfig фильтр тренда старшего таймфрейма
type HTFConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Timeframe string `yaml:"timeframe"`
	EMA       int    `yaml:"ema"`
	MinBars   int    `yaml:"min_bars"`
	Limit     int    `yaml:"limit"`
}

// FundingConfig фильтр ставки финансирования (в процентах)
type FundingConfig struct {
	Enabled bool    `yaml:"enabled"`
	MaxAbs  float64 `yaml:"max_abs"`
}

// ScanConfig параметры цикла сканирования
type ScanConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
	Throttle     time.Duration `yaml:"throttle"`
	BatchPause   time.Duration `yaml:"batch_pause"`
	ErrorPause   time.Duration `yaml:"error_pause"`
	Quiet        bool          `yaml:"quiet"`
}

// NotifyConfig получатели сигналов
type NotifyConfig struct {
	Title          string         `yaml:"title"`
	DiscordWebhook string         `yaml:"discord_webhook"`
	Timeout        time.Duration  `yaml:"timeout"`
	Telegram       TelegramConfig `yaml:"telegram"`
	Log            bool           `yaml:"log"`
}

// TelegramConfig настройки Telegram-бота
type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

// StorageConfig настройки журнала сигналов в InfluxDB
type StorageConfig struct {
	Enabled      bool   `yaml:"enabled"`
	URL          string `yaml:"url"`
	Token        string `yaml:"token"`
	Organization string `yaml:"organization"`
	Bucket       string `yaml:"bucket"`
	SaveCandles  bool   `yaml:"save_candles"`
}

// UIConfig настройки пользовательского интерфейса
type UIConfig struct {
	Enabled     bool `yaml:"enabled"`
	RefreshRate int  `yaml:"refresh_rate_ms"`
	MaxAlerts   int  `yaml:"max_alerts"`
}

// MetricsConfig экспорт метрик Prometheus
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			Name:        "hyperliquid",
			Timeout:     10 * time.Second,
			UniverseTTL: time.Hour,
			Retry: RetryConfig{
				Attempts:   4,
				BaseDelay:  400 * time.Millisecond,
				MaxDelay:   5 * time.Second,
				Multiplier: 1.6,
			},
			Hyperliquid: HyperliquidConfig{
				BaseURL:    "https://api.hyperliquid.xyz",
				KlinesPath: "/api/v1/ohlcv",
				InfoPath:   "/info",
				ForceQuote: "USD",
			},
			Blofin: BlofinConfig{
				BaseURL:         "https://openapi.blofin.com",
				KlinesPath:      "/api/v1/market/candles",
				InstrumentsPath: "/api/v1/market/instruments",
				TickersPath:     "/api/v1/market/tickers",
				FundingPath:     "/api/v1/market/funding-rate",
				InstType:        "SWAP",
				PageLimit:       300,
			},
			Binance: BinanceConfig{
				PageLimit: 1500,
			},
		},
		Trading: TradingConfig{
			Symbols:   []string{"MTL/USDT"},
			Timeframe: "5m",
			MinBars:   400,
			AutoSymbols: AutoSymbolsConfig{
				Quote: "USDT",
				TopN:  12,
			},
		},
		Signal: SignalConfig{
			EMAFast:      5,
			EMASlow:      50,
			EMATrend:     200,
			ATRPeriod:    14,
			ADXPeriod:    14,
			VolumeSMA:    20,
			MinADX:       18,
			VolumeMult:   1.4,
			CooldownBars: 6,
			Leverage:     20,
			RiskATR:      2.2,
			PullLower:    0.35,
			PullUpper:    0.20,
			TargetMults:  []float64{0.8, 1.6, 2.4, 3.5, 4.2, 5.0},
			HTF: HTFConfig{
				Enabled:   true,
				Timeframe: "1h",
				EMA:       200,
				MinBars:   210,
				Limit:     300,
			},
			Funding: FundingConfig{
				MaxAbs: 0.05,
			},
		},
		Scan: ScanConfig{
			PollInterval: 30 * time.Second,
			BatchSize:    8,
			Throttle:     250 * time.Millisecond,
			BatchPause:   time.Second,
			ErrorPause:   5 * time.Second,
		},
		Notify: NotifyConfig{
			Title:   "⭐  VIP Signal  ⭐",
			Timeout: 10 * time.Second,
			Log:     true,
		},
		UI: UIConfig{
			RefreshRate: 500,
			MaxAlerts:   20,
		},
		Metrics: MetricsConfig{
			Addr: ":9108",
		},
		Logging: logger.Config{
			Level:    "info",
			File:     "app.log",
			JSONFile: "app.json.log",
			Console:  true,
		},
	}
}

// Load загружает конфигурацию: значения по умолчанию, затем файл (если есть), затем окружение
func Load(path string) (*Config, error) {
	cfg := Default()

	// .env не обязателен
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("ошибка чтения .env: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("ошибка разбора файла конфигурации: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
			logger.Warn("Файл конфигурации не найден, используются значения по умолчанию", zap.String("path", path))
		default:
			return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Info("Загружена конфигурация",
		zap.String("provider", cfg.Provider.Name),
		zap.String("timeframe", cfg.Trading.Timeframe),
		zap.Strings("symbols", cfg.Trading.Symbols))
	return cfg, nil
}

// Validate проверяет согласованность параметров
func (c *Config) Validate() error {
	s := c.Signal
	var errs []error
	if c.Trading.Timeframe == "" {
		errs = append(errs, errors.New("trading.timeframe не задан"))
	}
	if c.Trading.MinBars < 3 {
		errs = append(errs, fmt.Errorf("trading.min_bars должен быть >= 3, получено %d", c.Trading.MinBars))
	}
	if s.EMAFast <= 0 || s.EMASlow <= 0 || s.EMATrend <= 0 || s.ATRPeriod <= 0 || s.ADXPeriod <= 0 || s.VolumeSMA <= 0 {
		errs = append(errs, errors.New("длины индикаторов должны быть положительными"))
	}
	if s.EMAFast >= s.EMASlow {
		errs = append(errs, fmt.Errorf("signal.ema_fast (%d) должна быть меньше signal.ema_slow (%d)", s.EMAFast, s.EMASlow))
	}
	if s.PullLower <= s.PullUpper {
		errs = append(errs, fmt.Errorf("signal.pull_lower (%v) должен быть больше signal.pull_upper (%v)", s.PullLower, s.PullUpper))
	}
	if s.RiskATR <= 0 {
		errs = append(errs, errors.New("signal.risk_atr должен быть положительным"))
	}
	if len(s.TargetMults) == 0 {
		errs = append(errs, errors.New("signal.target_mults пуст"))
	}
	for _, m := range s.TargetMults {
		if m <= 0 {
			errs = append(errs, fmt.Errorf("множитель цели должен быть положительным: %v", m))
			break
		}
	}
	if s.CooldownBars < 0 {
		errs = append(errs, errors.New("signal.cooldown_bars не может быть отрицательным"))
	}
	if s.HTF.Enabled && (s.HTF.Timeframe == "" || s.HTF.EMA <= 0 || s.HTF.Limit <= 0) {
		errs = append(errs, errors.New("signal.htf: нужны timeframe, ema и limit"))
	}
	if c.Scan.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("scan.batch_size должен быть >= 1, получено %d", c.Scan.BatchSize))
	}
	if c.Scan.PollInterval <= 0 {
		errs = append(errs, errors.New("scan.poll_interval должен быть положительным"))
	}
	if c.Provider.Retry.Attempts < 1 {
		errs = append(errs, errors.New("provider.retry.attempts должен быть >= 1"))
	}
	if len(c.Trading.Symbols) == 0 && !c.Trading.AutoSymbols.Enabled {
		errs = append(errs, errors.New("trading.symbols пуст"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("некорректная конфигурация: %w", errors.Join(errs...))
	}
	return nil
}

// applyEnv переопределяет параметры переменными окружения
func (c *Config) applyEnv() error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			*dst = parseBool(v)
		}
	}

	str("PROVIDER", &c.Provider.Name)
	str("EXCHANGE_LABEL", &c.Provider.ExchangeLabel)
	str("HL_REST_BASE", &c.Provider.Hyperliquid.BaseURL)
	str("HL_KLINES", &c.Provider.Hyperliquid.KlinesPath)
	str("HL_INFO", &c.Provider.Hyperliquid.InfoPath)
	str("HL_FORCE_QUOTE", &c.Provider.Hyperliquid.ForceQuote)
	str("BLOFIN_REST_BASE", &c.Provider.Blofin.BaseURL)
	str("BLOFIN_INST_TYPE", &c.Provider.Blofin.InstType)
	str("BINANCE_API_KEY", &c.Provider.Binance.APIKey)
	str("BINANCE_API_SECRET", &c.Provider.Binance.APISecret)

	if v, ok := lookup("SYMBOLS"); ok {
		c.Trading.Symbols = splitList(v)
	}
	str("TIMEFRAME", &c.Trading.Timeframe)
	integer("MIN_BARS", &c.Trading.MinBars)
	boolean("AUTO_SYMBOLS", &c.Trading.AutoSymbols.Enabled)
	integer("TOP_N", &c.Trading.AutoSymbols.TopN)
	float("MIN_24H_VOL_USDT", &c.Trading.AutoSymbols.MinVolume)

	integer("LEVERAGE", &c.Signal.Leverage)
	float("RISK_ATR", &c.Signal.RiskATR)
	float("PULL_L", &c.Signal.PullLower)
	float("PULL_U", &c.Signal.PullUpper)
	if v, ok := lookup("TP_MULT"); ok {
		mults, err := parseFloats(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("TP_MULT: %w", err))
		} else {
			c.Signal.TargetMults = mults
		}
	}
	float("MIN_ADX", &c.Signal.MinADX)
	float("VOL_MULT", &c.Signal.VolumeMult)
	boolean("ENABLE_FUNDING_FILTER", &c.Signal.Funding.Enabled)
	float("MAX_ABS_FUNDING", &c.Signal.Funding.MaxAbs)
	integer("COOLDOWN_BARS", &c.Signal.CooldownBars)
	boolean("REQUIRE_TREND_HTF", &c.Signal.HTF.Enabled)
	str("HTF", &c.Signal.HTF.Timeframe)

	if v, ok := lookup("POLL_SECONDS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("POLL_SECONDS: %w", err))
		} else {
			c.Scan.PollInterval = time.Duration(n) * time.Second
		}
	}
	integer("SCAN_BATCH", &c.Scan.BatchSize)
	if v, ok := lookup("SCAN_THROTTLE_MS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("SCAN_THROTTLE_MS: %w", err))
		} else {
			c.Scan.Throttle = time.Duration(n) * time.Millisecond
		}
	}
	boolean("QUIET", &c.Scan.Quiet)

	str("DISCORD_WEBHOOK_URL", &c.Notify.DiscordWebhook)
	str("SIGNAL_TITLE", &c.Notify.Title)
	str("TELEGRAM_TOKEN", &c.Notify.Telegram.Token)
	if v, ok := lookup("TELEGRAM_CHAT_ID"); ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("TELEGRAM_CHAT_ID: %w", err))
		} else {
			c.Notify.Telegram.ChatID = id
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("ошибка переменных окружения: %w", errors.Join(errs...))
	}
	return nil
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on", "y":
		return true
	}
	return false
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseFloats(v string) ([]float64, error) {
	var out []float64
	for _, p := range splitList(v) {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}
