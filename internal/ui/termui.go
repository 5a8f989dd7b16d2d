package ui

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/skalibog/emacross/internal/config"
	"github.com/skalibog/emacross/internal/notify"
	"github.com/skalibog/emacross/pkg/logger"
	"github.com/skalibog/emacross/pkg/models"
	"go.uber.org/zap"
)

// Стили UI
var (
	// Основные цвета
	primaryColor   = lipgloss.Color("#0077cc")
	secondaryColor = lipgloss.Color("#333333")
	errorColor     = lipgloss.Color("#cc3300")
	successColor   = lipgloss.Color("#33cc33")
	warningColor   = lipgloss.Color("#cccc00")
	debugColor     = lipgloss.Color("#9999ff")

	appStyle = lipgloss.NewStyle().
			Padding(1, 2).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor)
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffffff")).
			Background(primaryColor).
			Padding(0, 1).
			Align(lipgloss.Center)
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffffff")).
			Background(secondaryColor).
			Padding(0, 1)
	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(secondaryColor).
			Padding(0, 1)
	selectedStyle = lipgloss.NewStyle().Background(lipgloss.Color("#222222"))
	footerStyle   = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#999999")).
			Padding(0, 1)

	ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*m`)
)

const (
	maxLogs  = 50
	maxInfos = 5
)

// TermUI терминальная доска сигналов. Подключается как получатель сигналов.
type TermUI struct {
	mu            sync.RWMutex
	alerts        []*models.Alert // новые сверху
	infos         []string
	logs          []string
	config        config.UIConfig
	program       *tea.Program
	selectedIndex int
	width         int
	height        int
	logFile       string
	title         string
}

// Сообщения для обновления UI
type refreshMsg struct{}

// bubbleModel - модель для bubbletea
type bubbleModel struct {
	ui *TermUI
}

// NewTermUI создает доску; logFile - JSON-лог, хвост которого показывается внизу
func NewTermUI(cfg config.UIConfig, logFile, title string) *TermUI {
	if cfg.MaxAlerts <= 0 {
		cfg.MaxAlerts = 20
	}
	return &TermUI{
		logs:    []string{"Сканер запущен. Ожидание данных..."},
		config:  cfg,
		width:   120,
		height:  40,
		logFile: logFile,
		title:   title,
	}
}

// Preload заполняет доску сигналами из журнала
func (ui *TermUI) Preload(alerts []*models.Alert) {
	ui.mu.Lock()
	defer ui.mu.Unlock()

	ui.alerts = append(ui.alerts, alerts...)
	sort.SliceStable(ui.alerts, func(i, j int) bool {
		return ui.alerts[i].BarTime.After(ui.alerts[j].BarTime)
	})
	if len(ui.alerts) > ui.config.MaxAlerts {
		ui.alerts = ui.alerts[:ui.config.MaxAlerts]
	}
}

// SendAlert добавляет сигнал на доску
func (ui *TermUI) SendAlert(_ context.Context, a *models.Alert) error {
	ui.mu.Lock()
	ui.alerts = append([]*models.Alert{a}, ui.alerts...)
	if len(ui.alerts) > ui.config.MaxAlerts {
		ui.alerts = ui.alerts[:ui.config.MaxAlerts]
	}
	ui.mu.Unlock()

	ui.refresh()
	return nil
}

// SendInfo показывает служебное сообщение
func (ui *TermUI) SendInfo(_ context.Context, text string) error {
	ui.mu.Lock()
	ui.infos = append(ui.infos, fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), strings.ReplaceAll(text, "**", "")))
	if len(ui.infos) > maxInfos {
		ui.infos = ui.infos[len(ui.infos)-maxInfos:]
	}
	ui.mu.Unlock()

	ui.refresh()
	return nil
}

// Run показывает интерфейс до выхода пользователя или отмены контекста
func (ui *TermUI) Run(ctx context.Context) error {
	if err := ui.loadLogsFromFile(); err != nil {
		logger.Warn("Ошибка загрузки логов", zap.Error(err))
	}

	program := tea.NewProgram(bubbleModel{ui: ui}, tea.WithAltScreen(), tea.WithContext(ctx))
	ui.mu.Lock()
	ui.program = program
	ui.mu.Unlock()

	go ui.watchLogs(ctx)

	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("ошибка запуска UI: %w", err)
	}
	return nil
}

// watchLogs периодически перечитывает файл логов
func (ui *TermUI) watchLogs(ctx context.Context) {
	rate := time.Duration(ui.config.RefreshRate) * time.Millisecond
	if rate <= 0 {
		rate = time.Second
	}
	ticker := time.NewTicker(rate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ui.loadLogsFromFile(); err != nil {
				logger.Debug("Ошибка загрузки логов", zap.Error(err))
				continue
			}
			ui.refresh()
		}
	}
}

func (ui *TermUI) refresh() {
	ui.mu.RLock()
	p := ui.program
	ui.mu.RUnlock()
	if p != nil {
		p.Send(refreshMsg{})
	}
}

// loadLogsFromFile читает хвост JSON-лога
func (ui *TermUI) loadLogsFromFile() error {
	if ui.logFile == "" {
		return nil
	}
	file, err := os.Open(ui.logFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var logs []string
	for scanner.Scan() {
		logs = append(logs, formatLogLine(scanner.Text()))
		if len(logs) > maxLogs {
			logs = logs[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	if len(logs) > 0 {
		ui.mu.Lock()
		ui.logs = logs
		ui.mu.Unlock()
	}
	return nil
}

// formatLogLine строка zap JSON в вид "[15:04:05] [INFO] сообщение (ключ: значение)"
func formatLogLine(line string) string {
	var entry map[string]interface{}
	if err := sonic.UnmarshalString(line, &entry); err != nil {
		return line
	}

	level, _ := entry["level"].(string)
	ts, _ := entry["ts"].(string)
	msg, _ := entry["msg"].(string)
	level = ansiRegex.ReplaceAllString(level, "")

	timestamp := ""
	if t, err := time.Parse("02.01.2006 - 15:04:05.999999999Z07:00", ts); err == nil {
		timestamp = t.Format("15:04:05")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s] %s", timestamp, level, msg)

	keys := make([]string, 0, len(entry))
	for k := range entry {
		if k != "level" && k != "ts" && k != "msg" && k != "caller" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " (%s: %v)", k, entry[k])
	}
	return b.String()
}

// Методы для bubbletea
func (m bubbleModel) Init() tea.Cmd {
	return nil
}

func (m bubbleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up":
			m.ui.mu.Lock()
			m.ui.selectedIndex = max(0, m.ui.selectedIndex-1)
			m.ui.mu.Unlock()
		case "down":
			m.ui.mu.Lock()
			m.ui.selectedIndex = max(0, min(len(m.ui.alerts)-1, m.ui.selectedIndex+1))
			m.ui.mu.Unlock()
		case "r":
			if err := m.ui.loadLogsFromFile(); err != nil {
				logger.Warn("Ошибка загрузки логов", zap.Error(err))
			}
		}

	case tea.WindowSizeMsg:
		m.ui.mu.Lock()
		m.ui.width = msg.Width
		m.ui.height = msg.Height
		m.ui.mu.Unlock()

	case refreshMsg:
		// Просто перерисовываем
	}

	return m, nil
}

func (m bubbleModel) View() string {
	m.ui.mu.RLock()
	defer m.ui.mu.RUnlock()

	title := titleStyle.Render(m.ui.title)
	alerts := renderAlertsSection(m.ui.alerts, m.ui.selectedIndex)
	infos := renderLinesSection("СОБЫТИЯ", m.ui.infos, len(m.ui.infos))
	logs := renderLinesSection("ЛОГИ", m.ui.logs, m.ui.logsToShow())
	footer := footerStyle.Render("Клавиши: ↑/↓ - навигация, R - перезагрузить логи, Q - выход")

	return appStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			title,
			"\n",
			alerts,
			infos,
			logs,
			"\n",
			footer,
		),
	)
}

// logsToShow сколько строк лога помещается под сигналами
func (ui *TermUI) logsToShow() int {
	return max(5, ui.height-len(ui.alerts)-len(ui.infos)-20)
}

func renderAlertsSection(alerts []*models.Alert, selectedIndex int) string {
	header := headerStyle.Render("СИГНАЛЫ")
	content := strings.Builder{}

	if len(alerts) == 0 {
		content.WriteString("  Ожидание сигналов...\n")
	}
	for i, a := range alerts {
		line := "  " + formatAlertRow(a)
		if i == selectedIndex {
			line = selectedStyle.Render("> " + line[2:])
		}
		content.WriteString(line + "\n")
	}

	return sectionStyle.Render(lipgloss.JoinVertical(lipgloss.Left, header, content.String()))
}

// formatAlertRow время свечи, символ, направление, зона входа, стоп и первая цель
func formatAlertRow(a *models.Alert) string {
	target := "-"
	if len(a.Targets) > 0 {
		target = notify.FormatPrice(a.Targets[0])
	}
	return fmt.Sprintf("%s  %-14s %s  Вход: %s - %s  Стоп: %s  Цель 1: %s",
		a.BarTime.Local().Format("02.01 15:04"),
		a.Symbol,
		sideStyle(a.Side).Render(fmt.Sprintf("%-5s", a.Side)),
		notify.FormatPrice(a.EntryLow),
		notify.FormatPrice(a.EntryHigh),
		notify.FormatPrice(a.StopLoss),
		target,
	)
}

func sideStyle(side models.Side) lipgloss.Style {
	switch side {
	case models.SideLong:
		return lipgloss.NewStyle().Foreground(successColor).Bold(true)
	case models.SideShort:
		return lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	}
	return lipgloss.NewStyle().Foreground(warningColor)
}

func renderLinesSection(title string, lines []string, limit int) string {
	header := headerStyle.Render(title)
	content := strings.Builder{}

	start := 0
	if len(lines) > limit {
		start = len(lines) - limit
	}
	for _, line := range lines[start:] {
		content.WriteString("  " + colorByLevel(line) + "\n")
	}

	return sectionStyle.Render(lipgloss.JoinVertical(lipgloss.Left, header, content.String()))
}

// Выделение по уровню логирования
func colorByLevel(line string) string {
	switch {
	case strings.Contains(line, "[ERROR]"):
		return lipgloss.NewStyle().Foreground(errorColor).Render(line)
	case strings.Contains(line, "[INFO]"):
		return lipgloss.NewStyle().Foreground(successColor).Render(line)
	case strings.Contains(line, "[WARN]"):
		return lipgloss.NewStyle().Foreground(warningColor).Render(line)
	case strings.Contains(line, "[DEBUG]"):
		return lipgloss.NewStyle().Foreground(debugColor).Render(line)
	}
	return line
}
