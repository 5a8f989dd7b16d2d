package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/skalibog/emacross/pkg/models"
)

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color,omitempty"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

// Discord отправка карточек через webhook
type Discord struct {
	webhook string
	title   string
	client  *http.Client
}

// NewDiscord создает отправителя в Discord
func NewDiscord(webhook, title string, timeout time.Duration) *Discord {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Discord{
		webhook: webhook,
		title:   title,
		client:  &http.Client{Timeout: timeout},
	}
}

func (d *Discord) SendAlert(ctx context.Context, a *models.Alert) error {
	return d.post(ctx, discordEmbed{
		Title:       d.title,
		Description: Describe(a, markdownBold),
		Color:       Color(a.Side),
	})
}

func (d *Discord) SendInfo(ctx context.Context, text string) error {
	return d.post(ctx, discordEmbed{Title: InfoTitle, Description: text})
}

func (d *Discord) post(ctx context.Context, embed discordEmbed) error {
	body, err := sonic.Marshal(discordPayload{Embeds: []discordEmbed{embed}})
	if err != nil {
		return fmt.Errorf("discord: ошибка сериализации: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhook, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: ошибка создания запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: ошибка отправки: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("discord: статус %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
