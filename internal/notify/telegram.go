package notify

import (
	"context"
	"fmt"
	"html"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/skalibog/emacross/pkg/models"
)

// Telegram отправка карточек в чат через бота
type Telegram struct {
	bot    *tgbot.BotAPI
	chatID int64
	title  string
}

// NewTelegram подключается к Bot API
func NewTelegram(token string, chatID int64, title string) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return newTelegramWithBot(b, chatID, title), nil
}

func newTelegramWithBot(b *tgbot.BotAPI, chatID int64, title string) *Telegram {
	return &Telegram{bot: b, chatID: chatID, title: title}
}

func (t *Telegram) SendAlert(_ context.Context, a *models.Alert) error {
	text := "<b>" + html.EscapeString(t.title) + "</b>\n\n" + Describe(a, htmlBold)
	return t.send(text)
}

func (t *Telegram) SendInfo(_ context.Context, text string) error {
	return t.send("<b>" + InfoTitle + "</b>\n" + html.EscapeString(text))
}

func (t *Telegram) send(text string) error {
	if t.chatID == 0 {
		return fmt.Errorf("telegram: не задан chat_id")
	}
	msg := tgbot.NewMessage(t.chatID, text)
	msg.ParseMode = tgbot.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

func htmlBold(s string) string { return "<b>" + html.EscapeString(s) + "</b>" }
