package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/zengdw/app-keep-alive-sub001/internal/domain"
)

// Telegram sends messages through a bot account. The bot token is verified
// once at construction; the chat is chosen per channel config.
type Telegram struct {
	bot *tele.Bot
}

func NewTelegram(token string) (*Telegram, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	bot, err := tele.NewBot(tele.Settings{Token: token})
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: bot}, nil
}

func (t *Telegram) Send(ctx context.Context, cfg domain.ChannelConfig, title, message string) error {
	text := message
	if title != "" {
		text = title + "\n\n" + message
	}
	if _, err := t.bot.Send(tele.ChatID(cfg.ChatID), text); err != nil {
		return fmt.Errorf("telegram send failed: %w", err)
	}
	return nil
}
