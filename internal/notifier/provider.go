package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/slack-go/slack"
	"github.com/smallbiznis/orderbilling/internal/config"
	"go.uber.org/zap"
)

// Provider delivers a plain-text message to the operators' chat.
type Provider interface {
	Name() string
	Send(ctx context.Context, text string) error
}

type NoOpProvider struct {
	log *zap.Logger
}

func (p *NoOpProvider) Name() string { return config.NotifierNoop }

func (p *NoOpProvider) Send(_ context.Context, text string) error {
	if p.log != nil {
		p.log.Debug("notification dropped", zap.String("text", text))
	}
	return nil
}

type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

type SlackProvider struct {
	client  slackPoster
	channel string
}

func NewSlackProvider(token, channel string, options ...slack.Option) (*SlackProvider, error) {
	if strings.TrimSpace(token) == "" || strings.TrimSpace(channel) == "" {
		return nil, errors.New("slack token and channel are required")
	}
	return &SlackProvider{client: slack.New(token, options...), channel: channel}, nil
}

func (p *SlackProvider) Name() string { return config.NotifierSlack }

func (p *SlackProvider) Send(ctx context.Context, text string) error {
	if _, _, err := p.client.PostMessageContext(ctx, p.channel, slack.MsgOptionText(text, false)); err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	return nil
}

type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type TelegramProvider struct {
	bot    telegramSender
	chatID int64
}

func NewTelegramProvider(token string, chatID int64) (*TelegramProvider, error) {
	if strings.TrimSpace(token) == "" || chatID == 0 {
		return nil, errors.New("telegram token and chat id are required")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &TelegramProvider{bot: bot, chatID: chatID}, nil
}

func (p *TelegramProvider) Name() string { return config.NotifierTelegram }

func (p *TelegramProvider) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := p.bot.Send(tgbotapi.NewMessage(p.chatID, text)); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func NewProvider(cfg config.Config, log *zap.Logger) (Provider, error) {
	n := cfg.Notifier
	switch n.Provider {
	case config.NotifierSlack:
		return NewSlackProvider(n.SlackToken, n.SlackChannel)
	case config.NotifierTelegram:
		return NewTelegramProvider(n.TelegramToken, n.TelegramChatID)
	case config.NotifierNoop, "":
		return &NoOpProvider{log: log.Named("notifier.noop")}, nil
	default:
		return nil, fmt.Errorf("unsupported notifier provider %q", n.Provider)
	}
}
