package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"postcraft/internal/domain"
)

// maxMessageLen stays under Telegram's 4096 character limit.
const maxMessageLen = 4000

// Bot is the subset of *tgbotapi.BotAPI the client uses.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Handler processes one classified update.
type Handler func(ctx context.Context, in domain.Inbound)

type Client struct {
	bot         Bot
	logger      *slog.Logger
	pollTimeout int
}

func New(bot Bot, logger *slog.Logger) (*Client, error) {
	if bot == nil {
		return nil, errors.New("telegram: bot must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{bot: bot, logger: logger, pollTimeout: 30}, nil
}

// Connect authorises the token against the Bot API and wraps the result.
func Connect(token string, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram: token is required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, httpClient)
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	c, err := New(api, logger)
	if err != nil {
		return nil, err
	}
	c.logger.Info("telegram authorized", "username", api.Self.UserName)
	return c, nil
}

// SendText sends text as one or more messages and returns the id of the last one.
func (c *Client) SendText(chatID int64, text string) (int, error) {
	var id int
	for _, chunk := range splitText(text, maxMessageLen) {
		msg, err := c.bot.Send(tgbotapi.NewMessage(chatID, chunk))
		if err != nil {
			return 0, fmt.Errorf("telegram: send message: %w", err)
		}
		id = msg.MessageID
	}
	return id, nil
}

func (c *Client) SendSticker(chatID int64, fileID string) (int, error) {
	if fileID == "" {
		return 0, errors.New("telegram: sticker file id is empty")
	}
	msg, err := c.bot.Send(tgbotapi.NewSticker(chatID, tgbotapi.FileID(fileID)))
	if err != nil {
		return 0, fmt.Errorf("telegram: send sticker: %w", err)
	}
	return msg.MessageID, nil
}

func (c *Client) Delete(chatID int64, messageID int) error {
	if _, err := c.bot.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		return fmt.Errorf("telegram: delete message %d: %w", messageID, err)
	}
	return nil
}

// Poll long-polls for updates until ctx is done, running handle on its own
// goroutine per update. In-flight handlers are waited for before returning and
// do not inherit ctx cancellation.
func (c *Client) Poll(ctx context.Context, handle Handler) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = c.pollTimeout
	updates := c.bot.GetUpdatesChan(u)

	work := context.WithoutCancel(ctx)
	var wg sync.WaitGroup
	defer wg.Wait()

	c.logger.Info("telegram polling started")
	for {
		select {
		case <-ctx.Done():
			c.bot.StopReceivingUpdates()
			c.logger.Info("telegram polling stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			in, ok := ToInbound(update)
			if !ok {
				c.logger.Debug("ignoring update", "update_id", update.UpdateID)
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				handle(work, in)
			}()
		}
	}
}

// ToInbound classifies a text message update. Anything else is reported as not ok.
func ToInbound(update tgbotapi.Update) (domain.Inbound, bool) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil || msg.Text == "" {
		return domain.Inbound{}, false
	}

	in := domain.Inbound{
		Kind:      domain.InboundText,
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		Text:      msg.Text,
		From: domain.User{
			ExternalID:    strconv.FormatInt(msg.From.ID, 10),
			FirstName:     msg.From.FirstName,
			LastName:      msg.From.LastName,
			IsBot:         msg.From.IsBot,
			DisplayHandle: msg.From.UserName,
		},
	}
	if msg.IsCommand() {
		switch msg.Command() {
		case "start":
			in.Kind = domain.InboundStart
		case "generate":
			in.Kind = domain.InboundGenerate
		default:
			in.Kind = domain.InboundUnknownCommand
		}
	}
	return in, true
}

// splitText cuts s into chunks of at most limit bytes, preferring the last
// newline inside the window and never splitting a rune.
func splitText(s string, limit int) []string {
	if s == "" {
		return []string{""}
	}
	var chunks []string
	for len(s) > limit {
		cut := strings.LastIndex(s[:limit], "\n")
		if cut <= 0 {
			cut = limit
			for cut > 0 && !utf8.RuneStart(s[cut]) {
				cut--
			}
		}
		chunks = append(chunks, s[:cut])
		s = strings.TrimPrefix(s[cut:], "\n")
	}
	if s != "" {
		chunks = append(chunks, s)
	}
	return chunks
}
