// Package bot maps classified chat messages onto the posting service and
// renders the replies.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"postcraft/internal/domain"
	"postcraft/internal/usecase"
)

const (
	DefaultWelcomeSticker = "CAACAgIAAxkBAAOxZtyYUI4ODkHu94eI9lb4FgABIaiPAAJeEgAC7JkpSXzv2aVH92Q7NgQ"
	DefaultLoadingSticker = "CAACAgIAAxkBAAOqZtyXKU6IQGxNQKTgaHlypD5iB18AArwMAAKHKDBJ7TeRmVghaAQ2BA"
)

const (
	welcomeFormat = "Hey! %s, Welcome. I will be writing highly engaging social media post for you ✈️ Just keep feeding me with the events throught the day. Let's shine on social media ✨"
	waitingFormat = "Hey! %s, Kindly wait for a moment. I am curating the post for you 🚀⌛"
	ackText       = "Noted 👍, Keep texting me your thougts. To generate the posts, just enter the commands: /generate"
	emptyText     = "No event for the day."
	apologyText   = "Facing difficulties. Please try again later 🙏"
	helpText      = "I only understand /start and /generate. Any other message is saved as an event for today."
	resultHeader  = "Here are your social media posts:"
)

type Messenger interface {
	SendText(chatID int64, text string) (int, error)
	SendSticker(chatID int64, fileID string) (int, error)
	Delete(chatID int64, messageID int) error
}

type Service interface {
	EnsureUser(ctx context.Context, u domain.User) (domain.User, error)
	RecordEvent(ctx context.Context, userID, text string) error
	RunGeneration(ctx context.Context, userID string) (usecase.GenerationOutcome, error)
}

type UpdateCounter interface {
	UpdateReceived(kind string)
}

type Options struct {
	WelcomeSticker string
	LoadingSticker string
	Counter        UpdateCounter
	Logger         *slog.Logger
}

type Router struct {
	messenger      Messenger
	service        Service
	welcomeSticker string
	loadingSticker string
	counter        UpdateCounter
	logger         *slog.Logger
}

func NewRouter(messenger Messenger, service Service, opts Options) (*Router, error) {
	if messenger == nil {
		return nil, errors.New("bot: messenger must not be nil")
	}
	if service == nil {
		return nil, errors.New("bot: service must not be nil")
	}
	r := &Router{
		messenger:      messenger,
		service:        service,
		welcomeSticker: opts.WelcomeSticker,
		loadingSticker: opts.LoadingSticker,
		counter:        opts.Counter,
		logger:         opts.Logger,
	}
	if r.welcomeSticker == "" {
		r.welcomeSticker = DefaultWelcomeSticker
	}
	if r.loadingSticker == "" {
		r.loadingSticker = DefaultLoadingSticker
	}
	if r.counter == nil {
		r.counter = nopCounter{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r, nil
}

// Dispatch handles one inbound message. It never returns an error; failures
// are logged and the user gets the apology text.
func (r *Router) Dispatch(ctx context.Context, in domain.Inbound) {
	r.counter.UpdateReceived(in.Kind.String())
	logger := r.logger.With("user_id", in.From.ExternalID, "chat_id", in.ChatID, "kind", in.Kind.String())

	switch in.Kind {
	case domain.InboundStart:
		r.start(ctx, logger, in)
	case domain.InboundGenerate:
		r.generate(ctx, logger, in)
	case domain.InboundText:
		r.record(ctx, logger, in)
	case domain.InboundUnknownCommand:
		r.reply(logger, in.ChatID, helpText)
	default:
		logger.WarnContext(ctx, "unhandled inbound kind")
	}
}

func (r *Router) start(ctx context.Context, logger *slog.Logger, in domain.Inbound) {
	if _, err := r.service.EnsureUser(ctx, in.From); err != nil {
		logger.ErrorContext(ctx, "register user failed", "err", err)
		r.reply(logger, in.ChatID, apologyText)
		return
	}
	r.reply(logger, in.ChatID, fmt.Sprintf(welcomeFormat, in.From.FirstName))
	if _, err := r.messenger.SendSticker(in.ChatID, r.welcomeSticker); err != nil {
		logger.WarnContext(ctx, "send welcome sticker failed", "err", err)
	}
}

func (r *Router) record(ctx context.Context, logger *slog.Logger, in domain.Inbound) {
	if err := r.service.RecordEvent(ctx, in.From.ExternalID, in.Text); err != nil {
		logger.ErrorContext(ctx, "record event failed", "err", err)
		r.reply(logger, in.ChatID, apologyText)
		return
	}
	r.reply(logger, in.ChatID, ackText)
}

func (r *Router) generate(ctx context.Context, logger *slog.Logger, in domain.Inbound) {
	var placeholders []int
	if id, err := r.messenger.SendText(in.ChatID, fmt.Sprintf(waitingFormat, in.From.FirstName)); err != nil {
		logger.WarnContext(ctx, "send waiting message failed", "err", err)
	} else {
		placeholders = append(placeholders, id)
	}
	if id, err := r.messenger.SendSticker(in.ChatID, r.loadingSticker); err != nil {
		logger.WarnContext(ctx, "send loading sticker failed", "err", err)
	} else {
		placeholders = append(placeholders, id)
	}

	outcome, err := r.service.RunGeneration(ctx, in.From.ExternalID)

	for _, id := range placeholders {
		if derr := r.messenger.Delete(in.ChatID, id); derr != nil {
			logger.WarnContext(ctx, "delete placeholder failed", "message_id", id, "err", derr)
		}
	}

	if err != nil {
		var uerr *usecase.Error
		if errors.As(err, &uerr) {
			logger.ErrorContext(ctx, "generation failed", "code", uerr.Code, "reason", uerr.Reason, "err", err)
		} else {
			logger.ErrorContext(ctx, "generation failed", "err", err)
		}
		r.reply(logger, in.ChatID, apologyText)
		return
	}

	switch outcome.Status {
	case usecase.StatusEmpty:
		r.reply(logger, in.ChatID, emptyText)
	case usecase.StatusDone:
		logger.InfoContext(ctx, "generation done",
			"events", outcome.EventCount,
			"prompt_tokens", outcome.Usage.PromptTokens,
			"completion_tokens", outcome.Usage.CompletionTokens,
		)
		r.reply(logger, in.ChatID, FormatPosts(outcome.Posts))
	default:
		logger.ErrorContext(ctx, "unexpected generation status", "status", outcome.Status)
		r.reply(logger, in.ChatID, apologyText)
	}
}

func (r *Router) reply(logger *slog.Logger, chatID int64, text string) {
	if _, err := r.messenger.SendText(chatID, text); err != nil {
		logger.Error("send reply failed", "err", err)
	}
}

// FormatPosts renders the combined reply: a header, then one "Platform:\ntext"
// section per post separated by blank lines.
func FormatPosts(posts []domain.Post) string {
	var b strings.Builder
	b.WriteString(resultHeader)
	for _, p := range posts {
		b.WriteString("\n\n")
		b.WriteString(p.Platform.String())
		b.WriteString(":\n")
		b.WriteString(p.Text)
	}
	return b.String()
}

type nopCounter struct{}

func (nopCounter) UpdateReceived(string) {}
