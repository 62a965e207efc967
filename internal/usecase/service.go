package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"postcraft/internal/domain"
)

const (
	defaultModel       = "gemini-1.5-flash"
	defaultCallTimeout = 30 * time.Second
)

type EventStore interface {
	InsertEvent(ctx context.Context, e domain.Event) error
	EventsBetween(ctx context.Context, ownerID string, from, to time.Time) ([]domain.Event, error)
}

type UserStore interface {
	EnsureUser(ctx context.Context, u domain.User) (domain.User, error)
	AddUsage(ctx context.Context, userID string, usage domain.Usage) error
}

type Generator interface {
	Generate(ctx context.Context, model, prompt string) (domain.Generation, error)
}

// Recorder receives workflow measurements. The metrics package implements it.
type Recorder interface {
	EventRecorded()
	GenerationCall(platform domain.Platform, status string, d time.Duration)
	GenerationFinished(status GenerationStatus, usage domain.Usage)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// Options tunes a Service. Zero values select the defaults.
type Options struct {
	Model       string
	CallTimeout time.Duration
	Location    *time.Location
	Platforms   []domain.Platform
	Recorder    Recorder
	Logger      *slog.Logger
	Now         func() time.Time
}

// Service implements event intake, user registration and post generation.
// It holds no mutable state, so one instance serves concurrent handlers.
type Service struct {
	events      EventStore
	users       UserStore
	gen         Generator
	model       string
	callTimeout time.Duration
	loc         *time.Location
	platforms   []domain.Platform
	rec         Recorder
	logger      *slog.Logger
	now         func() time.Time
}

func NewService(events EventStore, users UserStore, gen Generator, opts Options) (*Service, error) {
	if events == nil {
		return nil, errors.New("usecase: event store must not be nil")
	}
	if users == nil {
		return nil, errors.New("usecase: user store must not be nil")
	}
	if gen == nil {
		return nil, errors.New("usecase: generator must not be nil")
	}
	platforms := opts.Platforms
	if len(platforms) == 0 {
		platforms = domain.Platforms()
	}
	for _, p := range platforms {
		if !p.Valid() {
			return nil, newError(ErrorUnknownPlatform, "unsupported_platform", errors.New(p.String()))
		}
	}
	s := &Service{
		events:      events,
		users:       users,
		gen:         gen,
		model:       opts.Model,
		callTimeout: opts.CallTimeout,
		loc:         opts.Location,
		platforms:   append([]domain.Platform(nil), platforms...),
		rec:         opts.Recorder,
		logger:      opts.Logger,
		now:         opts.Now,
	}
	if s.model == "" {
		s.model = defaultModel
	}
	if s.callTimeout <= 0 {
		s.callTimeout = defaultCallTimeout
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.rec == nil {
		s.rec = nopRecorder{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

type nopRecorder struct{}

func (nopRecorder) EventRecorded()                                       {}
func (nopRecorder) GenerationCall(domain.Platform, string, time.Duration) {}
func (nopRecorder) GenerationFinished(GenerationStatus, domain.Usage)    {}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

var newUUID = func() string {
	return uuid.NewString()
}
