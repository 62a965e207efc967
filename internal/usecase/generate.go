package usecase

import (
	"context"
	"errors"
	"net/http"
	"time"

	"postcraft/internal/domain"
)

type GenerationStatus string

const (
	StatusEmpty  GenerationStatus = "EMPTY"
	StatusDone   GenerationStatus = "DONE"
	StatusFailed GenerationStatus = "FAILED"
)

const (
	callStatusOK      = "ok"
	callStatusError   = "error"
	callStatusTimeout = "timeout"
)

// GenerationOutcome is the result of RunGeneration. Posts are aligned with
// the service's platform order and are only set when Status is StatusDone.
type GenerationOutcome struct {
	Status     GenerationStatus
	Posts      []domain.Post
	Usage      domain.Usage
	EventCount int
}

// RunGeneration drafts one post per platform from userID's events of the
// current local day. Calls run sequentially; the first failure aborts the
// run and nothing is persisted, including usage already spent by earlier
// calls.
func (s *Service) RunGeneration(ctx context.Context, userID string) (GenerationOutcome, error) {
	if userID == "" {
		return GenerationOutcome{Status: StatusFailed}, newError(ErrorInvalidInput, "empty_user_id", nil)
	}

	now := s.now()
	window := DayWindow(now, s.loc)
	until := window.End
	if now.Before(until) {
		until = now
	}

	events, err := s.events.EventsBetween(ctx, userID, window.Start, until)
	if err != nil {
		return s.fail(newError(ErrorStoreUnavailable, "event_query_error", err))
	}
	if len(events) == 0 {
		s.rec.GenerationFinished(StatusEmpty, domain.Usage{})
		return GenerationOutcome{Status: StatusEmpty}, nil
	}

	aggregated := JoinEvents(events)
	posts := make([]domain.Post, 0, len(s.platforms))
	var total domain.Usage
	for _, platform := range s.platforms {
		prompt, err := BuildPrompt(platform, aggregated)
		if err != nil {
			return s.fail(err)
		}
		gen, err := s.generate(ctx, platform, prompt)
		if err != nil {
			return s.fail(err)
		}
		total = total.Add(gen.Usage)
		posts = append(posts, domain.Post{Platform: platform, Text: gen.Text})
	}

	if err := s.users.AddUsage(ctx, userID, total); err != nil {
		if !errors.Is(err, domain.ErrUserNotFound) {
			return s.fail(newError(ErrorStoreUnavailable, "usage_write_error", err))
		}
		s.logger.WarnContext(ctx, "usage not persisted, user not registered", "user_id", userID)
	}

	s.rec.GenerationFinished(StatusDone, total)
	return GenerationOutcome{
		Status:     StatusDone,
		Posts:      posts,
		Usage:      total,
		EventCount: len(events),
	}, nil
}

func (s *Service) generate(ctx context.Context, platform domain.Platform, prompt string) (domain.Generation, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	start := time.Now()
	gen, err := s.gen.Generate(callCtx, s.model, prompt)
	elapsed := time.Since(start)
	if err == nil {
		s.rec.GenerationCall(platform, callStatusOK, elapsed)
		return gen, nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		s.rec.GenerationCall(platform, callStatusTimeout, elapsed)
		return domain.Generation{}, newError(ErrorGenerationTimeout, "generation_timeout", err)
	}
	s.rec.GenerationCall(platform, callStatusError, elapsed)
	if status, ok := upstreamStatusCode(err); ok && status == http.StatusTooManyRequests {
		return domain.Generation{}, newError(ErrorGeneration, "generation_rate_limited", err)
	}
	return domain.Generation{}, newError(ErrorGeneration, "generation_error", err)
}

func (s *Service) fail(err error) (GenerationOutcome, error) {
	s.rec.GenerationFinished(StatusFailed, domain.Usage{})
	return GenerationOutcome{Status: StatusFailed}, err
}
