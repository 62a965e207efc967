package usecase

import (
	"context"
	"errors"
	"strings"

	"postcraft/internal/domain"
)

// RecordEvent appends one event for userID. The user does not need to be
// registered first.
func (s *Service) RecordEvent(ctx context.Context, userID, text string) error {
	if strings.TrimSpace(userID) == "" {
		return newError(ErrorInvalidInput, "empty_user_id", nil)
	}
	if strings.TrimSpace(text) == "" {
		return newError(ErrorInvalidInput, "empty_text", nil)
	}
	ev := domain.Event{
		ID:        newUUID(),
		OwnerID:   userID,
		Text:      text,
		CreatedAt: s.now(),
	}
	if err := s.events.InsertEvent(ctx, ev); err != nil {
		return newError(ErrorStoreUnavailable, "event_insert_error", err)
	}
	s.rec.EventRecorded()
	return nil
}

// EnsureUser creates the profile on first contact and otherwise returns the
// stored one unchanged.
func (s *Service) EnsureUser(ctx context.Context, u domain.User) (domain.User, error) {
	if strings.TrimSpace(u.ExternalID) == "" {
		return domain.User{}, newError(ErrorInvalidInput, "empty_external_id", nil)
	}
	if strings.TrimSpace(u.FirstName) == "" {
		return domain.User{}, newError(ErrorInvalidInput, "empty_first_name", nil)
	}
	if strings.TrimSpace(u.LastName) == "" {
		return domain.User{}, newError(ErrorInvalidInput, "empty_last_name", nil)
	}
	u.PromptTokensUsed = 0
	u.CompletionTokensUsed = 0
	u.CreatedAt = s.now()

	stored, err := s.users.EnsureUser(ctx, u)
	if err != nil {
		if errors.Is(err, domain.ErrHandleTaken) {
			return domain.User{}, newError(ErrorHandleTaken, "display_handle_taken", err)
		}
		return domain.User{}, newError(ErrorStoreUnavailable, "user_upsert_error", err)
	}
	return stored, nil
}
