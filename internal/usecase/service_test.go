package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"postcraft/internal/domain"
	"postcraft/internal/integrations/gemini"
)

// memStore is an in-memory EventStore and UserStore with call counters.
type memStore struct {
	mu           sync.Mutex
	events       []domain.Event
	users        map[string]domain.User
	insertErr    error
	queryErr     error
	upsertErr    error
	usageErr     error
	queryCalls   int
	usageCalls   int
	lastFrom     time.Time
	lastTo       time.Time
	insertCalled int
}

func newMemStore() *memStore {
	return &memStore{users: map[string]domain.User{}}
}

func (m *memStore) InsertEvent(_ context.Context, e domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertCalled++
	if m.insertErr != nil {
		return m.insertErr
	}
	m.events = append(m.events, e)
	return nil
}

func (m *memStore) EventsBetween(_ context.Context, ownerID string, from, to time.Time) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryCalls++
	m.lastFrom, m.lastTo = from, to
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	var out []domain.Event
	for _, e := range m.events {
		if e.OwnerID != ownerID || e.CreatedAt.Before(from) || e.CreatedAt.After(to) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *memStore) EnsureUser(_ context.Context, u domain.User) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return domain.User{}, m.upsertErr
	}
	if existing, ok := m.users[u.ExternalID]; ok {
		return existing, nil
	}
	m.users[u.ExternalID] = u
	return u, nil
}

func (m *memStore) AddUsage(_ context.Context, userID string, usage domain.Usage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usageCalls++
	if m.usageErr != nil {
		return m.usageErr
	}
	u, ok := m.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.PromptTokensUsed += usage.PromptTokens
	u.CompletionTokensUsed += usage.CompletionTokens
	m.users[userID] = u
	return nil
}

type genResponse struct {
	gen domain.Generation
	err error
}

type mockGenerator struct {
	responses []genResponse
	prompts   []string
	models    []string
	block     bool
}

func (m *mockGenerator) Generate(ctx context.Context, model, prompt string) (domain.Generation, error) {
	m.prompts = append(m.prompts, prompt)
	m.models = append(m.models, model)
	if m.block {
		<-ctx.Done()
		return domain.Generation{}, fmt.Errorf("gemini: request failed: %w", ctx.Err())
	}
	idx := len(m.prompts) - 1
	if idx >= len(m.responses) {
		return domain.Generation{}, errors.New("no generation response configured")
	}
	return m.responses[idx].gen, m.responses[idx].err
}

type recordedCall struct {
	platform domain.Platform
	status   string
}

type fakeRecorder struct {
	events   int
	calls    []recordedCall
	finished []GenerationStatus
	usage    domain.Usage
}

func (f *fakeRecorder) EventRecorded() { f.events++ }

func (f *fakeRecorder) GenerationCall(p domain.Platform, status string, _ time.Duration) {
	f.calls = append(f.calls, recordedCall{platform: p, status: status})
}

func (f *fakeRecorder) GenerationFinished(status GenerationStatus, usage domain.Usage) {
	f.finished = append(f.finished, status)
	f.usage = f.usage.Add(usage)
}

// fixedClock returns successive instants starting at start, one second apart.
type fixedClock struct {
	mu  sync.Mutex
	cur time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.cur
	c.cur = c.cur.Add(time.Second)
	return t
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = t
}

func generation(text string, p, c, total int64) genResponse {
	return genResponse{gen: domain.Generation{
		Text:  text,
		Usage: domain.Usage{PromptTokens: p, CompletionTokens: c, TotalTokens: total},
	}}
}

func threeGenerations() *mockGenerator {
	return &mockGenerator{responses: []genResponse{
		generation("linkedin post", 10, 20, 30),
		generation("facebook post", 5, 5, 10),
		generation("twitter post", 7, 3, 10),
	}}
}

var testLoc = time.FixedZone("UTC+2", 2*60*60)

func newTestService(t *testing.T, store *memStore, gen Generator, clock *fixedClock, opts ...func(*Options)) *Service {
	t.Helper()
	o := Options{Location: testLoc, Now: clock.Now, CallTimeout: time.Second}
	for _, fn := range opts {
		fn(&o)
	}
	svc, err := NewService(store, store, gen, o)
	require.NoError(t, err)
	return svc
}

func expectError(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var usecaseErr *Error
	require.ErrorAs(t, err, &usecaseErr)
	require.Equal(t, code, usecaseErr.Code)
	require.Equal(t, reason, usecaseErr.Reason)
}

func registered(store *memStore, id string) {
	store.users[id] = domain.User{ExternalID: id, FirstName: "Ada", LastName: "Lovelace"}
}

func TestNewService_ValidatesDependencies(t *testing.T) {
	store := newMemStore()
	_, err := NewService(nil, store, threeGenerations(), Options{})
	require.Error(t, err)

	_, err = NewService(store, nil, threeGenerations(), Options{})
	require.Error(t, err)

	_, err = NewService(store, store, nil, Options{})
	require.Error(t, err)

	_, err = NewService(store, store, threeGenerations(), Options{Platforms: []domain.Platform{domain.PlatformTwitter, 99}})
	expectError(t, err, ErrorUnknownPlatform, "unsupported_platform")
}

func TestNewService_Defaults(t *testing.T) {
	store := newMemStore()
	svc, err := NewService(store, store, threeGenerations(), Options{})
	require.NoError(t, err)
	require.Equal(t, defaultModel, svc.model)
	require.Equal(t, defaultCallTimeout, svc.callTimeout)
	require.Equal(t, domain.Platforms(), svc.platforms)
	require.Equal(t, time.Local, svc.loc)
}

func TestRunGeneration_HappyPath(t *testing.T) {
	store := newMemStore()
	registered(store, "42")
	clock := &fixedClock{cur: time.Date(2026, 10, 14, 9, 0, 0, 0, testLoc)}
	gen := threeGenerations()
	rec := &fakeRecorder{}
	svc := newTestService(t, store, gen, clock, func(o *Options) {
		o.Recorder = rec
		o.Model = "gemini-test"
	})

	require.NoError(t, svc.RecordEvent(context.Background(), "42", "launched v2"))
	require.NoError(t, svc.RecordEvent(context.Background(), "42", "met a client"))

	out, err := svc.RunGeneration(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, StatusDone, out.Status)
	require.Equal(t, 2, out.EventCount)
	require.Equal(t, []domain.Post{
		{Platform: domain.PlatformLinkedIn, Text: "linkedin post"},
		{Platform: domain.PlatformFacebook, Text: "facebook post"},
		{Platform: domain.PlatformTwitter, Text: "twitter post"},
	}, out.Posts)
	require.Equal(t, domain.Usage{PromptTokens: 22, CompletionTokens: 28, TotalTokens: 50}, out.Usage)

	require.Equal(t, 1, store.queryCalls)
	require.Equal(t, 1, store.usageCalls)
	require.Equal(t, int64(22), store.users["42"].PromptTokensUsed)
	require.Equal(t, int64(28), store.users["42"].CompletionTokensUsed)

	require.Len(t, gen.prompts, 3)
	require.Contains(t, gen.prompts[0], "LinkedIn")
	require.Contains(t, gen.prompts[1], "Facebook")
	require.Contains(t, gen.prompts[2], "Twitter")
	for _, p := range gen.prompts {
		require.Contains(t, p, "launched v2, met a client")
	}
	require.Equal(t, []string{"gemini-test", "gemini-test", "gemini-test"}, gen.models)

	require.Equal(t, 2, rec.events)
	require.Equal(t, []GenerationStatus{StatusDone}, rec.finished)
	require.Equal(t, []recordedCall{
		{domain.PlatformLinkedIn, callStatusOK},
		{domain.PlatformFacebook, callStatusOK},
		{domain.PlatformTwitter, callStatusOK},
	}, rec.calls)
}

func TestRunGeneration_OnlyTodaysEventsInInsertionOrder(t *testing.T) {
	store := newMemStore()
	registered(store, "42")
	clock := &fixedClock{}
	gen := threeGenerations()
	svc := newTestService(t, store, gen, clock)
	ctx := context.Background()

	clock.Set(time.Date(2026, 10, 13, 23, 59, 59, 0, testLoc))
	require.NoError(t, svc.RecordEvent(ctx, "42", "yesterday"))
	clock.Set(time.Date(2026, 10, 14, 0, 0, 0, 0, testLoc))
	require.NoError(t, svc.RecordEvent(ctx, "42", "first"))
	require.NoError(t, svc.RecordEvent(ctx, "7", "someone else"))
	require.NoError(t, svc.RecordEvent(ctx, "42", "second"))
	clock.Set(time.Date(2026, 10, 14, 18, 30, 0, 0, testLoc))
	require.NoError(t, svc.RecordEvent(ctx, "42", "third"))

	clock.Set(time.Date(2026, 10, 14, 20, 0, 0, 0, testLoc))
	out, err := svc.RunGeneration(ctx, "42")
	require.NoError(t, err)
	require.Equal(t, 3, out.EventCount)
	require.True(t, store.lastFrom.Equal(time.Date(2026, 10, 14, 0, 0, 0, 0, testLoc)))
	require.True(t, store.lastTo.Equal(time.Date(2026, 10, 14, 20, 0, 0, 0, testLoc)))
	require.Contains(t, gen.prompts[0], ": first, second, third")
	require.NotContains(t, gen.prompts[0], "yesterday")
	require.NotContains(t, gen.prompts[0], "someone else")
}

func TestRunGeneration_NoEventsToday(t *testing.T) {
	store := newMemStore()
	registered(store, "42")
	clock := &fixedClock{cur: time.Date(2026, 10, 13, 12, 0, 0, 0, testLoc)}
	gen := threeGenerations()
	rec := &fakeRecorder{}
	svc := newTestService(t, store, gen, clock, func(o *Options) { o.Recorder = rec })

	require.NoError(t, svc.RecordEvent(context.Background(), "42", "old news"))
	clock.Set(time.Date(2026, 10, 14, 12, 0, 0, 0, testLoc))

	for i := 0; i < 2; i++ {
		out, err := svc.RunGeneration(context.Background(), "42")
		require.NoError(t, err)
		require.Equal(t, StatusEmpty, out.Status)
		require.Empty(t, out.Posts)
	}
	require.Empty(t, gen.prompts)
	require.Zero(t, store.usageCalls)
	require.Zero(t, store.users["42"].PromptTokensUsed)
	require.Zero(t, store.users["42"].CompletionTokensUsed)
	require.Equal(t, []GenerationStatus{StatusEmpty, StatusEmpty}, rec.finished)
}

func TestRunGeneration_SecondCallFails_DiscardsUsage(t *testing.T) {
	store := newMemStore()
	registered(store, "42")
	clock := &fixedClock{cur: time.Date(2026, 10, 14, 9, 0, 0, 0, testLoc)}
	gen := &mockGenerator{responses: []genResponse{
		generation("linkedin post", 10, 20, 30),
		{err: &gemini.HTTPStatusError{StatusCode: http.StatusInternalServerError}},
		generation("twitter post", 7, 3, 10),
	}}
	rec := &fakeRecorder{}
	svc := newTestService(t, store, gen, clock, func(o *Options) { o.Recorder = rec })
	require.NoError(t, svc.RecordEvent(context.Background(), "42", "shipped"))

	out, err := svc.RunGeneration(context.Background(), "42")
	expectError(t, err, ErrorGeneration, "generation_error")
	require.Equal(t, StatusFailed, out.Status)
	require.Empty(t, out.Posts)
	require.Len(t, gen.prompts, 2, "remaining platforms must not be called")
	require.Zero(t, store.usageCalls)
	require.Zero(t, store.users["42"].PromptTokensUsed)
	require.Equal(t, []GenerationStatus{StatusFailed}, rec.finished)
	require.Equal(t, callStatusError, rec.calls[1].status)
}

func TestRunGeneration_RateLimited(t *testing.T) {
	store := newMemStore()
	clock := &fixedClock{cur: time.Date(2026, 10, 14, 9, 0, 0, 0, testLoc)}
	gen := &mockGenerator{responses: []genResponse{{err: &gemini.HTTPStatusError{StatusCode: http.StatusTooManyRequests}}}}
	svc := newTestService(t, store, gen, clock)
	require.NoError(t, svc.RecordEvent(context.Background(), "42", "shipped"))

	out, err := svc.RunGeneration(context.Background(), "42")
	expectError(t, err, ErrorGeneration, "generation_rate_limited")
	require.Equal(t, StatusFailed, out.Status)
}

func TestRunGeneration_CallTimeout(t *testing.T) {
	store := newMemStore()
	registered(store, "42")
	clock := &fixedClock{cur: time.Date(2026, 10, 14, 9, 0, 0, 0, testLoc)}
	gen := &mockGenerator{block: true}
	rec := &fakeRecorder{}
	svc := newTestService(t, store, gen, clock, func(o *Options) {
		o.CallTimeout = 20 * time.Millisecond
		o.Recorder = rec
	})
	require.NoError(t, svc.RecordEvent(context.Background(), "42", "shipped"))

	out, err := svc.RunGeneration(context.Background(), "42")
	expectError(t, err, ErrorGenerationTimeout, "generation_timeout")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, StatusFailed, out.Status)
	require.Len(t, gen.prompts, 1)
	require.Zero(t, store.usageCalls)
	require.Equal(t, callStatusTimeout, rec.calls[0].status)
}

func TestRunGeneration_StoreErrors(t *testing.T) {
	clock := &fixedClock{cur: time.Date(2026, 10, 14, 9, 0, 0, 0, testLoc)}

	store := newMemStore()
	store.queryErr = errors.New("dynamodb down")
	svc := newTestService(t, store, threeGenerations(), clock)
	out, err := svc.RunGeneration(context.Background(), "42")
	expectError(t, err, ErrorStoreUnavailable, "event_query_error")
	require.Equal(t, StatusFailed, out.Status)

	store = newMemStore()
	store.usageErr = errors.New("throttled")
	svc = newTestService(t, store, threeGenerations(), clock)
	require.NoError(t, svc.RecordEvent(context.Background(), "42", "shipped"))
	out, err = svc.RunGeneration(context.Background(), "42")
	expectError(t, err, ErrorStoreUnavailable, "usage_write_error")
	require.Equal(t, StatusFailed, out.Status)
	require.Empty(t, out.Posts)
}

func TestRunGeneration_UnregisteredUserStillGetsPosts(t *testing.T) {
	store := newMemStore()
	clock := &fixedClock{cur: time.Date(2026, 10, 14, 9, 0, 0, 0, testLoc)}
	svc := newTestService(t, store, threeGenerations(), clock)
	require.NoError(t, svc.RecordEvent(context.Background(), "42", "shipped"))

	out, err := svc.RunGeneration(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, StatusDone, out.Status)
	require.Len(t, out.Posts, 3)
	require.Equal(t, 1, store.usageCalls)
	require.Empty(t, store.users)
}

func TestRunGeneration_CustomPlatformOrder(t *testing.T) {
	store := newMemStore()
	clock := &fixedClock{cur: time.Date(2026, 10, 14, 9, 0, 0, 0, testLoc)}
	gen := &mockGenerator{responses: []genResponse{generation("tweet", 1, 1, 2)}}
	svc := newTestService(t, store, gen, clock, func(o *Options) {
		o.Platforms = []domain.Platform{domain.PlatformTwitter}
	})
	require.NoError(t, svc.RecordEvent(context.Background(), "42", "shipped"))

	out, err := svc.RunGeneration(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, []domain.Post{{Platform: domain.PlatformTwitter, Text: "tweet"}}, out.Posts)
}

func TestRunGeneration_EmptyUserID(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store, threeGenerations(), &fixedClock{})
	out, err := svc.RunGeneration(context.Background(), "")
	expectError(t, err, ErrorInvalidInput, "empty_user_id")
	require.Equal(t, StatusFailed, out.Status)
	require.Zero(t, store.queryCalls)
}

func TestRecordEvent(t *testing.T) {
	store := newMemStore()
	clock := &fixedClock{cur: time.Date(2026, 10, 14, 9, 0, 0, 0, testLoc)}
	svc := newTestService(t, store, threeGenerations(), clock)

	require.NoError(t, svc.RecordEvent(context.Background(), "42", "  spaced  text "))
	require.Len(t, store.events, 1)
	ev := store.events[0]
	require.Equal(t, "42", ev.OwnerID)
	require.Equal(t, "  spaced  text ", ev.Text)
	require.NotEmpty(t, ev.ID)
	require.True(t, ev.CreatedAt.Equal(time.Date(2026, 10, 14, 9, 0, 0, 0, testLoc)))

	require.NoError(t, svc.RecordEvent(context.Background(), "42", "  spaced  text "))
	require.Len(t, store.events, 2, "duplicates are kept")
}

func TestRecordEvent_Errors(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store, threeGenerations(), &fixedClock{})

	err := svc.RecordEvent(context.Background(), "42", "   ")
	expectError(t, err, ErrorInvalidInput, "empty_text")

	err = svc.RecordEvent(context.Background(), "", "hello")
	expectError(t, err, ErrorInvalidInput, "empty_user_id")
	require.Zero(t, store.insertCalled)

	store.insertErr = errors.New("connection refused")
	err = svc.RecordEvent(context.Background(), "42", "hello")
	expectError(t, err, ErrorStoreUnavailable, "event_insert_error")
}

func TestEnsureUser_KeepsFirstContact(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store, threeGenerations(), &fixedClock{cur: time.Date(2026, 10, 14, 9, 0, 0, 0, testLoc)})

	first, err := svc.EnsureUser(context.Background(), domain.User{ExternalID: "42", FirstName: "Ada", LastName: "Lovelace", DisplayHandle: "ada"})
	require.NoError(t, err)
	require.Equal(t, "Ada", first.FirstName)

	second, err := svc.EnsureUser(context.Background(), domain.User{ExternalID: "42", FirstName: "Grace", LastName: "Hopper", DisplayHandle: "grace"})
	require.NoError(t, err)
	require.Equal(t, "Ada", second.FirstName)
	require.Equal(t, "ada", second.DisplayHandle)
	require.Len(t, store.users, 1)
}

func TestEnsureUser_ZeroesCounters(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store, threeGenerations(), &fixedClock{})
	u, err := svc.EnsureUser(context.Background(), domain.User{ExternalID: "42", FirstName: "Ada", LastName: "L", PromptTokensUsed: 99})
	require.NoError(t, err)
	require.Zero(t, u.PromptTokensUsed)
}

func TestEnsureUser_Errors(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store, threeGenerations(), &fixedClock{})
	ctx := context.Background()

	_, err := svc.EnsureUser(ctx, domain.User{FirstName: "Ada", LastName: "L"})
	expectError(t, err, ErrorInvalidInput, "empty_external_id")

	_, err = svc.EnsureUser(ctx, domain.User{ExternalID: "42", LastName: "L"})
	expectError(t, err, ErrorInvalidInput, "empty_first_name")

	_, err = svc.EnsureUser(ctx, domain.User{ExternalID: "42", FirstName: "Ada"})
	expectError(t, err, ErrorInvalidInput, "empty_last_name")

	store.upsertErr = fmt.Errorf("repository: EnsureUser: %w", domain.ErrHandleTaken)
	_, err = svc.EnsureUser(ctx, domain.User{ExternalID: "42", FirstName: "Ada", LastName: "L", DisplayHandle: "ada"})
	expectError(t, err, ErrorHandleTaken, "display_handle_taken")
	require.ErrorIs(t, err, domain.ErrHandleTaken)

	store.upsertErr = errors.New("timeout")
	_, err = svc.EnsureUser(ctx, domain.User{ExternalID: "42", FirstName: "Ada", LastName: "L"})
	expectError(t, err, ErrorStoreUnavailable, "user_upsert_error")
}
