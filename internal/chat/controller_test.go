package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hfdash/internal/inference"
	"hfdash/internal/settings"
	"hfdash/internal/storage"
)

// stubClient реализует Inference для тестов.
type stubClient struct {
	mu         sync.Mutex
	configured bool
	submit     func(ctx context.Context, prompt string, opts inference.Options) (string, error)
	prompts    []string
	count      int64
}

func (s *stubClient) Submit(ctx context.Context, prompt string, opts inference.Options) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	fn := s.submit
	s.mu.Unlock()

	reply, err := fn(ctx, prompt, opts)
	if err == nil {
		s.mu.Lock()
		s.count++
		s.mu.Unlock()
	}
	return reply, err
}

func (s *stubClient) Configured() bool { return s.configured }

func (s *stubClient) Stats() inference.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return inference.Stats{RequestCount: s.count}
}

func (s *stubClient) ResetStats() {
	s.mu.Lock()
	s.count = 0
	s.mu.Unlock()
}

type stubPrefs struct {
	opts  inference.Options
	model string
	err   error
}

func (p *stubPrefs) GenerationOptions() inference.Options { return p.opts }

func (p *stubPrefs) SetModel(_ context.Context, model string) (settings.Settings, error) {
	if p.err != nil {
		return settings.Settings{}, p.err
	}
	p.model = model
	return settings.Settings{Model: model}, nil
}

type fixture struct {
	ctrl   *Controller
	client *stubClient
	prefs  *stubPrefs
	store  *storage.MemoryStore
}

func newFixture(t *testing.T, reply func(ctx context.Context, prompt string, opts inference.Options) (string, error)) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	client := &stubClient{configured: true, submit: reply}
	prefs := &stubPrefs{opts: inference.Options{MaxTokens: 120, Temperature: 0.5, Language: "en"}}

	ids := 0
	clock := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	ctrl := NewController(ControllerConfig{
		Client:   client,
		Settings: prefs,
		History:  NewHistoryStore(store),
		Now:      func() time.Time { return clock },
		NewID: func() string {
			ids++
			return fmt.Sprintf("msg-%d", ids)
		},
		Location: time.UTC,
	})
	return &fixture{ctrl: ctrl, client: client, prefs: prefs, store: store}
}

func echo(_ context.Context, prompt string, _ inference.Options) (string, error) {
	return "re: " + prompt, nil
}

func storedHistory(t *testing.T, store storage.Store) []Message {
	t.Helper()
	messages, err := NewHistoryStore(store).Load(context.Background())
	require.NoError(t, err)
	return messages
}

func TestSendAppendsPairAndPersists(t *testing.T) {
	f := newFixture(t, echo)
	ctx := context.Background()

	msg, err := f.ctrl.Send(ctx, "  hello  ")
	require.NoError(t, err)
	assert.Equal(t, RoleAssistant, msg.Role)
	assert.Equal(t, "re: hello", msg.Content)

	history := f.ctrl.History()
	require.Len(t, history, 2)
	assert.Equal(t, Message{Role: RoleUser, Content: "hello", Timestamp: history[0].Timestamp, ID: "msg-1"}, history[0])
	assert.Equal(t, "msg-2", history[1].ID)
	assert.False(t, f.ctrl.Processing())

	assert.Equal(t, history, storedHistory(t, f.store))

	count, ok, err := f.store.Get(ctx, storage.KeyRequestCount)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", count)
}

func TestSendPassesGenerationOptions(t *testing.T) {
	var got inference.Options
	f := newFixture(t, func(_ context.Context, _ string, opts inference.Options) (string, error) {
		got = opts
		return "ok", nil
	})

	_, err := f.ctrl.Send(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, f.prefs.opts, got)
}

func TestSendRejectsEmptyInput(t *testing.T) {
	f := newFixture(t, echo)

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := f.ctrl.Send(context.Background(), text)
		assert.ErrorIs(t, err, ErrEmptyInput)
	}
	assert.Empty(t, f.ctrl.History())
	assert.Empty(t, f.client.prompts)
}

func TestSendWithoutCredential(t *testing.T) {
	f := newFixture(t, echo)
	f.client.configured = false

	_, err := f.ctrl.Send(context.Background(), "hello")
	assert.ErrorIs(t, err, inference.ErrConfiguration)
	assert.Empty(t, f.ctrl.History())
	assert.Empty(t, f.client.prompts)
}

func TestSendFailureAppendsErrorMessage(t *testing.T) {
	f := newFixture(t, func(context.Context, string, inference.Options) (string, error) {
		return "", inference.ErrModelLoading
	})

	msg, err := f.ctrl.Send(context.Background(), "hello")
	assert.ErrorIs(t, err, inference.ErrModelLoading)
	assert.Equal(t, "Error: "+inference.ErrModelLoading.Error(), msg.Content)
	require.Len(t, f.ctrl.History(), 2)
	assert.False(t, f.ctrl.Processing())

	_, ok, _ := f.store.Get(context.Background(), storage.KeyRequestCount)
	assert.False(t, ok)
}

func TestSendWhileBusyIsRejected(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	f := newFixture(t, func(context.Context, string, inference.Options) (string, error) {
		close(started)
		<-release
		return "done", nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := f.ctrl.Send(context.Background(), "first")
		done <- err
	}()
	<-started
	assert.True(t, f.ctrl.Processing())

	_, err := f.ctrl.Send(context.Background(), "second")
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	require.NoError(t, <-done)

	history := f.ctrl.History()
	require.Len(t, history, 2)
	assert.Equal(t, "first", history[0].Content)
	assert.Equal(t, "done", history[1].Content)
}

func TestCancelDropsLateResponse(t *testing.T) {
	started := make(chan struct{})
	f := newFixture(t, func(ctx context.Context, _ string, _ inference.Options) (string, error) {
		close(started)
		<-ctx.Done()
		return "too late", nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := f.ctrl.Send(context.Background(), "slow")
		done <- err
	}()
	<-started

	assert.True(t, f.ctrl.Cancel())
	assert.False(t, f.ctrl.Processing())
	assert.ErrorIs(t, <-done, ErrStale)

	history := f.ctrl.History()
	require.Len(t, history, 1)
	assert.Equal(t, RoleUser, history[0].Role)
	assert.False(t, f.ctrl.Cancel())
}

func TestSendAfterCancelIsAccepted(t *testing.T) {
	first := make(chan struct{})
	calls := 0
	f := newFixture(t, func(ctx context.Context, prompt string, _ inference.Options) (string, error) {
		calls++
		if calls == 1 {
			close(first)
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "re: " + prompt, nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := f.ctrl.Send(context.Background(), "one")
		done <- err
	}()
	<-first
	require.True(t, f.ctrl.Cancel())
	assert.ErrorIs(t, <-done, ErrStale)

	msg, err := f.ctrl.Send(context.Background(), "two")
	require.NoError(t, err)
	assert.Equal(t, "re: two", msg.Content)

	contents := make([]string, 0)
	for _, m := range f.ctrl.History() {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"one", "two", "re: two"}, contents)
}

func TestClear(t *testing.T) {
	f := newFixture(t, echo)
	ctx := context.Background()

	cleared, err := f.ctrl.Clear(ctx)
	require.NoError(t, err)
	assert.False(t, cleared)

	_, err = f.ctrl.Send(ctx, "hello")
	require.NoError(t, err)

	cleared, err = f.ctrl.Clear(ctx)
	require.NoError(t, err)
	assert.True(t, cleared)
	assert.Empty(t, f.ctrl.History())
	assert.Empty(t, storedHistory(t, f.store))
}

func TestClearDuringSendDropsLateReply(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	calls := 0
	f := newFixture(t, func(_ context.Context, prompt string, _ inference.Options) (string, error) {
		calls++
		if calls == 1 {
			close(started)
			<-release
			return "late reply to a cleared conversation", nil
		}
		return "re: " + prompt, nil
	})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := f.ctrl.Send(ctx, "hello")
		done <- err
	}()
	<-started

	cleared, err := f.ctrl.Clear(ctx)
	require.NoError(t, err)
	assert.True(t, cleared)
	assert.False(t, f.ctrl.Processing())

	close(release)
	assert.ErrorIs(t, <-done, ErrStale)
	assert.Empty(t, f.ctrl.History())
	assert.Empty(t, storedHistory(t, f.store))

	msg, err := f.ctrl.Send(ctx, "again")
	require.NoError(t, err)
	assert.Equal(t, "re: again", msg.Content)
	assert.Len(t, f.ctrl.History(), 2)
}

func TestExport(t *testing.T) {
	f := newFixture(t, echo)
	ctx := context.Background()

	_, err := f.ctrl.Export()
	assert.ErrorIs(t, err, ErrEmptyHistory)

	_, err = f.ctrl.Send(ctx, "hello")
	require.NoError(t, err)

	text, err := f.ctrl.Export()
	require.NoError(t, err)
	assert.Equal(t, "[2024-03-09 14:05:07] User: hello\n\n[2024-03-09 14:05:07] AI: re: hello", text)
	assert.Equal(t, "chat-export-2024-03-09.txt", f.ctrl.ExportFilename())
}

func TestActivateFeature(t *testing.T) {
	f := newFixture(t, echo)
	ctx := context.Background()

	feature, ok := inference.LookupFeature("translate")
	require.True(t, ok)

	msg, err := f.ctrl.ActivateFeature(ctx, "translate")
	require.NoError(t, err)
	assert.Equal(t, RoleAssistant, msg.Role)
	assert.Equal(t, feature.Intro, msg.Content)
	assert.Equal(t, feature.Model, f.prefs.model)
	assert.Len(t, storedHistory(t, f.store), 1)

	_, err = f.ctrl.ActivateFeature(ctx, "poetry")
	assert.ErrorIs(t, err, ErrUnknownFeature)

	f.prefs.err = errors.New("disk full")
	_, err = f.ctrl.ActivateFeature(ctx, "summarize")
	assert.Error(t, err)
	assert.Len(t, f.ctrl.History(), 1)
}

func TestLoadRestoresHistory(t *testing.T) {
	f := newFixture(t, echo)
	ctx := context.Background()
	_, err := f.ctrl.Send(ctx, "hello")
	require.NoError(t, err)

	other := NewController(ControllerConfig{
		Client:   f.client,
		Settings: f.prefs,
		History:  NewHistoryStore(f.store),
	})
	require.NoError(t, other.Load(ctx))
	assert.Equal(t, f.ctrl.History(), other.History())
}

func TestLoadCorruptHistoryStartsEmpty(t *testing.T) {
	f := newFixture(t, echo)
	ctx := context.Background()
	require.NoError(t, f.store.Set(ctx, storage.KeyChatHistory, `[{"type":"user",`))

	require.NoError(t, f.ctrl.Load(ctx))
	assert.Empty(t, f.ctrl.History())
}

func TestResetStats(t *testing.T) {
	f := newFixture(t, echo)
	ctx := context.Background()
	_, err := f.ctrl.Send(ctx, "hello")
	require.NoError(t, err)

	require.NoError(t, f.ctrl.ResetStats(ctx))
	assert.Equal(t, int64(0), f.client.Stats().RequestCount)
	_, ok, _ := f.store.Get(ctx, storage.KeyRequestCount)
	assert.False(t, ok)
}

func TestRequestCountRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	h := NewHistoryStore(store)

	n, err := h.LoadRequestCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, h.SaveRequestCount(ctx, 42))
	n, err = h.LoadRequestCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)

	require.NoError(t, store.Set(ctx, storage.KeyRequestCount, "many"))
	n, err = h.LoadRequestCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
