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
	"go.uber.org/zap"

	"github.com/upb/chat-relay/models"
	"github.com/upb/chat-relay/services"
	"github.com/upb/chat-relay/services/providers"
	"github.com/upb/chat-relay/services/rag"
)

// fakeStreamProvider replays scripted deltas and records requests
type fakeStreamProvider struct {
	mu       sync.Mutex
	deltas   []string
	failWith error // returned after all deltas were sent
	started  chan struct{}
	release  chan struct{}
	requests []*providers.ChatRequest
}

func (p *fakeStreamProvider) Name() string { return "fake" }

func (p *fakeStreamProvider) IsAvailable(ctx context.Context) bool { return true }

func (p *fakeStreamProvider) ChatCompletion(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	return nil, errors.New("not used")
}

func (p *fakeStreamProvider) ChatCompletionStream(ctx context.Context, req *providers.ChatRequest, callback providers.StreamCallback) error {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	if p.started != nil {
		close(p.started)
	}
	if p.release != nil {
		select {
		case <-p.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for _, delta := range p.deltas {
		if err := callback(&providers.StreamChunk{Content: delta}); err != nil {
			return err
		}
	}
	return p.failWith
}

func (p *fakeStreamProvider) lastRequest() *providers.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[len(p.requests)-1]
}

// stubAugmenter returns a scripted result and records its inputs
type stubAugmenter struct {
	result      *rag.Result
	gotHistory  []models.ChatMessage
	gotMode     rag.Mode
	calledTimes int
}

func (a *stubAugmenter) Augment(ctx context.Context, prompt string, history []models.ChatMessage, mode rag.Mode) rag.Result {
	a.calledTimes++
	a.gotHistory = history
	a.gotMode = mode
	if a.result != nil {
		return *a.result
	}
	return rag.Result{Prompt: prompt}
}

func newTestDriver(provider *fakeStreamProvider, augmenter Augmenter) *Driver {
	return NewDriver(provider, augmenter, DriverConfig{Model: "test-model", Timeout: time.Second}, zap.NewNop())
}

func TestDriver_Turn_AppendsUserAndAssistant(t *testing.T) {
	provider := &fakeStreamProvider{deltas: []string{"", "Hi", " there", ""}}
	driver := newTestDriver(provider, &stubAugmenter{})
	sess := NewSession()

	var tokens []string
	result, err := driver.Turn(context.Background(), sess, "Hello", rag.ModeChat, func(tok string) error {
		tokens = append(tokens, tok)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, "Hi there", result.Reply)
	assert.Equal(t, []string{"Hi", " there"}, tokens)
	assert.False(t, result.Augmented)
	assert.NotNil(t, result.Notices)

	history := sess.History()
	require.Len(t, history, 2)
	assert.Equal(t, models.RoleUser, history[0].Role)
	assert.Equal(t, "Hello", history[0].Content)
	assert.Equal(t, models.RoleAssistant, history[1].Role)
	assert.Equal(t, "Hi there", history[1].Content)

	req := provider.lastRequest()
	assert.Equal(t, "test-model", req.Model)
	assert.Equal(t, []providers.Message{{Role: "user", Content: "Hello"}}, req.Messages)
}

func TestDriver_Turn_ReplaysFullHistory(t *testing.T) {
	provider := &fakeStreamProvider{deltas: []string{"ok"}}
	driver := newTestDriver(provider, &stubAugmenter{})
	sess := NewSession()

	_, err := driver.Turn(context.Background(), sess, "first", rag.ModeChat, nil)
	require.NoError(t, err)
	_, err = driver.Turn(context.Background(), sess, "second", rag.ModeChat, nil)
	require.NoError(t, err)

	assert.Equal(t, []providers.Message{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "ok"},
		{Role: "user", Content: "second"},
	}, provider.lastRequest().Messages)
	assert.Equal(t, 4, sess.Len())
}

func TestDriver_Turn_SubstitutesAugmentedPromptOnlyUpstream(t *testing.T) {
	augmented := rag.ApplyTemplate("The moon has no capital; it is uninhabited.", "What is the capital of the moon?")
	augmenter := &stubAugmenter{result: &rag.Result{
		Prompt:    augmented,
		Augmented: true,
		Source:    &models.SimilarityResult{ChunkID: 1, Score: 0.92},
	}}
	provider := &fakeStreamProvider{deltas: []string{"It has none."}}
	driver := newTestDriver(provider, augmenter)
	sess := NewSession()
	sess.Append(models.NewUserMessage("earlier"))
	sess.Append(models.NewAssistantMessage("reply"))

	result, err := driver.Turn(context.Background(), sess, "What is the capital of the moon?", rag.ModeRAG, nil)
	require.NoError(t, err)
	assert.True(t, result.Augmented)
	assert.Equal(t, int64(1), result.Source.ChunkID)

	// augmenter saw the history including the new prompt
	assert.Equal(t, rag.ModeRAG, augmenter.gotMode)
	require.Len(t, augmenter.gotHistory, 3)
	assert.Equal(t, "What is the capital of the moon?", augmenter.gotHistory[2].Content)

	messages := provider.lastRequest().Messages
	require.Len(t, messages, 3)
	assert.Equal(t, "earlier", messages[0].Content)
	assert.Equal(t, augmented, messages[2].Content)

	// the stored history keeps the raw prompt
	assert.Equal(t, "What is the capital of the moon?", sess.History()[2].Content)
}

func TestDriver_Turn_DeliversNoticesBeforeTokens(t *testing.T) {
	augmenter := &stubAugmenter{result: &rag.Result{
		Prompt:  "q",
		Notices: []rag.Notice{{Kind: rag.NoticeNoRelevantChunk, Message: "no relevant chunk found"}},
	}}
	provider := &fakeStreamProvider{deltas: []string{"a"}}
	driver := newTestDriver(provider, augmenter)

	var events []string
	result, err := driver.Turn(context.Background(), NewSession(), "q", rag.ModeRAG,
		func(tok string) error {
			events = append(events, "token:"+tok)
			return nil
		},
		WithNoticeHandler(func(n rag.Notice) error {
			events = append(events, "notice:"+string(n.Kind))
			return nil
		}),
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"notice:no_relevant_chunk", "token:a"}, events)
	require.Len(t, result.Notices, 1)
}

func TestDriver_Turn_RejectsEmptyPrompt(t *testing.T) {
	provider := &fakeStreamProvider{}
	augmenter := &stubAugmenter{}
	driver := newTestDriver(provider, augmenter)
	sess := NewSession()

	for _, prompt := range []string{"", "  \n\t"} {
		_, err := driver.Turn(context.Background(), sess, prompt, rag.ModeChat, nil)
		assert.True(t, services.IsValidationError(err))
	}

	assert.Equal(t, 0, sess.Len())
	assert.Equal(t, 0, augmenter.calledTimes)
	assert.Empty(t, provider.requests)
}

func TestDriver_Turn_RejectsConcurrentTurn(t *testing.T) {
	provider := &fakeStreamProvider{
		deltas:  []string{"done"},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	driver := newTestDriver(provider, &stubAugmenter{})
	sess := NewSession()

	errCh := make(chan error, 1)
	go func() {
		_, err := driver.Turn(context.Background(), sess, "first", rag.ModeChat, nil)
		errCh <- err
	}()

	<-provider.started
	_, err := driver.Turn(context.Background(), sess, "second", rag.ModeChat, nil)
	assert.True(t, services.IsConflictError(err))

	close(provider.release)
	require.NoError(t, <-errCh)

	history := sess.History()
	require.Len(t, history, 2)
	assert.Equal(t, "first", history[0].Content)
	assert.Equal(t, "done", history[1].Content)
}

func TestDriver_Turn_EndDuringTurn(t *testing.T) {
	provider := &fakeStreamProvider{
		deltas:  []string{"done"},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	driver := newTestDriver(provider, &stubAugmenter{})
	manager := NewSessionManager(zap.NewNop())
	sess := manager.Create()

	errCh := make(chan error, 1)
	go func() {
		_, err := driver.Turn(context.Background(), sess, "first", rag.ModeChat, nil)
		errCh <- err
	}()

	<-provider.started
	err := manager.End(sess.ID)
	assert.True(t, services.IsConflictError(err))
	assert.Equal(t, 1, manager.Count())

	close(provider.release)
	require.NoError(t, <-errCh)
	assert.Equal(t, 2, sess.Len())

	require.NoError(t, manager.End(sess.ID))
	assert.True(t, sess.Ended())
	assert.Equal(t, 0, sess.Len())

	_, err = driver.Turn(context.Background(), sess, "late", rag.ModeChat, nil)
	assert.True(t, services.IsNotFoundError(err))
	assert.Equal(t, 0, sess.Len())
}

func TestDriver_Turn_FailureBeforeFirstToken(t *testing.T) {
	provider := &fakeStreamProvider{failWith: providers.NewProviderError("fake", "HTTP_ERROR", "connection refused", 0, nil)}
	driver := newTestDriver(provider, &stubAugmenter{})
	sess := NewSession()

	result, err := driver.Turn(context.Background(), sess, "Hello", rag.ModeChat, nil)
	assert.Nil(t, result)
	assert.True(t, services.IsUpstreamCompletionError(err))

	history := sess.History()
	require.Len(t, history, 1)
	assert.Equal(t, models.RoleUser, history[0].Role)
}

func TestDriver_Turn_DroppedStreamKeepsPartialReply(t *testing.T) {
	provider := &fakeStreamProvider{
		deltas:   []string{"The moon ", "has"},
		failWith: providers.NewProviderError("fake", "HTTP_ERROR", "HTTP request failed", 0, errors.New("unexpected EOF")),
	}
	driver := newTestDriver(provider, &stubAugmenter{})
	sess := NewSession()

	result, err := driver.Turn(context.Background(), sess, "Hello", rag.ModeChat, nil)
	require.Error(t, err)
	assert.True(t, services.IsUpstreamCompletionError(err))
	assert.Equal(t, "The moon has", services.GetErrorDetails(err)["partial_reply"])

	require.NotNil(t, result)
	assert.True(t, result.Partial)
	assert.Equal(t, "The moon has", result.Reply)

	history := sess.History()
	require.Len(t, history, 2)
	assert.Equal(t, "The moon has", history[1].Content)
}

func TestDriver_Turn_Timeout(t *testing.T) {
	provider := &fakeStreamProvider{failWith: fmt.Errorf("stream: %w", context.DeadlineExceeded)}
	driver := newTestDriver(provider, &stubAugmenter{})

	_, err := driver.Turn(context.Background(), NewSession(), "Hello", rag.ModeChat, nil)
	assert.True(t, services.IsTimeoutError(err))
}

func TestDriver_Turn_TokenCallbackErrorStopsStream(t *testing.T) {
	provider := &fakeStreamProvider{deltas: []string{"a", "b", "c"}}
	driver := newTestDriver(provider, &stubAugmenter{})
	sess := NewSession()

	gone := errors.New("client disconnected")
	calls := 0
	result, err := driver.Turn(context.Background(), sess, "Hello", rag.ModeChat, func(tok string) error {
		calls++
		return gone
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, gone)
	assert.True(t, services.IsInternalError(err))
	assert.False(t, services.IsUpstreamCompletionError(err))
	assert.Equal(t, 1, calls)
	require.NotNil(t, result)
	assert.Equal(t, "a", result.Reply)
	assert.True(t, result.Partial)

	history := sess.History()
	require.Len(t, history, 2)
	assert.Equal(t, models.RoleAssistant, history[1].Role)
	assert.Equal(t, "a", history[1].Content)
}

func TestDriver_Turn_ReleasesGuardAfterFailure(t *testing.T) {
	provider := &fakeStreamProvider{failWith: errors.New("boom")}
	driver := newTestDriver(provider, &stubAugmenter{})
	sess := NewSession()

	_, err := driver.Turn(context.Background(), sess, "one", rag.ModeChat, nil)
	require.Error(t, err)

	provider.failWith = nil
	provider.deltas = []string{"fine"}
	_, err = driver.Turn(context.Background(), sess, "two", rag.ModeChat, nil)
	assert.NoError(t, err)
}
