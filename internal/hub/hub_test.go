package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coachrelay/internal/conversation"
	"coachrelay/internal/metrics"
	"coachrelay/pkg/protocol"
	"coachrelay/pkg/types"
)

type fakeResolver struct {
	mu    sync.Mutex
	asked []string
	res   types.Resolution
	block chan struct{}
}

func (r *fakeResolver) Resolve(ctx context.Context, sessionID, questionText string) types.Resolution {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	r.asked = append(r.asked, questionText)
	r.mu.Unlock()
	return r.res
}

func (r *fakeResolver) questions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.asked...)
}

type sent struct {
	sessionID string
	to        types.Role
	kind      string
	envelope  interface{}
}

type fakeSender struct {
	mu  sync.Mutex
	out []sent
}

func (s *fakeSender) Send(sessionID string, to types.Role, envelope interface{}, kind string) bool {
	s.mu.Lock()
	s.out = append(s.out, sent{sessionID, to, kind, envelope})
	s.mu.Unlock()
	return true
}

func (s *fakeSender) all() []sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sent(nil), s.out...)
}

type fakeSessions struct {
	mu  sync.Mutex
	ids map[string]bool
}

func (f *fakeSessions) Exists(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ids[id]
}

func (f *fakeSessions) remove(id string) {
	f.mu.Lock()
	delete(f.ids, id)
	f.mu.Unlock()
}

type fakeTranscriber struct {
	text string
	err  error
}

func (t *fakeTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	return t.text, t.err
}

type fakeRecorder struct {
	mu        sync.Mutex
	exchanges []*types.Exchange
	err       error
}

func (r *fakeRecorder) RecordExchange(ctx context.Context, ex *types.Exchange) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	r.exchanges = append(r.exchanges, ex)
	r.mu.Unlock()
	return nil
}

func (r *fakeRecorder) all() []*types.Exchange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*types.Exchange(nil), r.exchanges...)
}

type hubFixture struct {
	hub      *Hub
	resolver *fakeResolver
	sender   *fakeSender
	sessions *fakeSessions
	window   *conversation.Store
	recorder *fakeRecorder
}

func newHubFixture(t *testing.T, cfg Config, opts ...Option) *hubFixture {
	logger, _ := logtest.NewNullLogger()
	f := &hubFixture{
		resolver: &fakeResolver{res: types.Resolution{Response: "Lead with impact.", Score: 9, Source: types.SourceStatic}},
		sender:   &fakeSender{},
		sessions: &fakeSessions{ids: map[string]bool{"s1": true, "s2": true}},
		window:   conversation.NewStore(6, 150),
		recorder: &fakeRecorder{},
	}
	base := []Option{WithLogger(logger), WithMetrics(metrics.New()), WithRecorders(f.recorder)}
	f.hub = NewHub(f.resolver, f.sender, f.sessions, f.window, cfg, append(base, opts...)...)
	require.NoError(t, f.hub.Start(context.Background()))
	t.Cleanup(func() { _ = f.hub.Stop() })
	return f
}

func question(text string) protocol.Event {
	return protocol.Event{Type: protocol.EventQuestion, Text: text}
}

func TestHub_StartStop(t *testing.T) {
	h := NewHub(&fakeResolver{}, &fakeSender{}, &fakeSessions{}, conversation.NewStore(0, 0), DefaultConfig())

	require.NoError(t, h.Start(context.Background()))
	assert.ErrorIs(t, h.Start(context.Background()), ErrHubAlreadyRunning)
	require.NoError(t, h.Stop())
	assert.ErrorIs(t, h.Stop(), ErrHubNotRunning)
	assert.ErrorIs(t, h.Submit("s1", types.RoleDesktop, question("anything")), ErrHubNotRunning)
}

func TestHub_QuestionPipeline(t *testing.T) {
	f := newHubFixture(t, DefaultConfig())

	require.NoError(t, f.hub.Submit("s1", types.RoleDesktop, question("  What are your strengths?  ")))

	require.Eventually(t, func() bool { return len(f.sender.all()) == 2 }, 2*time.Second, 5*time.Millisecond)
	out := f.sender.all()

	assert.Equal(t, protocol.TagProcessing, out[0].kind)
	assert.Equal(t, types.RoleMobile, out[0].to)

	assert.Equal(t, protocol.TagResponse, out[1].kind)
	assert.Equal(t, types.RoleMobile, out[1].to)
	resp := out[1].envelope.(protocol.Response)
	assert.Equal(t, "What are your strengths?", resp.Question)
	assert.Equal(t, "Lead with impact.", resp.Answer)
	assert.Equal(t, 9.0, resp.Score)
	assert.Equal(t, "static", resp.Source)

	assert.Equal(t, "Q: What are your strengths?\nA: Lead with impact.", f.window.Render("s1"))

	require.Eventually(t, func() bool { return len(f.recorder.all()) == 2 }, time.Second, 5*time.Millisecond)
	recorded := f.recorder.all()
	assert.Equal(t, types.KindQuestion, recorded[0].Kind)
	assert.Equal(t, types.RoleDesktop, recorded[0].Role)
	assert.Equal(t, types.KindAnswer, recorded[1].Kind)
	assert.Equal(t, types.SourceStatic, recorded[1].Source)
	require.NotNil(t, recorded[1].Score)
	assert.Equal(t, 9.0, *recorded[1].Score)
}

func TestHub_ShortTextIsIgnored(t *testing.T) {
	f := newHubFixture(t, DefaultConfig())

	require.NoError(t, f.hub.Submit("s1", types.RoleDesktop, question(" hi  ")))
	require.NoError(t, f.hub.Submit("s1", types.RoleDesktop, question("Why this role?")))

	require.Eventually(t, func() bool { return len(f.resolver.questions()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"Why this role?"}, f.resolver.questions())
}

func TestHub_AudioTranscription(t *testing.T) {
	f := newHubFixture(t, DefaultConfig(), WithTranscriber(&fakeTranscriber{text: "Tell me about yourself"}))

	require.NoError(t, f.hub.Submit("s1", types.RoleDesktop, protocol.Event{Type: protocol.EventAudioChunk, Audio: []byte{1, 2, 3}}))

	require.Eventually(t, func() bool { return len(f.resolver.questions()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "Tell me about yourself", f.resolver.questions()[0])
}

func TestHub_TranscriptionUnavailable(t *testing.T) {
	tests := map[string][]Option{
		"no transcriber":    nil,
		"failing":           {WithTranscriber(&fakeTranscriber{err: errors.New("whisper down")})},
		"near empty result": {WithTranscriber(&fakeTranscriber{text: " uh "})},
	}
	for name, opts := range tests {
		t.Run(name, func(t *testing.T) {
			f := newHubFixture(t, DefaultConfig(), opts...)
			require.NoError(t, f.hub.Submit("s1", types.RoleDesktop, protocol.Event{Type: protocol.EventAudioChunk, Audio: []byte{1}}))
			// A typed question after it proves the worker moved on.
			require.NoError(t, f.hub.Submit("s1", types.RoleDesktop, question("Why this role?")))

			require.Eventually(t, func() bool { return len(f.resolver.questions()) == 1 }, 2*time.Second, 5*time.Millisecond)
			assert.Equal(t, []string{"Why this role?"}, f.resolver.questions())
		})
	}
}

func TestHub_UnknownSessionDropped(t *testing.T) {
	f := newHubFixture(t, DefaultConfig())

	assert.ErrorIs(t, f.hub.Submit("ghost", types.RoleDesktop, question("Are you there at all?")), ErrSessionNotFound)
	require.NoError(t, f.hub.Submit("s1", types.RoleDesktop, question("Why this role?")))

	require.Eventually(t, func() bool { return len(f.resolver.questions()) == 1 }, 2*time.Second, 5*time.Millisecond)
	for _, s := range f.sender.all() {
		assert.NotEqual(t, "ghost", s.sessionID)
	}
}

func TestHub_SessionSweptDuringResolve(t *testing.T) {
	f := newHubFixture(t, DefaultConfig())
	f.resolver.block = make(chan struct{})

	require.NoError(t, f.hub.Submit("s1", types.RoleDesktop, question("Why this role?")))
	require.Eventually(t, func() bool { return len(f.sender.all()) == 1 }, 2*time.Second, 5*time.Millisecond)

	f.sessions.remove("s1")
	close(f.resolver.block)

	require.Eventually(t, func() bool { return len(f.resolver.questions()) == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, f.sender.all(), 1, "no response for a swept session")
	assert.Equal(t, "", f.window.Render("s1"))
	assert.Empty(t, f.recorder.all())
}

func TestHub_RecorderFailureIsNotFatal(t *testing.T) {
	f := newHubFixture(t, DefaultConfig())
	f.recorder.err = errors.New("disk full")

	require.NoError(t, f.hub.Submit("s1", types.RoleDesktop, question("Why this role?")))
	require.Eventually(t, func() bool { return len(f.sender.all()) == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestHub_RateLimited(t *testing.T) {
	f := newHubFixture(t, Config{RatePerMinute: 2})

	assert.NoError(t, f.hub.Submit("s1", types.RoleDesktop, question("Question one?")))
	assert.NoError(t, f.hub.Submit("s1", types.RoleDesktop, question("Question two?")))
	assert.ErrorIs(t, f.hub.Submit("s1", types.RoleDesktop, question("Question three?")), ErrRateLimited)

	assert.NoError(t, f.hub.Submit("s2", types.RoleDesktop, question("Other session?")), "limits are per session")

	f.hub.Forget("s1")
	assert.NoError(t, f.hub.Submit("s1", types.RoleDesktop, question("Fresh start?")))
}

func TestHub_SweptSessionDoesNotRegrowLimiter(t *testing.T) {
	f := newHubFixture(t, Config{RatePerMinute: 5})

	require.NoError(t, f.hub.Submit("s1", types.RoleDesktop, question("Question one?")))
	assert.Equal(t, 1, f.hub.limiter.Len())

	f.sessions.remove("s1")
	f.hub.Forget("s1")
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, f.hub.Submit("s1", types.RoleDesktop, question("Still listening?")), ErrSessionNotFound)
	}
	assert.Equal(t, 0, f.hub.limiter.Len())
}

func TestHub_QueueFull(t *testing.T) {
	f := newHubFixture(t, Config{Workers: 1, QueueSize: 1})
	f.resolver.block = make(chan struct{})
	defer close(f.resolver.block)

	require.NoError(t, f.hub.Submit("s1", types.RoleDesktop, question("First question")))
	require.Eventually(t, func() bool { return len(f.sender.all()) == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, f.hub.Submit("s1", types.RoleDesktop, question("Second question")))
	assert.ErrorIs(t, f.hub.Submit("s1", types.RoleDesktop, question("Third question")), ErrQueueFull)
}

func TestHub_PerSessionOrder(t *testing.T) {
	f := newHubFixture(t, Config{Workers: 4, QueueSize: 16, RatePerMinute: 100})

	want := []string{"Question number one", "Question number two", "Question number three"}
	for _, q := range want {
		require.NoError(t, f.hub.Submit("s1", types.RoleMobile, question(q)))
	}

	require.Eventually(t, func() bool { return len(f.resolver.questions()) == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, want, f.resolver.questions())
}

func TestLimiter(t *testing.T) {
	var disabled *Limiter = NewLimiter(0)
	assert.Nil(t, disabled)
	assert.True(t, disabled.Allow("s1"))

	l := NewLimiter(1)
	assert.True(t, l.Allow("s1"))
	assert.False(t, l.Allow("s1"))
	assert.Equal(t, 1, l.Len())
	l.Forget("s1")
	assert.Equal(t, 0, l.Len())
}
