// Package cache resolves interview questions through the static, dynamic and
// generative tiers.
package cache

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"coachrelay/internal/metrics"
	"coachrelay/internal/question"
	"coachrelay/pkg/interfaces"
	"coachrelay/pkg/types"
)

// Fixed confidence scores and feedback per tier
const (
	StaticScore        = 9.0
	DynamicScore       = 8.5
	MalformedScore     = 7.0
	ErrorScore         = 5.0
	MalformedFeedback  = "generated response"
	ErrorFeedback      = "default response due to error"
	DefaultTip         = "Pause, restate the question in your own words, then answer with one concrete example and its result."
	DefaultMaxTokens   = 150
	DefaultTemperature = 0.7
	DefaultTimeout     = 20 * time.Second
)

// FUNCTIONAL DISCOVERY: Models wrap the reply in prose or newlines, so the
// match is unanchored and dot matches newline
var replyPattern = regexp.MustCompile(`(?is)RESPONSE:\s*(.*?)\s*\|\s*SCORE:\s*([-+]?[0-9]*\.?[0-9]+)\s*\|\s*FEEDBACK:\s*(.*)`)

// ContextSource supplies the rendered conversation window for a session.
type ContextSource interface {
	Render(sessionID string) string
}

// ResolverConfig tunes the generative fallback.
type ResolverConfig struct {
	MaxTokens   int
	Temperature float32
	// Timeout bounds one generative call; 0 means no bound.
	Timeout time.Duration
}

func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
		Timeout:     DefaultTimeout,
	}
}

// Option customizes a Resolver.
type Option func(*Resolver)

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithSessionCheck lets the resolver discard entries learned for a session
// that was torn down while its fallback was in flight.
func WithSessionCheck(exists func(sessionID string) bool) Option {
	return func(r *Resolver) { r.exists = exists }
}

// Resolver runs the three tiers in order and short-circuits on the first hit.
// Only the generative fallback may block, and it never runs under a lock.
type Resolver struct {
	static    *StaticTable
	dynamic   *Dynamic
	window    ContextSource
	generator interfaces.Generator
	cfg       ResolverConfig

	// ARCHITECTURAL DISCOVERY: Identical questions racing in one session share
	// a single generative call and a single insert
	group singleflight.Group

	metrics *metrics.Metrics
	logger  logrus.FieldLogger
	exists  func(string) bool
	now     func() time.Time
}

// NewResolver wires the tiers. window and generator may be nil; a nil
// generator resolves every miss to the error fallback.
func NewResolver(static *StaticTable, dynamic *Dynamic, window ContextSource, generator interfaces.Generator, cfg ResolverConfig, opts ...Option) *Resolver {
	if dynamic == nil {
		dynamic = NewDynamic(DefaultDynamicCapacity)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	r := &Resolver{
		static:    static,
		dynamic:   dynamic,
		window:    window,
		generator: generator,
		cfg:       cfg,
		logger:    logrus.StandardLogger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve never fails: collaborator errors become the error_fallback tier.
func (r *Resolver) Resolve(ctx context.Context, sessionID, questionText string) types.Resolution {
	start := time.Now()
	res := r.resolve(ctx, sessionID, questionText)
	res.Category = string(question.Classify(questionText))
	r.metrics.ObserveResolution(string(res.Source), time.Since(start))
	return res
}

func (r *Resolver) resolve(ctx context.Context, sessionID, questionText string) types.Resolution {
	if tip, ok := r.static.Lookup(questionText); ok {
		return types.Resolution{Response: tip, Score: StaticScore, Source: types.SourceStatic}
	}

	hash := question.Normalize(questionText)
	if entry, ok := r.dynamic.Hit(sessionID, hash); ok {
		return dynamicResolution(entry)
	}

	ch := r.group.DoChan(sessionID+"\x00"+hash, func() (interface{}, error) {
		// Another flight may have inserted between our miss and this call.
		if entry, ok := r.dynamic.Hit(sessionID, hash); ok {
			return dynamicResolution(entry), nil
		}
		// The flight outlives a cancelled caller so its result is still learned.
		return r.fallback(context.WithoutCancel(ctx), sessionID, hash, questionText), nil
	})

	select {
	case result := <-ch:
		return result.Val.(types.Resolution)
	case <-ctx.Done():
		r.logger.WithFields(logrus.Fields{
			"session_id": sessionID,
			"error":      ctx.Err(),
		}).Warn("question abandoned while waiting for fallback")
		return errorResolution()
	}
}

func (r *Resolver) fallback(ctx context.Context, sessionID, hash, questionText string) types.Resolution {
	log := r.logger.WithField("session_id", sessionID)
	if r.generator == nil {
		log.WithError(ErrNoGenerator).Warn("fallback unavailable")
		return errorResolution()
	}

	prompt := BuildPrompt(questionText, r.renderContext(sessionID))
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	reply, err := r.generator.Generate(ctx, prompt, r.cfg.MaxTokens, r.cfg.Temperature)
	if err != nil {
		log.WithError(err).Warn("generation failed, using default response")
		return errorResolution()
	}

	res, err := ParseReply(reply)
	if err != nil {
		log.WithError(err).Debug("unparseable generation reply")
		res = types.Resolution{Response: DefaultTip, Score: MalformedScore, Feedback: MalformedFeedback}
	}
	res.Source = types.SourceAIGenerated

	now := r.now()
	stored, _ := r.dynamic.Insert(types.CacheEntry{
		SessionID:    sessionID,
		QuestionHash: hash,
		QuestionText: questionText,
		ResponseText: res.Response,
		UsageCount:   1,
		LastUsed:     now,
		CreatedAt:    now,
	})
	res.UsageCount = stored.UsageCount

	if r.exists != nil && !r.exists(sessionID) {
		r.dynamic.DropSession(sessionID)
	}
	return res
}

func (r *Resolver) renderContext(sessionID string) string {
	if r.window == nil {
		return ""
	}
	return r.window.Render(sessionID)
}

// Entry exposes the learned entry for a question without recording a use.
func (r *Resolver) Entry(sessionID, questionText string) (types.CacheEntry, bool) {
	return r.dynamic.Peek(sessionID, question.Normalize(questionText))
}

// Len returns the number of learned entries of a session.
func (r *Resolver) Len(sessionID string) int {
	return r.dynamic.Len(sessionID)
}

// DropSession forgets everything learned for a session.
func (r *Resolver) DropSession(sessionID string) int {
	return r.dynamic.DropSession(sessionID)
}

// StaticEntries returns the size of the static table.
func (r *Resolver) StaticEntries() int {
	return r.static.Len()
}

func dynamicResolution(entry types.CacheEntry) types.Resolution {
	return types.Resolution{
		Response:   entry.ResponseText,
		Score:      DynamicScore,
		Source:     types.SourceDynamic,
		UsageCount: entry.UsageCount,
	}
}

func errorResolution() types.Resolution {
	return types.Resolution{
		Response: DefaultTip,
		Score:    ErrorScore,
		Feedback: ErrorFeedback,
		Source:   types.SourceErrorFallback,
	}
}

// BuildPrompt assembles the generative prompt. An empty history selects the
// context-free variant.
func BuildPrompt(questionText, history string) string {
	var b strings.Builder
	b.WriteString("You are a concise interview coach. Suggest how the candidate should answer the interviewer's question.\n")
	if history != "" {
		b.WriteString("Recent conversation:\n")
		b.WriteString(history)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Question: %s\n", questionText)
	b.WriteString("Reply on one line in exactly this format:\n")
	b.WriteString("RESPONSE: <tip under 40 words> | SCORE: <1-10 quality of a typical answer> | FEEDBACK: <one short sentence>")
	return b.String()
}

// ParseReply extracts response, score and feedback from a structured reply
// and clamps the score into [1,10].
func ParseReply(reply string) (types.Resolution, error) {
	m := replyPattern.FindStringSubmatch(reply)
	if m == nil {
		return types.Resolution{}, ErrMalformedReply
	}
	response := strings.TrimSpace(m[1])
	if response == "" {
		return types.Resolution{}, fmt.Errorf("%w: empty response", ErrMalformedReply)
	}
	score, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return types.Resolution{}, fmt.Errorf("%w: score %q: %v", ErrMalformedReply, m[2], err)
	}
	return types.Resolution{
		Response: response,
		Score:    clampScore(score),
		Feedback: strings.TrimSpace(m[3]),
	}, nil
}

func clampScore(s float64) float64 {
	if s < 1 {
		return 1
	}
	if s > 10 {
		return 10
	}
	return s
}
