package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"coachrelay/pkg/interfaces"
)

// BreakerConfig tunes the circuit in front of the generator.
type BreakerConfig struct {
	Name        string
	MaxFailures uint32
	// OpenTimeout is how long the circuit stays open before a probe is let through.
	OpenTimeout time.Duration
	MaxRequests uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Name: "generator", MaxFailures: 5, OpenTimeout: 30 * time.Second, MaxRequests: 1}
}

// BreakerGenerator fails fast while the generative collaborator is down, so
// questions fall back to the default tip instead of waiting out the timeout.
type BreakerGenerator struct {
	next    interfaces.Generator
	breaker *gobreaker.CircuitBreaker
}

func NewBreakerGenerator(next interfaces.Generator, cfg BreakerConfig, logger logrus.FieldLogger) *BreakerGenerator {
	d := DefaultBreakerConfig()
	if cfg.Name == "" {
		cfg.Name = d.Name
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = d.MaxFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = d.OpenTimeout
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = d.MaxRequests
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		// A caller giving up is not the collaborator's fault.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("generator circuit changed state")
		},
	}
	return &BreakerGenerator{next: next, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (b *BreakerGenerator) Generate(ctx context.Context, prompt string, maxTokens int, temperature float32) (string, error) {
	out, err := b.breaker.Execute(func() (interface{}, error) {
		return b.next.Generate(ctx, prompt, maxTokens, temperature)
	})
	if err != nil {
		if errors.Is(err, ErrGenerationFailure) {
			return "", err
		}
		return "", fmt.Errorf("%w: breaker (%s): %w", ErrGenerationFailure, b.breaker.Name(), err)
	}
	return out.(string), nil
}

// State reports the circuit state for health output.
func (b *BreakerGenerator) State() string {
	return b.breaker.State().String()
}
