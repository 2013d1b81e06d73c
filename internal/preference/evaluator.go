// Package preference decides whether a notification may be delivered now.
package preference

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/dispatch-core/internal/domain"
)

const (
	hourWindow = time.Hour
	dayWindow  = 24 * time.Hour
)

// Outcome is the evaluator verdict.
type Outcome string

const (
	OutcomeAllow Outcome = "ALLOW"
	OutcomeDeny  Outcome = "DENY"
	OutcomeDefer Outcome = "DEFER"
)

func (o Outcome) String() string { return string(o) }

// Decision is returned by Evaluate. Until is set only for OutcomeDefer.
type Decision struct {
	Outcome Outcome
	Until   time.Time
	Reason  string
}

func allow(reason string) Decision { return Decision{Outcome: OutcomeAllow, Reason: reason} }
func deny(reason string) Decision  { return Decision{Outcome: OutcomeDeny, Reason: reason} }
func deferUntil(until time.Time, reason string) Decision {
	return Decision{Outcome: OutcomeDefer, Until: until, Reason: reason}
}

// WindowUsage is the number of sends within a trailing window and the oldest one counted.
type WindowUsage struct {
	Count  int64
	Oldest time.Time
}

// RateCounter reads per (user, channel) send counts. Implementations must not reserve quota.
type RateCounter interface {
	Usage(ctx context.Context, userID string, channel domain.Channel, window time.Duration, now time.Time) (WindowUsage, error)
}

// Evaluator applies opt-outs, quiet hours and rate caps. It only reads state.
type Evaluator struct {
	counter         RateCounter
	optOutByDefault bool
	now             func() time.Time
}

func NewEvaluator(counter RateCounter, optOutByDefault bool) (*Evaluator, error) {
	if counter == nil {
		return nil, fmt.Errorf("rate counter is required")
	}

	return &Evaluator{
		counter:         counter,
		optOutByDefault: optOutByDefault,
		now:             time.Now,
	}, nil
}

// Evaluate returns Allow, Deny or Defer for n. pref may be nil when the user
// has no record for (type, channel). Mandatory types are never denied.
func (e *Evaluator) Evaluate(
	ctx context.Context,
	n *domain.Notification,
	user *domain.User,
	pref *domain.NotificationPreference,
) (Decision, error) {
	if n == nil {
		return Decision{}, fmt.Errorf("%w: notification is required", domain.ErrValidation)
	}

	mandatory := n.Type.Mandatory()

	if pref == nil {
		if mandatory || e.optOutByDefault {
			return allow("no preference record"), nil
		}
		return deny("no opt-in for " + n.Type.String() + " on " + n.Channel.String()), nil
	}

	if !pref.Enabled && !mandatory {
		return deny("user opted out of " + n.Type.String() + " on " + n.Channel.String()), nil
	}

	now := e.now().In(user.Location())

	if pref.QuietHours != nil && n.Priority != domain.PriorityCritical {
		if pref.QuietHours.Contains(domain.ClockTimeOf(now)) {
			until := pref.QuietHours.EndAfter(now)
			return deferUntil(until.UTC(), "quiet hours until "+pref.QuietHours.End.String()), nil
		}
	}

	caps := []struct {
		limit  int
		window time.Duration
		name   string
	}{
		{limit: pref.MaxPerHour, window: hourWindow, name: "hourly"},
		{limit: pref.MaxPerDay, window: dayWindow, name: "daily"},
	}

	for _, c := range caps {
		if c.limit <= 0 {
			continue
		}

		usage, err := e.counter.Usage(ctx, n.UserID, n.Channel, c.window, now)
		if err != nil {
			return Decision{}, fmt.Errorf("failed to read %s rate counter: %w", c.name, err)
		}
		if usage.Count < int64(c.limit) {
			continue
		}

		reason := fmt.Sprintf("%s cap of %d reached", c.name, c.limit)
		if !mandatory {
			return deny(reason), nil
		}

		until := now.Add(c.window)
		if !usage.Oldest.IsZero() {
			until = usage.Oldest.Add(c.window)
		}
		return deferUntil(until.UTC(), reason), nil
	}

	return allow("preference allows delivery"), nil
}
