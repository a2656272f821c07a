package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

type State string

const (
	StatePending    State = "pending"
	StateAuthorized State = "authorized"
	StateDenied     State = "denied"
	StateExpired    State = "expired"
	StateFailed     State = "failed"
)

// TokenPoller performs one token request. DeviceClient implements it.
type TokenPoller interface {
	PollToken(ctx context.Context, deviceCode, clientID string) PollResult
}

// Poller drives sequential token polls until a terminal state is reached.
// It waits before every attempt, including the first one.
type Poller struct {
	Client   TokenPoller
	ClientID string
	Log      *zap.SugaredLogger

	// Sleep and Now default to a context-aware timer and time.Now.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// Outcome describes where polling ended.
type Outcome struct {
	State    State
	Token    *oauth2.Token
	Attempts int
	// Interval is the wait in effect when polling stopped.
	Interval time.Duration
}

// Poll blocks until the user authorizes, denies, the device code expires, or
// polling fails. A non-nil error is returned for every state except
// StateAuthorized.
func (p *Poller) Poll(ctx context.Context, da *DeviceAuthorization) (Outcome, error) {
	out := Outcome{State: StatePending}
	if da == nil || da.DeviceCode == "" {
		out.State = StateFailed
		return out, fmt.Errorf("%w: device code is required", ErrProtocol)
	}
	if p.Client == nil {
		out.State = StateFailed
		return out, errors.New("poller has no token client")
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}
	log := p.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	out.Interval = da.PollInterval()
	var deadline time.Time
	if lifetime := da.Lifetime(); lifetime > 0 {
		deadline = now().Add(lifetime)
	}

	for {
		// The last wait is cut short so the code is polled once more before it
		// expires locally.
		wait, last := out.Interval, false
		if !deadline.IsZero() {
			remaining := deadline.Sub(now())
			if remaining <= 0 {
				return expired(out, da)
			}
			if remaining <= wait {
				wait, last = remaining, true
			}
		}
		if err := sleep(ctx, wait); err != nil {
			out.State = StateFailed
			return out, fmt.Errorf("polling stopped: %w", err)
		}

		out.Attempts++
		res := p.Client.PollToken(ctx, da.DeviceCode, p.ClientID)
		log.Debugw("Polled token endpoint", "attempt", out.Attempts, "result", res.Status.String(), "interval", out.Interval)

		switch res.Status {
		case PollAuthorized:
			if res.Token == nil {
				out.State = StateFailed
				return out, fmt.Errorf("%w: authorized without a token", ErrProtocol)
			}
			out.State = StateAuthorized
			out.Token = res.Token
			return out, nil
		case PollPending:
			if last {
				return expired(out, da)
			}
		case PollSlowDown:
			out.Interval += SlowDownIncrement
			log.Debugw("Server asked to slow down", "interval", out.Interval)
			if last {
				return expired(out, da)
			}
		case PollDenied:
			out.State = StateDenied
			return out, fmt.Errorf("%w: %s", ErrAccessDenied, res.message())
		case PollExpired:
			out.State = StateExpired
			return out, fmt.Errorf("%w: %s", ErrExpiredToken, res.message())
		case PollNetworkError:
			out.State = StateFailed
			if ctxErr := ctx.Err(); ctxErr != nil {
				return out, fmt.Errorf("polling stopped: %w", ctxErr)
			}
			return out, fmt.Errorf("%w: token poll failed: %w", ErrNetwork, res.Err)
		default:
			out.State = StateFailed
			return out, fmt.Errorf("%w: %s", ErrProtocol, res.message())
		}
	}
}

func expired(out Outcome, da *DeviceAuthorization) (Outcome, error) {
	out.State = StateExpired
	return out, fmt.Errorf("%w: no authorization within %s", ErrExpiredToken, da.Lifetime())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
