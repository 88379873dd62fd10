package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/config"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/scheduler"
)

// RateLimited wraps a transport with one token bucket per (channel, account).
// A send that cannot get a token within maxWait fails with ErrRateLimited.
type RateLimited struct {
	next    Transport
	clock   scheduler.Clock
	limit   rate.Limit
	burst   int
	maxWait time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

var _ Transport = (*RateLimited)(nil)

func NewRateLimited(next Transport, cfg config.RateLimitConfig, clock scheduler.Clock) *RateLimited {
	if clock == nil {
		clock = scheduler.RealClock{}
	}
	limit := rate.Limit(cfg.PerSecond)
	if cfg.PerSecond <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{
		next:     next,
		clock:    clock,
		limit:    limit,
		burst:    burst,
		maxWait:  cfg.MaxWait,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (t *RateLimited) limiter(ch, account string) *rate.Limiter {
	key := ch + "|" + account
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limiters[key]
	if !ok {
		l = rate.NewLimiter(t.limit, t.burst)
		t.limiters[key] = l
	}
	return l
}

func (t *RateLimited) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	l := t.limiter(string(req.Channel), req.AccountID)
	now := t.clock.Now()
	reservation := l.ReserveN(now, 1)
	if !reservation.OK() {
		return SendResult{}, fmt.Errorf("%w: %s/%s", apperrors.ErrRateLimited, req.Channel, req.AccountID)
	}
	if d := reservation.DelayFrom(now); d > 0 {
		if d > t.maxWait {
			// Give the token back; this send is rejected.
			reservation.CancelAt(now)
			return SendResult{}, fmt.Errorf("%w: %s/%s needs %s", apperrors.ErrRateLimited, req.Channel, req.AccountID, d)
		}
		if err := t.clock.Sleep(ctx, d); err != nil {
			reservation.CancelAt(t.clock.Now())
			return SendResult{}, err
		}
	}
	return t.next.Send(ctx, req)
}
