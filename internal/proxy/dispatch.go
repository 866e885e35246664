package proxy

import (
	"context"
	"fmt"
	"time"

	"github.com/dedimark/source-query-proxy/internal/cache"
	"github.com/dedimark/source-query-proxy/internal/protocol"
)

// responseFor decides the encoded response for one decoded client
// request. Info is always served from the cache; players and rules are
// gated behind the proxy challenge, with a ChallengeResponse redirect for
// any other challenge value. Waiting for a not-yet-populated cache key is
// a genuine suspension until the owning refresh loop's first write.
func (p *QueryProxy) responseFor(ctx context.Context, msg protocol.Message) ([]byte, error) {
	switch m := msg.(type) {
	case protocol.InfoRequest:
		return p.cachedResponse(ctx, cache.KeyInfo)
	case protocol.PlayersRequest:
		return p.challengeGated(ctx, cache.KeyPlayers, m.Challenge)
	case protocol.RulesRequest:
		return p.challengeGated(ctx, cache.KeyRules, m.Challenge)
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnhandledRequest, msg)
	}
}

func (p *QueryProxy) cachedResponse(ctx context.Context, key cache.Key) ([]byte, error) {
	start := time.Now()
	data, err := p.cache.GetWait(ctx, key)
	if err != nil {
		return nil, err
	}
	p.metrics.RecordCacheWait(time.Since(start).Seconds())
	return data, nil
}

func (p *QueryProxy) challengeGated(ctx context.Context, key cache.Key, challenge int32) ([]byte, error) {
	if challenge == p.challenge {
		return p.cachedResponse(ctx, key)
	}

	if p.challenge != protocol.EmptyChallenge {
		// Stale or first-contact challenge: redirect the client to ours.
		p.metrics.RecordChallengeIssued()
		return protocol.ChallengeResponse{Challenge: p.challenge}.Encode(), nil
	}

	// Unreachable while the challenge is assigned eagerly in New; kept as
	// an explicit drop rather than a crash.
	return nil, fmt.Errorf("%w: no proxy challenge assigned", ErrUnhandledRequest)
}
