package proxy

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dedimark/source-query-proxy/internal/cache"
	"github.com/dedimark/source-query-proxy/internal/config"
	"github.com/dedimark/source-query-proxy/internal/metrics"
	"github.com/dedimark/source-query-proxy/internal/protocol"
)

var (
	// ErrUnhandledRequest reports a decodable message the dispatcher has
	// no answer for. The listener logs and drops such requests.
	ErrUnhandledRequest = errors.New("unhandled request kind")

	// ErrProtocolDivergence reports a backend that kept renegotiating the
	// challenge past the allowed bound. It is not recovered.
	ErrProtocolDivergence = errors.New("challenge renegotiation limit exceeded")
)

// maxRenegotiations bounds how often a single exchange follows a
// ChallengeResponse before giving up with ErrProtocolDivergence.
const maxRenegotiations = 5

// QueryProxy absorbs A2S query traffic for one backend game server: three
// refresh loops keep the INFO/PLAYERS/RULES responses cached, and the
// listener answers every client from that cache.
type QueryProxy struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	cache   *cache.Cache

	// challenge identifies this proxy instance to clients. Generated once
	// in New, never reassigned.
	challenge int32

	mu    sync.RWMutex
	stats Statistics
}

// Statistics holds the listener counters exposed on the monitoring API.
type Statistics struct {
	PacketsReceived uint64 `json:"packets_received"`
	ResponsesSent   uint64 `json:"responses_sent"`
	DecodeErrors    uint64 `json:"decode_errors"`
	RequestsDropped uint64 `json:"requests_dropped"`
}

// New creates a proxy for the configured backend. The client-facing
// challenge is drawn eagerly from [1, MaxInt32] so it can never collide
// with the empty-challenge sentinel.
func New(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *QueryProxy {
	return &QueryProxy{
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
		cache:     cache.New(),
		challenge: rand.Int32N(math.MaxInt32) + 1,
	}
}

// Cache exposes the response cache for monitoring reads.
func (p *QueryProxy) Cache() *cache.Cache {
	return p.cache
}

// Statistics returns a snapshot of the listener counters.
func (p *QueryProxy) Statistics() Statistics {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stats
}

func (p *QueryProxy) countStat(update func(*Statistics)) {
	p.mu.Lock()
	update(&p.stats)
	p.mu.Unlock()
}

// Run starts the three refresh loops and the client listener and blocks
// until ctx is cancelled or one of them fails. Timeouts are recovered
// inside the refresh loops; any error reaching Run is fatal to all units.
func (p *QueryProxy) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	q := p.cfg.Query
	g.Go(func() error {
		return p.runRefreshLoop(ctx, cache.KeyInfo, q.GetInfoCacheLifetime(), p.queryInfo)
	})
	g.Go(func() error {
		return p.runRefreshLoop(ctx, cache.KeyPlayers, q.GetPlayersCacheLifetime(),
			p.challengedQuery(protocol.PlayersRequest{}))
	})
	g.Go(func() error {
		return p.runRefreshLoop(ctx, cache.KeyRules, q.GetRulesCacheLifetime(),
			p.challengedQuery(protocol.RulesRequest{}))
	})
	g.Go(func() error {
		return p.listenClientRequests(ctx)
	})

	return g.Wait()
}
