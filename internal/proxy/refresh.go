package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"syscall"
	"time"

	"github.com/dedimark/source-query-proxy/internal/cache"
	"github.com/dedimark/source-query-proxy/internal/protocol"
	"github.com/dedimark/source-query-proxy/internal/transport"
)

// queryFunc performs one backend query on an open link, returning the raw
// response bytes to cache and the latest known backend challenge.
type queryFunc func(logger *slog.Logger, link *transport.Link, challenge int32, timeout time.Duration) ([]byte, int32, error)

// runRefreshLoop keeps one cache key fresh forever. A backend timeout
// anywhere inside the loop body abandons the current link and restarts
// the whole cycle from Disconnected after a constant backoff; every other
// error is fatal and propagates to the orchestrator.
func (p *QueryProxy) runRefreshLoop(ctx context.Context, key cache.Key, lifetime time.Duration, query queryFunc) error {
	logger := p.logger.With(slog.String("loop", string(key)))
	backoff := p.cfg.Query.GetRetryBackoff()

	for {
		err := p.refreshEpochs(ctx, logger, key, lifetime, query)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		// An unreachable port surfaces as ECONNREFUSED on a connected UDP
		// socket; for the retry policy it is the same as silence.
		case errors.Is(err, transport.ErrTimeout) || errors.Is(err, syscall.ECONNREFUSED):
			p.metrics.RecordRefreshTimeout(string(key))
			logger.Warn("backend unreachable, restarting refresh loop",
				slog.String("error", err.Error()),
				slog.Duration("backoff", backoff),
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			return fmt.Errorf("%s refresh: %w", key, err)
		}
	}
}

// refreshEpochs runs connection epochs back to back until an error.
func (p *QueryProxy) refreshEpochs(ctx context.Context, logger *slog.Logger, key cache.Key, lifetime time.Duration, query queryFunc) error {
	for {
		if err := p.runEpoch(ctx, logger, key, lifetime, query); err != nil {
			return err
		}
	}
}

// runEpoch opens one backend link and polls it until the connection
// lifetime elapses. The backend challenge is scoped to the epoch: it
// starts at the sentinel and is discarded when the link closes, bounding
// how long any single connection and challenge is trusted.
func (p *QueryProxy) runEpoch(ctx context.Context, logger *slog.Logger, key cache.Key, lifetime time.Duration, query queryFunc) error {
	connLifetime := p.cfg.Query.GetConnectionLifetime()

	link, err := transport.Connect(p.cfg.Network.ServerAddr(), p.cfg.Query.BufferSize)
	if err != nil {
		return err
	}
	defer link.Close()

	p.metrics.RecordBackendReconnect(string(key))
	logger.Debug("connected to backend",
		slog.String("backend", p.cfg.Network.ServerAddr()),
		slog.String("local_addr", link.LocalAddr().String()),
	)

	challenge := protocol.EmptyChallenge
	expiry := time.Now().Add(connLifetime)
	for time.Now().Before(expiry) {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := time.Now()
		data, newChallenge, err := query(logger, link, challenge, connLifetime)
		if err != nil {
			return err
		}
		challenge = newChallenge

		p.cache.Set(key, data)
		p.metrics.RecordCacheRefresh(string(key), time.Since(start).Seconds())

		select {
		case <-time.After(lifetime):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	logger.Debug("connection expired, reconnecting")
	return nil
}

// queryInfo performs a plain INFO round trip; INFO never participates in
// the challenge handshake.
func (p *QueryProxy) queryInfo(logger *slog.Logger, link *transport.Link, challenge int32, timeout time.Duration) ([]byte, int32, error) {
	if err := link.SendPacket(protocol.InfoRequest{}.Encode()); err != nil {
		return nil, challenge, err
	}

	start := time.Now()
	msg, data, _, err := link.RecvPacket(timeout)
	if err != nil {
		if errors.Is(err, protocol.ErrMalformed) {
			logger.Warn("undecodable backend reply, passing through", slog.Int("size", len(data)))
			return data, challenge, nil
		}
		return nil, challenge, err
	}
	logger.Debug("got backend reply",
		slog.Any("message", msg),
		slog.Duration("elapsed", time.Since(start)),
	)
	return data, challenge, nil
}

// challengedQuery adapts a players or rules request into a queryFunc that
// runs the full challenge handshake exchange.
func (p *QueryProxy) challengedQuery(req challengedRequest) queryFunc {
	return func(logger *slog.Logger, link *transport.Link, challenge int32, timeout time.Duration) ([]byte, int32, error) {
		_, data, _, newChallenge, err := p.sendRecv(logger, link, req, challenge, timeout)
		if err != nil {
			return nil, challenge, err
		}
		return data, newChallenge, nil
	}
}
