package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dedimark/source-query-proxy/internal/protocol"
	"github.com/dedimark/source-query-proxy/internal/transport"
)

// logSnippetSize caps how much of a broken datagram ends up in the log.
const logSnippetSize = 150

// listenClientRequests binds the client-facing socket and serves it one
// datagram at a time: broken datagrams and unhandled request kinds are
// logged and dropped, everything else gets the dispatcher's response.
// While the dispatcher waits on a not-yet-populated cache key no other
// inbound datagram is processed; once that key resolves, queued requests
// for it proceed immediately from the cache.
func (p *QueryProxy) listenClientRequests(ctx context.Context) error {
	logger := p.logger.With(slog.String("loop", "listener"))

	logger.Debug("binding", slog.String("address", p.cfg.Network.BindAddr()))
	link, err := transport.Bind(p.cfg.Network.BindAddr(), p.cfg.Query.BufferSize)
	if err != nil {
		return err
	}
	defer link.Close()

	// Closing the link is the only way to unblock a pending receive when
	// the orchestrator shuts down.
	stop := context.AfterFunc(ctx, func() { _ = link.Close() })
	defer stop()

	logger.Info("listening for client queries", slog.String("address", link.LocalAddr().String()))

	for {
		msg, data, addr, err := link.RecvPacket(0)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, protocol.ErrMalformed) {
				p.metrics.RecordDecodeError()
				p.countStat(func(s *Statistics) { s.DecodeErrors++ })
				logger.Warn("broken data was received",
					slog.String("remote_addr", addr.String()),
					slog.String("data", fmt.Sprintf("%x", snippet(data))),
				)
				continue
			}
			return fmt.Errorf("listener receive: %w", err)
		}

		p.metrics.RecordPacketReceived()
		p.countStat(func(s *Statistics) { s.PacketsReceived++ })

		response, err := p.responseFor(ctx, msg)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, ErrUnhandledRequest) {
				p.metrics.RecordRequestDropped()
				p.countStat(func(s *Statistics) { s.RequestsDropped++ })
				logger.Warn("dropping request",
					slog.String("remote_addr", addr.String()),
					slog.String("reason", err.Error()),
				)
				continue
			}
			return fmt.Errorf("listener dispatch: %w", err)
		}

		if err := link.SendPacketTo(response, addr); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("listener send: %w", err)
		}

		p.metrics.RecordResponseSent()
		p.countStat(func(s *Statistics) { s.ResponsesSent++ })
	}
}

func snippet(data []byte) []byte {
	if len(data) > logSnippetSize {
		return data[:logSnippetSize]
	}
	return data
}
