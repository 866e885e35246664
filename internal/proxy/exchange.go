package proxy

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/dedimark/source-query-proxy/internal/protocol"
	"github.com/dedimark/source-query-proxy/internal/transport"
)

// challengedRequest is satisfied by the players and rules requests, the
// two backend queries gated by the challenge handshake.
type challengedRequest interface {
	protocol.Message
	EncodeWithChallenge(challenge int32) []byte
}

// sendRecv performs one logical request/response exchange over a
// connected backend link, transparently following the server's challenge
// renegotiation: every ChallengeResponse reply is recorded and the
// original request re-sent under the new challenge, up to
// maxRenegotiations times.
//
// The sentinel challenge encodes to the wire's own "issue me a challenge"
// value, so first-contact requests need no special casing. The returned
// challenge is the latest one learned, which may differ from the one
// supplied at entry. An undecodable backend reply terminates the exchange
// like any non-challenge reply; its raw bytes are still returned.
func (p *QueryProxy) sendRecv(
	logger *slog.Logger,
	link *transport.Link,
	req challengedRequest,
	challenge int32,
	timeout time.Duration,
) (protocol.Message, []byte, *net.UDPAddr, int32, error) {
	current := challenge
	renegotiations := 0
	for {
		if err := link.SendPacket(req.EncodeWithChallenge(current)); err != nil {
			return nil, nil, nil, current, err
		}

		start := time.Now()
		msg, data, addr, err := link.RecvPacket(timeout)
		if err != nil {
			if errors.Is(err, protocol.ErrMalformed) {
				logger.Warn("undecodable backend reply, passing through",
					slog.Int("size", len(data)),
				)
				return nil, data, addr, current, nil
			}
			return nil, nil, nil, current, err
		}
		logger.Debug("got backend reply",
			slog.Any("message", msg),
			slog.Duration("elapsed", time.Since(start)),
		)

		resp, ok := msg.(protocol.ChallengeResponse)
		if !ok {
			return msg, data, addr, current, nil
		}

		renegotiations++
		p.metrics.RecordChallengeRenegotiation()
		if renegotiations > maxRenegotiations {
			return nil, nil, nil, current, fmt.Errorf("%w: %d renegotiations for %v",
				ErrProtocolDivergence, renegotiations, req)
		}
		if challenge != protocol.EmptyChallenge {
			p.metrics.RecordChallengeChange()
			logger.Warn("challenge number changed",
				slog.Int("old", int(challenge)),
				slog.Int("new", int(resp.Challenge)),
			)
		}
		current = resp.Challenge
	}
}
