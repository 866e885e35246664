package proxy

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dedimark/source-query-proxy/internal/cache"
	"github.com/dedimark/source-query-proxy/internal/protocol"
)

func newDispatchProxy(t *testing.T) *QueryProxy {
	t.Helper()

	p := newTestProxy(t, newTestConfig(t, "127.0.0.1:27016"))
	p.cache.Set(cache.KeyInfo, []byte("I1"))
	p.cache.Set(cache.KeyPlayers, []byte("P1"))
	p.cache.Set(cache.KeyRules, []byte("R1"))
	return p
}

func TestResponseForServesCache(t *testing.T) {
	p := newDispatchProxy(t)

	tests := []struct {
		name     string
		request  protocol.Message
		expected []byte
	}{
		{
			name:     "info needs no challenge",
			request:  protocol.InfoRequest{},
			expected: []byte("I1"),
		},
		{
			name:     "players with matching challenge",
			request:  protocol.PlayersRequest{Challenge: testChallenge},
			expected: []byte("P1"),
		},
		{
			name:     "rules with matching challenge",
			request:  protocol.RulesRequest{Challenge: testChallenge},
			expected: []byte("R1"),
		},
		{
			name:     "players with wrong challenge is redirected",
			request:  protocol.PlayersRequest{Challenge: 0},
			expected: protocol.ChallengeResponse{Challenge: testChallenge}.Encode(),
		},
		{
			name:     "players with sentinel challenge is redirected",
			request:  protocol.PlayersRequest{Challenge: protocol.EmptyChallenge},
			expected: protocol.ChallengeResponse{Challenge: testChallenge}.Encode(),
		},
		{
			name:     "rules with wrong challenge is redirected",
			request:  protocol.RulesRequest{Challenge: 7},
			expected: protocol.ChallengeResponse{Challenge: testChallenge}.Encode(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			response, err := p.responseFor(context.Background(), tt.request)
			if err != nil {
				t.Fatalf("responseFor failed: %v", err)
			}
			if !bytes.Equal(response, tt.expected) {
				t.Errorf("responseFor = % x, want % x", response, tt.expected)
			}
		})
	}
}

func TestResponseForUnhandledKinds(t *testing.T) {
	p := newDispatchProxy(t)

	tests := []struct {
		name    string
		request protocol.Message
	}{
		{name: "challenge response from a client", request: protocol.ChallengeResponse{Challenge: 1}},
		{name: "unrecognized message", request: protocol.Unrecognized{Type: 0x5A}},
		{name: "info response from a client", request: protocol.InfoResponse{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.responseFor(context.Background(), tt.request)
			if !errors.Is(err, ErrUnhandledRequest) {
				t.Errorf("responseFor error = %v, want ErrUnhandledRequest", err)
			}
		})
	}
}

func TestResponseForWaitsForFirstWrite(t *testing.T) {
	p := newTestProxy(t, newTestConfig(t, "127.0.0.1:27016"))

	results := make(chan []byte, 1)
	go func() {
		response, err := p.responseFor(context.Background(), protocol.InfoRequest{})
		if err != nil {
			t.Errorf("responseFor failed: %v", err)
			return
		}
		results <- response
	}()

	p.cache.Set(cache.KeyInfo, []byte("I-first"))

	select {
	case response := <-results:
		if !bytes.Equal(response, []byte("I-first")) {
			t.Errorf("responseFor = %q, want %q", response, "I-first")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("responseFor still blocked after Set")
	}
}
