package proxy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dedimark/source-query-proxy/internal/cache"
	"github.com/dedimark/source-query-proxy/internal/protocol"
)

func TestRefreshLoopPollsAndReconnects(t *testing.T) {
	var mu sync.Mutex
	requests := 0

	backend := newFakeBackend(t, func(data []byte) [][]byte {
		if _, err := protocol.Decode(data); err != nil {
			t.Errorf("backend received undecodable request: %v", err)
			return nil
		}
		mu.Lock()
		requests++
		mu.Unlock()
		return [][]byte{respond(protocol.TypeInfoResponse, "fake info")}
	})

	cfg := newTestConfig(t, backend.addr())
	p := newTestProxy(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	loopErr := make(chan error, 1)
	go func() {
		loopErr <- p.runRefreshLoop(ctx, cache.KeyInfo, cfg.Query.GetInfoCacheLifetime(), p.queryInfo)
	}()

	// Connection lifetime is 250ms and the polling interval 50ms: within
	// 650ms a healthy backend sees several polls and at least one
	// proactive reconnect (a second source port).
	time.Sleep(650 * time.Millisecond)
	cancel()

	select {
	case err := <-loopErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("refresh loop returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("refresh loop did not return after cancellation")
	}

	mu.Lock()
	polls := requests
	mu.Unlock()
	if polls < 3 {
		t.Errorf("backend saw %d info queries, want at least 3", polls)
	}
	if ports := backend.distinctPorts(); ports < 2 {
		t.Errorf("backend saw %d distinct source ports, want at least 2 (epoch rotation)", ports)
	}

	value, err := p.Cache().Peek(cache.KeyInfo)
	if err != nil {
		t.Fatalf("Peek failed after refreshes: %v", err)
	}
	if len(value) == 0 {
		t.Error("cached info value is empty")
	}
}

func TestRefreshLoopRetriesForeverOnDeadBackend(t *testing.T) {
	var mu sync.Mutex
	attempts := 0

	backend := newFakeBackend(t, func(data []byte) [][]byte {
		mu.Lock()
		attempts++
		mu.Unlock()
		return nil // swallow every query
	})

	cfg := newTestConfig(t, backend.addr())
	p := newTestProxy(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	loopErr := make(chan error, 1)
	go func() {
		loopErr <- p.runRefreshLoop(ctx, cache.KeyPlayers, cfg.Query.GetPlayersCacheLifetime(),
			p.challengedQuery(protocol.PlayersRequest{}))
	}()

	// Reply deadline 250ms plus 50ms backoff per attempt: 800ms covers at
	// least two full retry cycles.
	select {
	case err := <-loopErr:
		t.Fatalf("refresh loop returned early with %v, want endless retrying", err)
	case <-time.After(800 * time.Millisecond):
	}

	mu.Lock()
	tries := attempts
	mu.Unlock()
	if tries < 2 {
		t.Errorf("backend saw %d attempts, want at least 2 (constant-backoff retry)", tries)
	}

	if _, err := p.Cache().Peek(cache.KeyPlayers); !errors.Is(err, cache.ErrNotReady) {
		t.Errorf("Peek error = %v, want ErrNotReady for the starved key", err)
	}

	cancel()
	select {
	case err := <-loopErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("refresh loop returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("refresh loop did not return after cancellation")
	}
}

func TestRefreshLoopsAreIndependent(t *testing.T) {
	// Backend answers info but starves players.
	backend := newFakeBackend(t, func(data []byte) [][]byte {
		msg, err := protocol.Decode(data)
		if err != nil {
			t.Errorf("backend received undecodable request: %v", err)
			return nil
		}
		if _, ok := msg.(protocol.InfoRequest); ok {
			return [][]byte{respond(protocol.TypeInfoResponse, "fake info")}
		}
		return nil
	})

	cfg := newTestConfig(t, backend.addr())
	p := newTestProxy(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 2)
	go func() {
		errs <- p.runRefreshLoop(ctx, cache.KeyInfo, cfg.Query.GetInfoCacheLifetime(), p.queryInfo)
	}()
	go func() {
		errs <- p.runRefreshLoop(ctx, cache.KeyPlayers, cfg.Query.GetPlayersCacheLifetime(),
			p.challengedQuery(protocol.PlayersRequest{}))
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := p.Cache().Peek(cache.KeyInfo); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("info key never populated while players loop was starved")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := p.Cache().Peek(cache.KeyPlayers); !errors.Is(err, cache.ErrNotReady) {
		t.Errorf("Peek(players) error = %v, want ErrNotReady", err)
	}

	cancel()
	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("refresh loop returned %v, want context.Canceled", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("refresh loop did not return after cancellation")
		}
	}
}
