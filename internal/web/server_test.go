package web

import (
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestStatsEndpointServesLatestStats(t *testing.T) {
	s := NewServer()
	defer s.Shutdown()

	s.SetStats(Stats{Phase: "running", Iterations: 42, ExecsPerSec: 9.5, CorpusSize: 3})

	resp, err := s.app.Test(httptest.NewRequest("GET", "/stats", nil))
	if err != nil {
		t.Fatalf("Test request returned error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("GET /stats status = %d, want 200", resp.StatusCode)
	}

	var got Stats
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decoding /stats body: %v", err)
	}
	if got.Phase != "running" || got.Iterations != 42 || got.CorpusSize != 3 {
		t.Fatalf("GET /stats = %+v, want the stats last passed to SetStats", got)
	}
}

func TestWebSocketRouteRequiresUpgrade(t *testing.T) {
	s := NewServer()
	defer s.Shutdown()

	resp, err := s.app.Test(httptest.NewRequest("GET", "/ws", nil))
	if err != nil {
		t.Fatalf("Test request returned error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 426 {
		t.Fatalf("plain GET /ws status = %d, want 426 Upgrade Required", resp.StatusCode)
	}
}

// Broadcast must never block the fuzzer loop, even with no consumer and a
// saturated channel. The server here is built without its pump goroutine
// so nothing drains the channel during the test.
func TestBroadcastDropsWhenSaturated(t *testing.T) {
	s := &Server{broadcast: make(chan CorpusEvent, 4)}
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			s.Broadcast(CorpusEvent{PoolName: "main", Kind: "added"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked on a saturated channel")
	}
	if len(s.broadcast) != 4 {
		t.Fatalf("broadcast channel holds %d events, want it full at capacity 4", len(s.broadcast))
	}
}

func TestSetStatsIsSafeUnderConcurrentReads(t *testing.T) {
	s := NewServer()
	defer s.Shutdown()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.SetStats(Stats{Iterations: int64(n*100 + j)})
			}
		}(i)
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				resp, err := s.app.Test(httptest.NewRequest("GET", "/stats", nil))
				if err != nil {
					t.Errorf("Test request returned error: %v", err)
					return
				}
				resp.Body.Close()
			}
		}()
	}
	wg.Wait()
}
