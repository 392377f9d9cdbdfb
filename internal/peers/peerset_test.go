package peers

import (
	"os"
	"testing"

	"github.com/ghostmesh/ghostnode/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "ghostnode-peers-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	st, err := store.New(&store.Config{DataDir: dir})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestActiveCountOnlyCountsRecentPeers(t *testing.T) {
	st := newTestStore(t)
	s := New(st, nil)

	now := int64(10_000)
	if err := s.Touch("10.0.0.1", now); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if err := s.Touch("10.0.0.2", now-ActiveWindowSeconds-1); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	count, err := s.ActiveCount(now)
	if err != nil {
		t.Fatalf("ActiveCount: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 active peer, got %d", count)
	}
}

func TestKnownPeersUnionsBootstrapAndRecent(t *testing.T) {
	st := newTestStore(t)
	s := New(st, []string{"bootstrap.example:9000"})

	now := int64(10_000)
	if err := s.Touch("10.0.0.1:9000", now); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if err := s.Touch("10.0.0.2:9000", now-KnownWindowSeconds-1); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	known, err := s.KnownPeers(now)
	if err != nil {
		t.Fatalf("KnownPeers: %v", err)
	}

	want := map[string]bool{"10.0.0.1:9000": true, "bootstrap.example:9000": true}
	if len(known) != len(want) {
		t.Fatalf("expected %d known peers, got %v", len(want), known)
	}
	for _, p := range known {
		if !want[p] {
			t.Errorf("unexpected known peer %q", p)
		}
	}
}

func TestKnownPeersDedupesBootstrapAlreadySeen(t *testing.T) {
	st := newTestStore(t)
	s := New(st, []string{"10.0.0.1:9000"})

	now := int64(10_000)
	if err := s.Touch("10.0.0.1:9000", now); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	known, err := s.KnownPeers(now)
	if err != nil {
		t.Fatalf("KnownPeers: %v", err)
	}
	if len(known) != 1 {
		t.Errorf("expected exactly 1 deduped peer, got %v", known)
	}
}

func TestActivePeersReturnsFullRecords(t *testing.T) {
	st := newTestStore(t)
	s := New(st, nil)

	now := int64(10_000)
	if err := s.Touch("10.0.0.1", now); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	active, err := s.ActivePeers(now)
	if err != nil {
		t.Fatalf("ActivePeers: %v", err)
	}
	if len(active) != 1 || active[0].IP != "10.0.0.1" {
		t.Errorf("expected [10.0.0.1], got %+v", active)
	}
}
