package resource

import (
	"sync"
	"testing"
)

func fill(s *store, n int) []Handle {
	hs := make([]Handle, n)
	for i := range hs {
		h, err := s.add(func(Handle) *entry { return &entry{value: i} })
		if err != nil {
			panic(err)
		}
		hs[i] = h
	}
	return hs
}

func TestStore_Basic(t *testing.T) {
	s := newStore()
	hs := fill(s, 1)

	if hs[0] == 0 {
		t.Fatal("Expected non-zero handle")
	}
	e, ok := s.get(hs[0])
	if !ok || e.value != 0 {
		t.Fatalf("get failed: %v %v", e, ok)
	}

	removed, ok := s.markRemoved(hs[0])
	if !ok || removed != e {
		t.Fatal("markRemoved failed")
	}
	if _, ok := s.markRemoved(hs[0]); ok {
		t.Fatal("Expected second markRemoved to fail")
	}
	if _, ok := s.get(hs[0]); ok {
		t.Fatal("Expected get to fail after markRemoved")
	}
	if _, ok := s.lookup(hs[0]); !ok {
		t.Fatal("Expected lookup to find a removed but undropped entry")
	}
	if s.len() != 0 {
		t.Fatalf("Expected len 0, got %d", s.len())
	}

	s.free(hs[0], e)
	if _, ok := s.lookup(hs[0]); ok {
		t.Fatal("Expected lookup to fail after free")
	}
}

func TestStore_HandleReuse(t *testing.T) {
	s := newStore()
	hs := fill(s, 3)

	e, _ := s.markRemoved(hs[1])

	// not reused until freed
	next := fill(s, 1)[0]
	if next == hs[1] {
		t.Fatal("Handle reused before its entry was dropped")
	}

	s.free(hs[1], e)
	reused := fill(s, 1)[0]
	if reused != hs[1] {
		t.Fatalf("Expected handle %d to be reused, got %d", hs[1], reused)
	}

	// a stale free must not clear the new occupant
	s.free(hs[1], e)
	if _, ok := s.get(reused); !ok {
		t.Fatal("Stale free cleared a reused slot")
	}
}

func TestStore_Close(t *testing.T) {
	s := newStore()
	hs := fill(s, 3)
	s.markRemoved(hs[0])

	live := s.close()
	if len(live) != 2 {
		t.Fatalf("Expected 2 live handles, got %d", len(live))
	}
	if s.close() != nil {
		t.Fatal("Expected second close to return nothing")
	}
	if _, err := s.add(func(Handle) *entry { return &entry{} }); err != ErrClosed {
		t.Fatalf("Expected ErrClosed, got %v", err)
	}
}

func TestStore_InvalidHandle(t *testing.T) {
	s := newStore()
	for _, h := range []Handle{0, 1, 99} {
		if _, ok := s.lookup(h); ok {
			t.Fatalf("lookup(%d) should fail", h)
		}
		if _, ok := s.markRemoved(h); ok {
			t.Fatalf("markRemoved(%d) should fail", h)
		}
	}
}

func TestStore_Concurrent(t *testing.T) {
	s := newStore()
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, h := range fill(s, 100) {
				e, ok := s.markRemoved(h)
				if !ok {
					t.Error("markRemoved failed")
					return
				}
				s.free(h, e)
			}
		}()
	}
	wg.Wait()

	if s.len() != 0 {
		t.Fatalf("Expected len 0, got %d", s.len())
	}
}
