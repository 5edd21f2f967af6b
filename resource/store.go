package resource

import (
	"errors"
	"sync"

	"github.com/wippyai/lifecycle/refcounted"
)

var (
	ErrClosed        = errors.New("resource table closed")
	ErrInvalidHandle = errors.New("invalid resource handle")
	ErrTypeMismatch  = errors.New("resource type mismatch")
)

type entry struct {
	res     *refcounted.Resource
	value   any
	typeID  uint32
	removed bool
}

// store is the slot array behind a Table. A slot stays occupied after its
// handle is removed until the entry's last reservation is released, so a
// handle is never reused while borrows are outstanding.
type store struct {
	entries  []*entry
	freeList []Handle
	live     int
	mu       sync.RWMutex
	closed   bool
}

func newStore() *store {
	return &store{
		entries:  make([]*entry, 0, 64),
		freeList: make([]Handle, 0, 16),
	}
}

// add allocates a handle and stores the entry built for it.
func (s *store) add(build func(Handle) *entry) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	if len(s.freeList) > 0 {
		h := s.freeList[len(s.freeList)-1]
		s.freeList = s.freeList[:len(s.freeList)-1]
		s.entries[h-1] = build(h)
		s.live++
		return h, nil
	}

	h := Handle(len(s.entries) + 1)
	s.entries = append(s.entries, build(h))
	s.live++
	return h, nil
}

// lookup returns the entry for h, including removed entries that are still
// reserved.
func (s *store) lookup(h Handle) (*entry, bool) {
	if h == 0 {
		return nil, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := int(h) - 1
	if idx >= len(s.entries) || s.entries[idx] == nil {
		return nil, false
	}
	return s.entries[idx], true
}

// get returns the entry for h if it has not been removed.
func (s *store) get(h Handle) (*entry, bool) {
	e, ok := s.lookup(h)
	if !ok {
		return nil, false
	}

	s.mu.RLock()
	removed := e.removed
	s.mu.RUnlock()
	if removed {
		return nil, false
	}
	return e, true
}

// markRemoved flags the entry for h as removed. It succeeds only once per
// handle.
func (s *store) markRemoved(h Handle) (*entry, bool) {
	if h == 0 {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := int(h) - 1
	if idx >= len(s.entries) {
		return nil, false
	}
	e := s.entries[idx]
	if e == nil || e.removed {
		return nil, false
	}
	e.removed = true
	s.live--
	return e, true
}

// free releases the slot of a dropped entry. The slot is left alone if it
// was already reused.
func (s *store) free(h Handle, e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := int(h) - 1
	if idx >= len(s.entries) || s.entries[idx] != e {
		return
	}
	if !e.removed {
		e.removed = true
		s.live--
	}
	s.entries[idx] = nil
	if !s.closed {
		s.freeList = append(s.freeList, h)
	}
}

// close stops accepting entries and returns the handles still live.
func (s *store) close() []Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.freeList = nil
	return s.handlesLocked()
}

func (s *store) handles() []Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handlesLocked()
}

func (s *store) handlesLocked() []Handle {
	out := make([]Handle, 0, s.live)
	for i, e := range s.entries {
		if e != nil && !e.removed {
			out = append(out, Handle(i+1))
		}
	}
	return out
}

func (s *store) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live
}

func (s *store) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
