package session

import (
	"sort"
	"sync"
	"time"
)

// UploadSession tracks one in-flight chunked file transfer. The chunk size is
// fixed at creation; TotalChunks = ceil(TotalSize / ChunkSize).
//
// A session's mutable state (received set, byte counter, activity time) is
// guarded by its own mutex so two chunks for the same session can never race,
// while chunks for different sessions proceed concurrently.
type UploadSession struct {
	ID          string
	FileName    string
	TotalSize   int64
	ChunkSize   int64
	TotalChunks int
	StagingDir  string
	CreatedAt   time.Time

	mu            sync.Mutex
	received      map[int]int64
	bytesReceived int64
	lastActivity  time.Time
}

// markReceived records an accepted chunk's size. Re-uploading the same index
// replaces the prior copy; the byte counter follows the latest size, so a
// truncated send followed by a full retry still adds up to the staged total.
func (s *UploadSession) markReceived(index int, size int64, now time.Time) {
	s.bytesReceived += size - s.received[index]
	s.received[index] = size
	s.lastActivity = now
}

func (s *UploadSession) missingChunks() []int {
	missing := make([]int, 0)
	for i := 0; i < s.TotalChunks; i++ {
		if _, ok := s.received[i]; !ok {
			missing = append(missing, i)
		}
	}
	sort.Ints(missing)
	return missing
}

// Store is an injectable registry of live sessions keyed by session id. It is
// deliberately not a package-level singleton so tests can construct isolated
// instances.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*UploadSession
}

func NewStore() *Store {
	return &Store{sessions: make(map[string]*UploadSession)}
}

func (st *Store) Put(s *UploadSession) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[s.ID] = s
}

func (st *Store) Get(id string) (*UploadSession, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}

func (st *Store) Remove(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}

// Snapshot returns the current sessions. The slice is safe to range over
// while other goroutines mutate the store.
func (st *Store) Snapshot() []*UploadSession {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]*UploadSession, 0, len(st.sessions))
	for _, s := range st.sessions {
		out = append(out, s)
	}
	return out
}

func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
