package visit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/onboarding-voice/internal/domain"
	"github.com/google/uuid"
)

// DefaultPendingTTL is how long a rendered page may wait before opening its
// socket.
const DefaultPendingTTL = 10 * time.Minute

type pendingVisit struct {
	session   domain.Session
	expiresAt time.Time
}

// Manager hands validated sessions from the page request to its socket and
// keeps at most one live visit per session token.
type Manager struct {
	mu      sync.Mutex
	pending map[string]pendingVisit
	active  map[string]*Visit
	ttl     time.Duration
	now     func() time.Time
}

// NewManager creates an empty manager.
func NewManager(pendingTTL time.Duration) *Manager {
	if pendingTTL <= 0 {
		pendingTTL = DefaultPendingTTL
	}
	return &Manager{
		pending: make(map[string]pendingVisit),
		active:  make(map[string]*Visit),
		ttl:     pendingTTL,
		now:     time.Now,
	}
}

// Prepare stores a validated session for the page's socket to claim and
// returns the claim id.
func (m *Manager) Prepare(s domain.Session) string {
	id := uuid.NewString()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[id] = pendingVisit{session: s, expiresAt: m.now().Add(m.ttl)}
	return id
}

// Claim takes the session prepared under id. It fails when the id is
// unknown, expired, or was prepared for a different token. A claim can
// succeed once.
func (m *Manager) Claim(id, token string) (domain.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[id]
	if !ok {
		return domain.Session{}, false
	}
	if p.session.SessionID != token {
		return domain.Session{}, false
	}
	delete(m.pending, id)
	if m.now().After(p.expiresAt) {
		return domain.Session{}, false
	}
	return p.session, true
}

// Register makes v the live visit for its token. A previous visit for the
// same token is closed.
func (m *Manager) Register(v *Visit) {
	m.mu.Lock()
	existing := m.active[v.Token()]
	m.active[v.Token()] = v
	m.mu.Unlock()

	if existing != nil && existing != v {
		slog.Info("Visit replaced", "session_token", v.Token(), "old_visit_id", existing.ID, "visit_id", v.ID)
		existing.Close()
	}
	slog.Info("Visit registered", "session_token", v.Token(), "visit_id", v.ID)
}

// Unregister removes v if it is still the live visit for its token.
func (m *Manager) Unregister(v *Visit) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.active[v.Token()]; ok && current == v {
		delete(m.active, v.Token())
		slog.Info("Visit unregistered", "session_token", v.Token(), "visit_id", v.ID)
	}
}

// Active returns the live visit for a token, or nil.
func (m *Manager) Active(token string) *Visit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[token]
}

// Len returns the number of live visits.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// CloseAll tears down every live visit.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	visits := make([]*Visit, 0, len(m.active))
	for token, v := range m.active {
		visits = append(visits, v)
		delete(m.active, token)
	}
	m.mu.Unlock()

	for _, v := range visits {
		v.Close()
	}
	if len(visits) > 0 {
		slog.Info("Closed live visits", "count", len(visits))
	}
}

// SweepPending drops expired claims and returns how many were removed.
func (m *Manager) SweepPending() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for id, p := range m.pending {
		if now.After(p.expiresAt) {
			delete(m.pending, id)
			removed++
		}
	}
	return removed
}

// StartSweeper periodically drops expired claims until ctx is done.
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := m.SweepPending(); n > 0 {
					slog.Debug("Dropped expired visit claims", "count", n)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
