package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/northcloud/jobforge/internal/database"
	"github.com/northcloud/jobforge/internal/domain"
	"github.com/northcloud/jobforge/internal/logger"
)

const (
	defaultSessionTimeout  = 30 * time.Minute
	defaultCleanupInterval = time.Minute
	defaultSweepBatchSize  = 100
)

// ManagerConfig carries §4.4.1's expiry knobs and §4.4.2's retention bound.
type ManagerConfig struct {
	SessionTimeout      time.Duration
	CleanupInterval     time.Duration
	MaxEventsPerSession int
}

func (c *ManagerConfig) setDefaults() {
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = defaultSessionTimeout
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = defaultCleanupInterval
	}
}

// Manager owns session lifecycle (§4.4.1) and fans live events out to any
// open GET streams while durably appending them to the Event Store so a
// reconnecting client can resume (§4.4.3). Its hub registry is grounded on
// infrastructure/sse's broker/client pair, narrowed to one hub per session
// instead of one broker for the whole process.
type Manager struct {
	sessions *database.SessionRepository
	events   EventStore
	log      logger.Logger
	cfg      ManagerConfig

	mu   sync.RWMutex
	hubs map[string]*hub

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(sessions *database.SessionRepository, events EventStore, log logger.Logger, cfg ManagerConfig) *Manager {
	cfg.setDefaults()
	return &Manager{
		sessions: sessions,
		events:   events,
		log:      log,
		cfg:      cfg,
		hubs:     make(map[string]*hub),
	}
}

// Start launches the expiry sweeper (§4.4.1).
func (m *Manager) Start(ctx context.Context) {
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.sweepLoop()
}

func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// Create opens a new session; any POST without a session header does this
// per §4.4.1.
func (m *Manager) Create(ctx context.Context, clientFingerprint string) (*domain.Session, error) {
	now := time.Now().UTC()
	s := &domain.Session{
		SessionID:         uuid.NewString(),
		CreatedAt:         now,
		LastActivityAt:    now,
		ExpiresAt:         now.Add(m.cfg.SessionTimeout),
		ClientFingerprint: clientFingerprint,
	}
	if err := m.sessions.Create(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Get fetches a session, returning a NotFound domain.Error if absent or
// already expired.
func (m *Manager) Get(ctx context.Context, id string) (*domain.Session, error) {
	s, err := m.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Expired(time.Now().UTC()) {
		return nil, domain.NewError(domain.KindNotFound, "session expired: "+id, nil)
	}
	return s, nil
}

// Touch records activity, extending the session's expiry (§4.4.1).
func (m *Manager) Touch(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return m.sessions.Touch(ctx, id, now.Add(m.cfg.SessionTimeout))
}

// Delete terminates a session: its hub is closed, its event log is dropped,
// and its row is removed. Idempotent on an already-deleted session (§8).
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.closeHub(id)
	if err := m.events.RemoveSession(ctx, id); err != nil {
		m.log.Warn("remove session event log failed", logger.String("session_id", id), logger.Error(err))
	}
	return m.sessions.Delete(ctx, id)
}

// Publish appends an event to the durable log and, if the session has a live
// GET stream open, fans it out immediately.
func (m *Manager) Publish(ctx context.Context, sessionID string, eventType domain.EventType, data domain.JSONDoc) (domain.Event, error) {
	ev, err := m.events.Append(ctx, sessionID, eventType, data)
	if err != nil {
		return domain.Event{}, err
	}
	m.hubFor(sessionID).broadcast(ev)
	return ev, nil
}

// Subscribe registers a live listener for sessionID's future events. The
// returned cleanup function must be called when the GET stream ends.
func (m *Manager) Subscribe(sessionID string) (<-chan domain.Event, func()) {
	return m.hubFor(sessionID).subscribe()
}

func (m *Manager) hubFor(sessionID string) *hub {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hubs[sessionID]
	if !ok {
		h = newHub()
		m.hubs[sessionID] = h
	}
	return h
}

func (m *Manager) closeHub(sessionID string) {
	m.mu.Lock()
	h, ok := m.hubs[sessionID]
	if ok {
		delete(m.hubs, sessionID)
	}
	m.mu.Unlock()
	if ok {
		h.closeAll()
	}
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sweepOnce()
		}
	}
}

func (m *Manager) sweepOnce() {
	expired, err := m.sessions.ListExpired(m.ctx, time.Now().UTC(), defaultSweepBatchSize)
	if err != nil {
		m.log.Error("list expired sessions failed", logger.Error(err))
		return
	}
	for _, s := range expired {
		if err := m.Delete(m.ctx, s.SessionID); err != nil {
			m.log.Error("reclaim expired session failed",
				logger.String("session_id", s.SessionID), logger.Error(err))
			continue
		}
		m.log.Debug("reclaimed expired session", logger.String("session_id", s.SessionID))
	}
}

// hub fans out one session's live events to its currently-open GET streams.
type hub struct {
	mu          sync.Mutex
	subscribers map[string]chan domain.Event
}

func newHub() *hub {
	return &hub{subscribers: make(map[string]chan domain.Event)}
}

const hubSubscriberBuffer = 64

func (h *hub) subscribe() (<-chan domain.Event, func()) {
	id := uuid.NewString()
	ch := make(chan domain.Event, hubSubscriberBuffer)

	h.mu.Lock()
	h.subscribers[id] = ch
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subscribers[id]; ok {
			delete(h.subscribers, id)
			close(ch)
		}
	}
}

// broadcast is a best-effort, non-blocking send: a slow subscriber misses the
// live push but can still recover the event from the durable log on its next
// Last-Event-ID reconnect (§4.4.3).
func (h *hub) broadcast(ev domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
}
