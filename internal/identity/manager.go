// Package identity keeps each source looking like one consistent, long-lived
// visitor: a fixed browser fingerprint bound to a sticky proxy egress.
//
// Rotation is driven by necessity, never by schedule. A hard block burns the
// fingerprint and forces a fresh identity; proxy-session expiry rotates the
// whole identity rather than pairing the old fingerprint with a new IP,
// which would itself be a recognizable pattern. Soft blocks leave the
// identity alone - churning identities on every throttle looks more
// bot-like than the throttle did.
package identity

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ProfileStatus is the lifecycle state of an identity profile.
type ProfileStatus string

const (
	StatusActive  ProfileStatus = "active"
	StatusRetired ProfileStatus = "retired"
)

// Profile is one consistent browser identity: a header fingerprint and a
// sticky proxy session that must always travel together. Profiles are
// retired, never deleted.
type Profile struct {
	ID            string
	BrowserFamily string
	OSFamily      string
	CreatedAt     time.Time
	Status        ProfileStatus
	Proxy         *ProxySession

	headers map[string]string
}

// Headers returns a copy of the fingerprint headers, safe for callers to
// extend with per-request headers.
func (p *Profile) Headers() map[string]string {
	return cloneHeaders(p.headers)
}

// Manager owns identity profiles and their per-source assignments. The
// SourceRecord stores only the profile ID as a weak reference; the Manager
// is the source of truth for profile data.
type Manager struct {
	logger *slog.Logger
	now    func() time.Time
	pool   *Pool

	mu          sync.Mutex
	rng         *rand.Rand
	profiles    map[string]*Profile
	assignments map[string]string // source id -> profile id
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithManagerClock injects a time source for tests.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithManagerRand injects a deterministic random source for tests.
func WithManagerRand(rng *rand.Rand) ManagerOption {
	return func(m *Manager) { m.rng = rng }
}

// NewManager creates a Manager backed by the given proxy pool.
// A nil logger falls back to slog.Default.
func NewManager(pool *Pool, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		logger:      logger,
		now:         time.Now,
		pool:        pool,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		profiles:    make(map[string]*Profile),
		assignments: make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ProfileFor returns the identity assigned to a source, creating a fresh one
// only when none exists, the current one is retired, or its proxy session
// has expired. currentProfileID is the reference persisted on the
// SourceRecord, used to recover the assignment after a restart.
func (m *Manager) ProfileFor(sourceID, currentProfileID string, class Class) *Profile {
	m.mu.Lock()
	defer m.mu.Unlock()

	profileID, ok := m.assignments[sourceID]
	if !ok {
		profileID = currentProfileID
	}

	profile := m.profiles[profileID]
	if profile != nil {
		switch {
		case profile.Status == StatusRetired:
			m.logger.Info("assigned identity retired, rotating",
				slog.String("source_id", sourceID),
				slog.String("profile_id", profile.ID))
			profile = nil
		case profile.Proxy != nil && profile.Proxy.Expired(m.now().UTC()):
			m.retireLocked(profile.ID, "proxy_expired")
			profile = nil
		}
	}

	if profile != nil {
		m.assignments[sourceID] = profile.ID
		return profile
	}

	profile = m.createProfileLocked(class)
	m.profiles[profile.ID] = profile
	m.assignments[sourceID] = profile.ID
	m.logger.Info("assigned new identity",
		slog.String("source_id", sourceID),
		slog.String("profile_id", profile.ID),
		slog.String("browser", profile.BrowserFamily),
		slog.String("proxy_tier", string(profile.Proxy.Tier)))

	return profile
}

// ReportBlock applies the identity consequence of a block. A hard block
// burns the fingerprint and retires the profile immediately; a soft block
// leaves it intact, the health and circuit layers own that response.
func (m *Manager) ReportBlock(sourceID string, isHard bool) {
	if !isHard {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if profileID, ok := m.assignments[sourceID]; ok {
		m.retireLocked(profileID, "hard_block")
	}
}

// Retire marks a profile retired; it will be replaced on the source's next
// fetch. Retiring an unknown or already-retired profile is a no-op.
func (m *Manager) Retire(profileID, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retireLocked(profileID, reason)
}

func (m *Manager) retireLocked(profileID, reason string) {
	profile, ok := m.profiles[profileID]
	if !ok || profile.Status == StatusRetired {
		return
	}
	profile.Status = StatusRetired
	m.logger.Warn("retired identity profile",
		slog.String("profile_id", profileID),
		slog.String("reason", reason))
}

// createProfileLocked picks a fingerprint template at random and binds a
// fresh sticky proxy session. Callers must hold m.mu.
func (m *Manager) createProfileLocked(class Class) *Profile {
	tmpl := headerTemplates[m.rng.Intn(len(headerTemplates))]
	return &Profile{
		ID:            uuid.NewString(),
		BrowserFamily: tmpl.browserFamily,
		OSFamily:      tmpl.osFamily,
		CreatedAt:     m.now().UTC(),
		Status:        StatusActive,
		Proxy:         m.pool.Lease(class),
		headers:       cloneHeaders(tmpl.headers),
	}
}
