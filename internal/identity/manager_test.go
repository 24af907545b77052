package identity

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type managerClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *managerClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *managerClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestManager() (*Manager, *managerClock) {
	clock := &managerClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	pool := NewPool([]Endpoint{
		{URL: "http://res-1:8080", Tier: TierResidential},
		{URL: "http://dc-1:3128", Tier: TierDatacenter},
	}, nil,
		WithPoolClock(clock.Now),
		WithPoolRand(rand.New(rand.NewSource(7))))
	m := NewManager(pool, nil,
		WithManagerClock(clock.Now),
		WithManagerRand(rand.New(rand.NewSource(7))))
	return m, clock
}

func TestManager_ProfileFor_Sticky(t *testing.T) {
	m, _ := newTestManager()

	first := m.ProfileFor("feed:alpha", "", ClassHigh)
	second := m.ProfileFor("feed:alpha", "", ClassHigh)

	assert.Equal(t, first.ID, second.ID, "profile must stay assigned across fetches")
	assert.Equal(t, StatusActive, first.Status)
	require.NotNil(t, first.Proxy)
	assert.Equal(t, TierResidential, first.Proxy.Tier)
}

func TestManager_ProfileFor_DistinctPerSource(t *testing.T) {
	m, _ := newTestManager()

	a := m.ProfileFor("feed:alpha", "", ClassHigh)
	b := m.ProfileFor("feed:beta", "", ClassHigh)

	assert.NotEqual(t, a.ID, b.ID)
}

func TestManager_ProfileFor_HeadersTravelTogether(t *testing.T) {
	m, _ := newTestManager()

	p := m.ProfileFor("feed:alpha", "", ClassMedium)
	headers := p.Headers()

	var matched bool
	for _, tmpl := range headerTemplates {
		if tmpl.browserFamily != p.BrowserFamily || tmpl.osFamily != p.OSFamily {
			continue
		}
		matched = true
		require.Equal(t, len(tmpl.headers), len(headers))
		for k, v := range tmpl.headers {
			assert.Equal(t, v, headers[k], "header %s", k)
		}
	}
	require.True(t, matched, "profile fingerprint must come from a known template")
}

func TestManager_Headers_ReturnsCopy(t *testing.T) {
	m, _ := newTestManager()

	p := m.ProfileFor("feed:alpha", "", ClassLow)
	h := p.Headers()
	h["If-None-Match"] = `"abc"`

	assert.NotContains(t, p.Headers(), "If-None-Match")
}

func TestManager_ReportBlock_HardRotates(t *testing.T) {
	m, _ := newTestManager()

	old := m.ProfileFor("feed:alpha", "", ClassHigh)
	m.ReportBlock("feed:alpha", true)

	assert.Equal(t, StatusRetired, old.Status)

	fresh := m.ProfileFor("feed:alpha", "", ClassHigh)
	assert.NotEqual(t, old.ID, fresh.ID)
	assert.Equal(t, StatusActive, fresh.Status)
}

func TestManager_ReportBlock_SoftKeepsIdentity(t *testing.T) {
	m, _ := newTestManager()

	old := m.ProfileFor("feed:alpha", "", ClassHigh)
	m.ReportBlock("feed:alpha", false)

	assert.Equal(t, StatusActive, old.Status)
	assert.Equal(t, old.ID, m.ProfileFor("feed:alpha", "", ClassHigh).ID)
}

func TestManager_ReportBlock_UnassignedSourceIsNoOp(t *testing.T) {
	m, _ := newTestManager()

	m.ReportBlock("feed:unknown", true)
}

func TestManager_Retire_Idempotent(t *testing.T) {
	m, _ := newTestManager()

	p := m.ProfileFor("feed:alpha", "", ClassHigh)

	m.Retire(p.ID, "manual")
	m.Retire(p.ID, "manual")
	m.Retire("no-such-profile", "manual")

	assert.Equal(t, StatusRetired, p.Status)
}

func TestManager_ProfileFor_ProxyExpiryRotatesWholeIdentity(t *testing.T) {
	m, clock := newTestManager()

	old := m.ProfileFor("feed:alpha", "", ClassHigh)
	clock.Advance(73 * time.Hour) // past the longest possible session

	fresh := m.ProfileFor("feed:alpha", "", ClassHigh)

	assert.NotEqual(t, old.ID, fresh.ID, "expired proxy rotates the whole identity")
	assert.Equal(t, StatusRetired, old.Status)
	assert.False(t, fresh.Proxy.Expired(clock.Now()))
}

func TestManager_ProfileFor_RecoversPersistedAssignment(t *testing.T) {
	m, _ := newTestManager()

	// Simulate a restart: the assignment map is fresh but the record still
	// carries the profile ID and the manager still holds the profile.
	p := m.ProfileFor("feed:alpha", "", ClassHigh)
	delete(m.assignments, "feed:alpha")

	recovered := m.ProfileFor("feed:alpha", p.ID, ClassHigh)

	assert.Equal(t, p.ID, recovered.ID)
}
