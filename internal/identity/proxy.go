package identity

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Tier is a proxy egress class, ordered by trust: residential looks most
// like a real visitor, direct uses the local IP.
type Tier string

const (
	TierResidential Tier = "residential"
	TierDatacenter  Tier = "datacenter"
	TierDirect      Tier = "direct"
)

// Class is a source's sensitivity class, set in the source registry. It
// decides which proxy tier the source's identity egresses through.
type Class string

const (
	// ClassHigh sources are block-happy and require residential egress.
	ClassHigh Class = "high"
	// ClassMedium sources accept datacenter egress.
	ClassMedium Class = "medium"
	// ClassLow sources are tolerant enough for direct connection.
	ClassLow Class = "low"
)

// tierFor maps a source class to its egress tier. Unknown classes get the
// most conservative treatment.
func tierFor(class Class) Tier {
	switch class {
	case ClassMedium:
		return TierDatacenter
	case ClassLow:
		return TierDirect
	default:
		return TierResidential
	}
}

// Endpoint is one configured proxy egress point.
type Endpoint struct {
	URL    string
	Tier   Tier
	Region string
}

// ProxySession is a sticky lease on one egress point. An empty URL means
// direct connection. Sessions live 24-72 hours; the long lifetime keeps the
// "one person, one connection" affinity that identity consistency depends on.
type ProxySession struct {
	ID        string
	URL       string
	Tier      Tier
	Region    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session lifetime has passed.
func (s *ProxySession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Direct reports whether the session uses the local IP.
func (s *ProxySession) Direct() bool {
	return s.URL == ""
}

const (
	sessionLifetimeMin = 24 * time.Hour
	sessionLifetimeMax = 72 * time.Hour
)

// Pool hands out sticky proxy sessions from tiered endpoint lists with
// round-robin rotation inside each tier. Endpoints reported unreachable are
// skipped until the pool is rebuilt from config.
type Pool struct {
	logger *slog.Logger
	now    func() time.Time
	rng    *rand.Rand

	mu          sync.Mutex
	endpoints   map[Tier][]Endpoint
	cursor      map[Tier]int
	unreachable map[string]bool
}

// PoolOption customizes a Pool.
type PoolOption func(*Pool)

// WithPoolClock injects a time source for tests.
func WithPoolClock(now func() time.Time) PoolOption {
	return func(p *Pool) { p.now = now }
}

// WithPoolRand injects a deterministic random source for tests.
func WithPoolRand(rng *rand.Rand) PoolOption {
	return func(p *Pool) { p.rng = rng }
}

// NewPool builds a pool from configured endpoints. A nil logger falls back
// to slog.Default.
func NewPool(endpoints []Endpoint, logger *slog.Logger, opts ...PoolOption) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		logger:      logger,
		now:         time.Now,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		endpoints:   make(map[Tier][]Endpoint),
		cursor:      make(map[Tier]int),
		unreachable: make(map[string]bool),
	}
	for _, ep := range endpoints {
		p.endpoints[ep.Tier] = append(p.endpoints[ep.Tier], ep)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Lease picks the next reachable endpoint in the tier for the given class
// and binds a fresh sticky session to it. When the tier has no reachable
// endpoint the lease falls back to a direct session, once, rather than
// failing the caller.
func (p *Pool) Lease(class Class) *ProxySession {
	p.mu.Lock()
	defer p.mu.Unlock()

	tier := tierFor(class)
	if tier == TierDirect {
		return p.newSession(Endpoint{Tier: TierDirect})
	}

	eps := p.endpoints[tier]
	for range eps {
		ep := eps[p.cursor[tier]%len(eps)]
		p.cursor[tier]++
		if !p.unreachable[ep.URL] {
			return p.newSession(ep)
		}
	}

	p.logger.Warn("no reachable egress in tier, falling back to direct",
		slog.String("tier", string(tier)),
		slog.String("class", string(class)))
	return p.newSession(Endpoint{Tier: TierDirect})
}

// MarkUnreachable excludes an egress point from future leases. Direct
// connections cannot be marked.
func (p *Pool) MarkUnreachable(url string) {
	if url == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.unreachable[url] {
		p.unreachable[url] = true
		p.logger.Warn("egress marked unreachable", slog.String("proxy_url", url))
	}
}

// newSession binds a 24-72h sticky session. Callers must hold p.mu.
func (p *Pool) newSession(ep Endpoint) *ProxySession {
	now := p.now().UTC()
	lifetime := sessionLifetimeMin +
		time.Duration(p.rng.Int63n(int64(sessionLifetimeMax-sessionLifetimeMin)))
	return &ProxySession{
		ID:        uuid.NewString(),
		URL:       ep.URL,
		Tier:      ep.Tier,
		Region:    ep.Region,
		CreatedAt: now,
		ExpiresAt: now.Add(lifetime),
	}
}
