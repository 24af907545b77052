package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"calmfetch/internal/behavior"
	"calmfetch/internal/domain/entity"
	"calmfetch/internal/identity"
	"calmfetch/internal/observability/logging"
	"calmfetch/internal/observability/metrics"
	"calmfetch/internal/repository"
	"calmfetch/internal/resilience/circuitbreaker"
	"calmfetch/internal/resilience/health"
)

const (
	defaultRequestTimeout = 30 * time.Second
	maxBodyBytes          = 10 << 20 // 10MB

	// defaultGlobalInterval spaces requests across ALL sources: 20 per minute.
	defaultGlobalInterval = 3 * time.Second

	// Cooldowns applied directly from an outcome, before the breaker has a say.
	softBlockCooldown = 15 * time.Minute
	hardBlockCooldown = 24 * time.Hour
)

// Client executes gated fetch attempts. It is the only component allowed to
// touch the network, and every attempt runs the same fixed sequence: breaker
// check, scheduling check, identity, single HTTP call, outcome
// classification, then one atomic record update carrying all consequences.
//
// Attempts for the same source are serialized; distinct sources proceed
// concurrently.
type Client struct {
	repo       repository.SourceRecordRepository
	health     *health.Monitor
	scheduler  *behavior.Scheduler
	breakers   *circuitbreaker.Registry
	identities *identity.Manager
	pool       *identity.Pool
	classFor   func(sourceID string) identity.Class

	limiter *rate.Limiter
	logger  *slog.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	baseTransport  http.RoundTripper
	requestTimeout time.Duration

	mu          sync.Mutex
	sourceLocks map[string]*sync.Mutex
	httpClients map[string]*http.Client

	// healthMu guards every read and write of the HealthScore values below.
	// The per-source lock serializes attempts but diagnostics readers run
	// concurrently with them.
	healthMu     sync.Mutex
	healthStates map[string]*entity.HealthScore
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

// WithSleep replaces the think-time sleep, letting tests skip real delays.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) ClientOption {
	return func(c *Client) { c.sleep = sleep }
}

// WithRequestTimeout bounds each network call.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.requestTimeout = d }
}

// WithGlobalInterval sets the minimum spacing between any two requests,
// across all sources.
func WithGlobalInterval(d time.Duration) ClientOption {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Every(d), 1) }
}

// WithTransport injects the HTTP transport, used by tests to stub the network.
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(c *Client) { c.baseTransport = rt }
}

// WithClassResolver maps source IDs to their sensitivity class for proxy
// tier selection. Unresolved sources default to the high class.
func WithClassResolver(fn func(sourceID string) identity.Class) ClientOption {
	return func(c *Client) { c.classFor = fn }
}

// NewClient creates a Client. A nil logger falls back to slog.Default.
func NewClient(
	repo repository.SourceRecordRepository,
	monitor *health.Monitor,
	scheduler *behavior.Scheduler,
	breakers *circuitbreaker.Registry,
	identities *identity.Manager,
	pool *identity.Pool,
	logger *slog.Logger,
	opts ...ClientOption,
) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		repo:       repo,
		health:     monitor,
		scheduler:  scheduler,
		breakers:   breakers,
		identities: identities,
		pool:       pool,
		classFor:   func(string) identity.Class { return identity.ClassHigh },
		limiter:    rate.NewLimiter(rate.Every(defaultGlobalInterval), 1),
		logger:     logger,
		now:        time.Now,
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
		requestTimeout: defaultRequestTimeout,
		sourceLocks:    make(map[string]*sync.Mutex),
		healthStates:   make(map[string]*entity.HealthScore),
		httpClients:    make(map[string]*http.Client),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch attempts one gated fetch. A nil result with a nil error means the
// attempt was refused or skipped before touching the network. A non-nil
// result means an attempt executed; its Outcome carries the classification,
// and Body is populated only on success. Errors are reserved for contract
// violations and storage failures.
func (c *Client) Fetch(ctx context.Context, targetURL, sourceID string, isProbe bool) (*entity.FetchResult, error) {
	if strings.TrimSpace(sourceID) == "" {
		return nil, ErrEmptySourceID
	}
	if strings.TrimSpace(targetURL) == "" {
		return nil, ErrEmptyURL
	}
	if err := entity.ValidateURL(targetURL); err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrValidationFailed, err)
	}

	log := logging.WithSource(c.logger, sourceID)

	unlock := c.lockSource(sourceID)
	defer unlock()

	record, err := c.repo.GetOrCreate(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("Fetch: load record: %w", err)
	}

	// 1. The breaker has final authority over crawling.
	breaker := c.breakers.For(sourceID)
	allowed, probe := breaker.CanFetch()
	if !allowed {
		metrics.RecordRefusal(sourceID, "circuit_open")
		log.Info("fetch refused, circuit open")
		return nil, nil
	}
	isProbe = isProbe || probe

	now := c.now().UTC()

	// 2. Scheduling constraints. Probes carry their own permission and
	// override timing; everything else waits its turn.
	if !isProbe {
		if record.IsCoolingDown(now) {
			metrics.RecordRefusal(sourceID, "cooldown")
			return nil, nil
		}
		if !c.scheduler.ShouldFetchNow(record) {
			metrics.RecordRefusal(sourceID, "not_due")
			return nil, nil
		}
	}

	healthState := c.healthFor(sourceID)

	var action behavior.Action
	if !isProbe {
		c.healthMu.Lock()
		action = c.scheduler.NextAction(record, healthState)
		c.healthMu.Unlock()
		if action.Skip {
			metrics.RecordSkip(sourceID)
			record.NextAllowedAt = &action.NextScheduledFetch
			if err := c.repo.Update(ctx, record); err != nil {
				return nil, fmt.Errorf("Fetch: persist skip: %w", err)
			}
			log.Debug("fetch skipped",
				slog.Time("rescheduled", action.NextScheduledFetch))
			return nil, nil
		}
	}

	// 3. Identity. The assignment is persisted with the outcome below.
	profile := c.identities.ProfileFor(sourceID, record.AssignedIdentityID, c.classFor(sourceID))
	record.AssignedIdentityID = profile.ID

	// Global pacing plus think time. From here on the attempt is committed:
	// a cancellation is a transient failure, never a silent drop, so the
	// probe permission (if held) always gets resolved.
	if err := c.limiter.Wait(ctx); err != nil {
		return c.settle(ctx, record, healthState, breaker, action, isProbe, attempt{
			outcome: entity.OutcomeTransientError, kind: entity.ErrKindNetworkTimeout,
		})
	}
	if action.ThinkTime > 0 {
		if err := c.sleep(ctx, action.ThinkTime); err != nil {
			return c.settle(ctx, record, healthState, breaker, action, isProbe, attempt{
				outcome: entity.OutcomeTransientError, kind: entity.ErrKindNetworkTimeout,
			})
		}
	}

	// 4-5. Single network call, then classification.
	att := c.execute(ctx, targetURL, profile, record)

	// 6-7. Fan the outcome out to health, breaker and identity, and persist
	// every changed record field in one update.
	return c.settle(ctx, record, healthState, breaker, action, isProbe, att)
}

// attempt is the raw material of one executed network call.
type attempt struct {
	outcome      entity.FetchOutcome
	kind         entity.ErrorKind
	statusCode   int
	body         []byte
	etag         string
	lastModified string
	retryAfter   time.Duration
	hasRetryAt   bool
	proxyUsed    bool
	elapsed      time.Duration
}

// execute performs the single HTTP call with the profile's fingerprint and
// proxy, falling back to a direct connection once if the egress is
// unreachable.
func (c *Client) execute(ctx context.Context, targetURL string, profile *identity.Profile, record *entity.SourceRecord) attempt {
	log := logging.WithSource(c.logger, record.SourceID)

	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	headers := profile.Headers()
	if record.ETag != "" {
		headers["If-None-Match"] = record.ETag
	}
	if record.LastModified != "" {
		headers["If-Modified-Since"] = record.LastModified
	}

	proxyURL := ""
	if profile.Proxy != nil && !profile.Proxy.Direct() {
		proxyURL = profile.Proxy.URL
	}

	start := c.now()
	resp, err := c.doRequest(reqCtx, targetURL, headers, proxyURL)
	if err != nil && proxyURL != "" && reqCtx.Err() == nil {
		// Egress unreachable: exclude it from future leases and finish this
		// one request over the local IP rather than losing the slot.
		c.pool.MarkUnreachable(proxyURL)
		log.Warn("proxy unreachable, completing request direct",
			slog.String("proxy_url", proxyURL))
		proxyURL = ""
		resp, err = c.doRequest(reqCtx, targetURL, headers, proxyURL)
	}
	elapsed := c.now().Sub(start)

	if err != nil {
		log.Warn("network error",
			slog.String("error", err.Error()))
		return attempt{
			outcome:   entity.OutcomeTransientError,
			kind:      entity.ErrKindNetworkTimeout,
			proxyUsed: proxyURL != "",
			elapsed:   elapsed,
		}
	}
	defer func() { _ = resp.Body.Close() }()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if readErr != nil {
		return attempt{
			outcome:    entity.OutcomeTransientError,
			kind:       entity.ErrKindNetworkTimeout,
			statusCode: resp.StatusCode,
			proxyUsed:  proxyURL != "",
			elapsed:    c.now().Sub(start),
		}
	}

	outcome := classifyResponse(resp.StatusCode, body, elapsed)

	att := attempt{
		outcome:    outcome,
		kind:       failureKind(outcome, resp.StatusCode, len(body)),
		statusCode: resp.StatusCode,
		proxyUsed:  proxyURL != "",
		elapsed:    elapsed,
	}
	if outcome == entity.OutcomeSuccess {
		att.body = body
		att.etag = resp.Header.Get("ETag")
		att.lastModified = resp.Header.Get("Last-Modified")
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		att.retryAfter, att.hasRetryAt = retryAfterDelay(resp.Header.Get("Retry-After"), c.now().UTC())
	}
	return att
}

func (c *Client) doRequest(ctx context.Context, targetURL string, headers map[string]string, proxyURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.clientFor(proxyURL).Do(req)
}

// settle applies the consequences of one executed attempt and persists the
// record in a single update. Steps 6 and 7 of the fetch sequence are fused
// here so a crash cannot leave reporting and persistence half-applied.
func (c *Client) settle(
	ctx context.Context,
	record *entity.SourceRecord,
	healthState *entity.HealthScore,
	breaker *circuitbreaker.SourceBreaker,
	action behavior.Action,
	isProbe bool,
	att attempt,
) (*entity.FetchResult, error) {
	now := c.now().UTC()
	success := att.outcome == entity.OutcomeSuccess

	c.healthMu.Lock()
	if success {
		c.health.RecordSuccess(healthState, att.elapsed)
	} else {
		c.health.RecordFailure(healthState, att.kind)
	}
	healthScore := healthState.Score
	healthStatus := c.health.StatusOf(healthState)
	c.healthMu.Unlock()

	if success {
		record.RecordSuccess(now)
		record.NextAllowedAt = nil
		if !isProbe && !action.NextScheduledFetch.IsZero() {
			record.NextAllowedAt = &action.NextScheduledFetch
		}
		if att.etag != "" {
			record.ETag = att.etag
		}
		if att.lastModified != "" {
			record.LastModified = att.lastModified
		}
	} else {
		record.RecordFailure(now)

		switch att.outcome {
		case entity.OutcomeHardBlock:
			extendCooldown(record, now.Add(hardBlockCooldown))
		case entity.OutcomeSoftBlock:
			delay := softBlockCooldown
			if att.hasRetryAt {
				delay = att.retryAfter
			}
			extendCooldown(record, now.Add(delay))
		}
	}

	// A probe result resolves the breaker phase first. A source whose score
	// is still unhealthy after a successful probe re-trips on the spot, so
	// recovery proceeds probe by probe instead of crawling on low trust.
	if isProbe {
		if success {
			breaker.ProbeSucceeded()
		} else {
			breaker.ProbeFailed()
		}
	}
	if healthStatus == entity.HealthUnhealthy {
		breaker.Trip()
	}
	if until, open := breaker.NextAllowedAt(); open {
		extendCooldown(record, until)
	}

	syncStatus(record, healthStatus, breaker, now)

	if att.outcome.IsBlock() {
		isHard := att.outcome == entity.OutcomeHardBlock
		c.identities.ReportBlock(record.SourceID, isHard)
		if isHard {
			metrics.RecordIdentityRotation("hard_block")
		}
	}

	metrics.RecordFetchAttempt(record.SourceID, string(att.outcome), att.elapsed)
	metrics.SetHealthScore(record.SourceID, healthScore)
	metrics.SetCircuitPhase(record.SourceID, int(breaker.Phase()))

	if err := c.repo.Update(ctx, record); err != nil {
		return nil, fmt.Errorf("Fetch: persist outcome: %w", err)
	}

	return &entity.FetchResult{
		Outcome:         att.outcome,
		Body:            att.body,
		StatusCode:      att.statusCode,
		NotModified:     att.statusCode == http.StatusNotModified,
		ProxyUsed:       att.proxyUsed,
		DurationSeconds: att.elapsed.Seconds(),
		FetchedAt:       now,
	}, nil
}

// failureKind refines an outcome into the error kind health scoring weighs.
// Transient errors split on what the response looked like; everything else
// maps straight off the outcome.
func failureKind(outcome entity.FetchOutcome, statusCode, bodyLen int) entity.ErrorKind {
	if outcome == entity.OutcomeTransientError {
		switch {
		case statusCode >= 500:
			return entity.ErrKindServerError
		case statusCode > 0 && bodyLen < minBodyLength:
			return entity.ErrKindContentEmpty
		default:
			return entity.ErrKindNetworkTimeout
		}
	}
	return entity.ErrorKindFor(outcome)
}

// extendCooldown pushes NextAllowedAt out to at least the given instant,
// never pulling an existing longer cooldown back in.
func extendCooldown(record *entity.SourceRecord, until time.Time) {
	if record.NextAllowedAt == nil || record.NextAllowedAt.Before(until) {
		record.NextAllowedAt = &until
	}
}

// syncStatus derives the persisted coarse status from the breaker phase and
// the continuous health score.
func syncStatus(record *entity.SourceRecord, healthStatus entity.HealthStatus, breaker *circuitbreaker.SourceBreaker, now time.Time) {
	switch {
	case breaker.Phase() != circuitbreaker.PhaseClosed:
		record.Status = entity.SourceStatusOpen
	case record.Status == entity.SourceStatusOpen && record.IsCoolingDown(now):
		// The failure-count floor forced the record open; keep it until the
		// cooldown passes even if the breaker never tripped.
	case healthStatus == entity.HealthHealthy:
		record.Status = entity.SourceStatusHealthy
	default:
		record.Status = entity.SourceStatusDegraded
	}
}

// lockSource serializes attempts per source.
func (c *Client) lockSource(sourceID string) func() {
	c.mu.Lock()
	lock, ok := c.sourceLocks[sourceID]
	if !ok {
		lock = &sync.Mutex{}
		c.sourceLocks[sourceID] = lock
	}
	c.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// healthFor returns the in-process health state for a source, creating it at
// full trust on first use. It is a derived cache over the persisted record.
// Callers must hold healthMu while touching the returned value's fields.
func (c *Client) healthFor(sourceID string) *entity.HealthScore {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()

	if h, ok := c.healthStates[sourceID]; ok {
		return h
	}
	h := entity.NewHealthScore(sourceID)
	c.healthStates[sourceID] = h
	return h
}

// HealthFor exposes the health state for diagnostics. It returns a detached
// copy taken under the health lock, so readers never observe a half-applied
// settle and can never influence gating through the returned value.
func (c *Client) HealthFor(sourceID string) *entity.HealthScore {
	state := c.healthFor(sourceID)

	c.healthMu.Lock()
	defer c.healthMu.Unlock()
	snap := *state
	snap.RecentKinds = append([]entity.ErrorKind(nil), state.RecentKinds...)
	return &snap
}

// BreakerFor exposes the breaker for diagnostics.
func (c *Client) BreakerFor(sourceID string) *circuitbreaker.SourceBreaker {
	return c.breakers.For(sourceID)
}

// clientFor returns an HTTP client routed through the given proxy, or the
// direct client for an empty URL. Clients are cached per egress.
func (c *Client) clientFor(proxyURL string) *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.httpClients[proxyURL]; ok {
		return client
	}

	transport := c.baseTransport
	if transport == nil {
		base := http.DefaultTransport.(*http.Transport).Clone()
		if proxyURL != "" {
			if parsed, err := url.Parse(proxyURL); err == nil {
				base.Proxy = http.ProxyURL(parsed)
			}
		}
		transport = base
	}

	client := &http.Client{Transport: transport}
	c.httpClients[proxyURL] = client
	return client
}
