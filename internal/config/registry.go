// Package config loads the source registry: the YAML file declaring which
// sources exist, how often each is visited and which sensitivity class it
// belongs to, plus the proxy endpoints available to the identity pool.
package config

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	pkgconfig "calmfetch/internal/pkg/config"
)

// Duration wraps time.Duration with YAML unmarshalling from Go duration
// strings ("30s", "5m", "1h30m").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// SourceConfig declares one source in the registry.
type SourceConfig struct {
	// Key is the stable source identifier, used as the source_records key.
	Key string `yaml:"key"`

	// URL is the fetch target.
	URL string `yaml:"url"`

	// Type labels the source's content kind ("rss", "html", "api"). It is
	// informational, surfaced in diagnostics; gating never consults it.
	Type string `yaml:"type"`

	// Class is the sensitivity class: "high", "medium" or "low". Empty
	// defaults to high, the most conservative treatment.
	Class string `yaml:"class"`

	// Priority orders sweep execution: "high", "medium" or "low". Empty
	// defaults to low, so new sources queue behind established ones.
	Priority string `yaml:"priority"`

	// Interval is the nominal spacing between visits, before jitter. Zero
	// means the engine's default.
	Interval Duration `yaml:"interval"`

	// Enabled defaults to true when omitted.
	Enabled *bool `yaml:"enabled"`
}

// IsEnabled reports whether the source participates in sweeps.
func (s *SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// ProxyConfig declares one proxy egress endpoint.
type ProxyConfig struct {
	URL    string `yaml:"url"`
	Tier   string `yaml:"tier"`
	Region string `yaml:"region"`
}

// Registry is the parsed registry file.
type Registry struct {
	Sources []SourceConfig `yaml:"sources"`
	Proxies []ProxyConfig  `yaml:"proxies"`
}

var validClasses = map[string]bool{"": true, "high": true, "medium": true, "low": true}
var validTiers = map[string]bool{"residential": true, "datacenter": true, "direct": true}

// priorityRanks orders sweep execution; an empty priority sorts last.
var priorityRanks = map[string]int{"high": 0, "medium": 1, "low": 2, "": 2}

// LoadRegistry reads and validates the registry file at path.
func LoadRegistry(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadRegistry: %w", err)
	}

	var reg Registry
	if err := yaml.Unmarshal(raw, &reg); err != nil {
		return nil, fmt.Errorf("LoadRegistry: parse %s: %w", path, err)
	}
	if err := reg.Validate(); err != nil {
		return nil, fmt.Errorf("LoadRegistry: %s: %w", path, err)
	}
	return &reg, nil
}

// Validate checks the registry's structural invariants. A registry that
// fails validation is rejected whole; a worker misconfigured on one source
// should not quietly run the others.
func (r *Registry) Validate() error {
	seen := make(map[string]bool, len(r.Sources))
	for i := range r.Sources {
		src := &r.Sources[i]
		if src.Key == "" {
			return fmt.Errorf("source %d: key is required", i)
		}
		if seen[src.Key] {
			return fmt.Errorf("source %q: duplicate key", src.Key)
		}
		seen[src.Key] = true

		if err := validateHTTPURL(src.URL); err != nil {
			return fmt.Errorf("source %q: %w", src.Key, err)
		}
		if !validClasses[src.Class] {
			return fmt.Errorf("source %q: unknown class %q", src.Key, src.Class)
		}
		if _, ok := priorityRanks[src.Priority]; !ok {
			return fmt.Errorf("source %q: unknown priority %q", src.Key, src.Priority)
		}
		if src.Interval != 0 {
			if err := pkgconfig.ValidateDuration(src.Interval.Std(), 5*time.Second, 24*time.Hour); err != nil {
				return fmt.Errorf("source %q: interval: %w", src.Key, err)
			}
		}
	}

	for i := range r.Proxies {
		proxy := &r.Proxies[i]
		if err := validateHTTPURL(proxy.URL); err != nil {
			return fmt.Errorf("proxy %d: %w", i, err)
		}
		if !validTiers[proxy.Tier] {
			return fmt.Errorf("proxy %d: unknown tier %q", i, proxy.Tier)
		}
	}

	return nil
}

// EnabledSources returns the sources participating in sweeps, ordered by
// priority rank then key. Sweeps visit high-priority sources first, and the
// tie-break keeps the order stable across reloads regardless of how the
// registry file is arranged.
func (r *Registry) EnabledSources() []SourceConfig {
	out := make([]SourceConfig, 0, len(r.Sources))
	for _, src := range r.Sources {
		if src.IsEnabled() {
			out = append(out, src)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := priorityRanks[out[i].Priority], priorityRanks[out[j].Priority]
		if ri != rj {
			return ri < rj
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// ClassFor returns the sensitivity class for a source key, defaulting to
// "high" for unknown keys or unset classes.
func (r *Registry) ClassFor(key string) string {
	for i := range r.Sources {
		if r.Sources[i].Key == key && r.Sources[i].Class != "" {
			return r.Sources[i].Class
		}
	}
	return "high"
}

func validateHTTPURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("url is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("url %q: scheme must be http or https", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("url %q: host is required", raw)
	}
	return nil
}
