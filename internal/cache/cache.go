// Package cache persists intermediate research step results so that a
// re-run of a pipeline only repeats the steps that actually changed.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Step identifies a pipeline step. The ordinals define pipeline order, so
// "clear from step N onward" is a simple comparison.
type Step int

const (
	StepFetchNewMessages Step = iota + 1
	StepRetrievalContext
	StepBasicFacts
	StepComparableRole
	StepCompensation
	StepRelationship
	StepReplyGeneration
)

var stepNames = map[Step]string{
	StepFetchNewMessages: "fetch-new-messages",
	StepRetrievalContext: "build-retrieval-context",
	StepBasicFacts:       "basic-facts",
	StepComparableRole:   "comparable-role-data",
	StepCompensation:     "compensation-data",
	StepRelationship:     "relationship-data",
	StepReplyGeneration:  "reply-generation",
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseStep maps a step name back to its ordinal. Unknown names return 0.
func ParseStep(name string) Step {
	for s, n := range stepNames {
		if n == name {
			return s
		}
	}
	return 0
}

// Backend is the storage the cache writes through. Both store
// implementations satisfy it.
type Backend interface {
	CacheGet(ctx context.Context, key string) ([]byte, bool, error)
	CachePut(ctx context.Context, key string, step int, value []byte) error
	CacheDelete(ctx context.Context, key string) error
	CacheClearStep(ctx context.Context, step int) error
	CacheClearAll(ctx context.Context) error
}

// Settings control cache behavior for one pipeline run.
type Settings struct {
	// NoCache disables the cache entirely: no reads, no writes.
	NoCache bool
	// CacheUntil, when non-zero, only serves reads for steps up to and
	// including it. Later steps recompute.
	CacheUntil Step
	// ClearSteps lists steps whose entries are evicted before the run.
	ClearSteps []Step
	// ClearAll evicts everything before the run.
	ClearAll bool
}

// ReadableAt reports whether a cached value for the given step may be
// served under these settings.
func (s Settings) ReadableAt(step Step) bool {
	if s.NoCache {
		return false
	}
	if s.CacheUntil != 0 && step > s.CacheUntil {
		return false
	}
	return true
}

// Cache wraps a Backend with run-scoped settings.
type Cache struct {
	backend  Backend
	settings Settings
}

func New(backend Backend, settings Settings) *Cache {
	return &Cache{backend: backend, settings: settings}
}

// Prepare applies the clear directives. Call once before a run starts.
func (c *Cache) Prepare(ctx context.Context) error {
	if c.settings.ClearAll {
		if err := c.backend.CacheClearAll(ctx); err != nil {
			return eris.Wrap(err, "cache: clear all")
		}
		zap.L().Info("cache: cleared all entries")
		return nil
	}
	for _, step := range c.settings.ClearSteps {
		if err := c.backend.CacheClearStep(ctx, int(step)); err != nil {
			return eris.Wrapf(err, "cache: clear step %s", step)
		}
	}
	return nil
}

// volatileHex matches long hex runs (pointers, request ids) that leak into
// fingerprint inputs and would otherwise defeat caching.
var volatileHex = regexp.MustCompile(`0x[0-9a-fA-F]{6,}`)

// Key builds a stable cache key from an operation name and its inputs.
// Inputs are canonicalized to JSON with sorted keys and hashed.
func Key(op string, input any) (string, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return "", eris.Wrapf(err, "cache: fingerprint %s", op)
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", eris.Wrapf(err, "cache: fingerprint %s", op)
	}
	canonical, err := json.Marshal(canonicalize(decoded))
	if err != nil {
		return "", eris.Wrapf(err, "cache: fingerprint %s", op)
	}
	canonical = volatileHex.ReplaceAll(canonical, []byte("0x0"))

	sum := sha256.Sum256(canonical)
	return op + ":" + hex.EncodeToString(sum[:]), nil
}

// canonicalize rebuilds decoded JSON with deterministic map ordering.
// encoding/json already sorts map keys on marshal, so the work here is
// recursing so nested maps get the same treatment.
func canonicalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(t))
		for _, k := range keys {
			out[k] = canonicalize(t[k])
		}
		return out
	case []any:
		for i := range t {
			t[i] = canonicalize(t[i])
		}
		return t
	default:
		return v
	}
}

// Cached runs fn through the cache. On a hit the stored value is decoded
// into R; a value that no longer decodes is evicted and recomputed.
func Cached[A any, R any](ctx context.Context, c *Cache, step Step, op string, arg A, fn func(context.Context, A) (R, error)) (R, error) {
	var zero R

	key, err := Key(op, arg)
	if err != nil {
		return zero, err
	}

	if c.settings.ReadableAt(step) {
		raw, ok, err := c.backend.CacheGet(ctx, key)
		if err != nil {
			return zero, err
		}
		if ok {
			var result R
			if err := json.Unmarshal(raw, &result); err == nil {
				zap.L().Debug("cache: hit", zap.String("op", op), zap.String("step", step.String()))
				return result, nil
			}
			// Stored shape no longer matches the current type.
			zap.L().Warn("cache: evicting stale entry",
				zap.String("op", op), zap.String("key", key))
			if err := c.backend.CacheDelete(ctx, key); err != nil {
				return zero, err
			}
		}
	}

	start := time.Now()
	result, err := fn(ctx, arg)
	if err != nil {
		return zero, err
	}
	zap.L().Debug("cache: miss, computed",
		zap.String("op", op), zap.Duration("took", time.Since(start)))

	// Caching disabled for this step means disabled both ways: a no_cache
	// run must not leave entries behind for later runs to serve as hits.
	if c.settings.ReadableAt(step) {
		raw, err := json.Marshal(result)
		if err != nil {
			return zero, eris.Wrapf(err, "cache: encode result for %s", op)
		}
		if err := c.backend.CachePut(ctx, key, int(step), raw); err != nil {
			return zero, err
		}
	}
	return result, nil
}

// ParseSettings builds Settings from configuration values, mapping step
// names to ordinals. Unknown names are logged and ignored.
func ParseSettings(noCache bool, cacheUntil string, clearSteps []string, clearAll bool) Settings {
	s := Settings{NoCache: noCache, ClearAll: clearAll}
	if cacheUntil != "" {
		if step := ParseStep(cacheUntil); step != 0 {
			s.CacheUntil = step
		} else {
			zap.L().Warn("cache: unknown step in cache_until", zap.String("name", cacheUntil))
		}
	}
	for _, name := range clearSteps {
		if step := ParseStep(name); step != 0 {
			s.ClearSteps = append(s.ClearSteps, step)
		} else {
			zap.L().Warn("cache: unknown step in clear_steps", zap.String("name", name))
		}
	}
	return s
}
