package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/ppiankov/rolcurve/internal/curve"
	"github.com/ppiankov/rolcurve/internal/model"
)

// Cache defines the interface for caching
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// CurveKey generates a cache key for a (client, LOB) fit. The fingerprint
// covers the portfolio and the fit settings so any change misses.
func CurveKey(key model.GroupKey, fingerprint string) string {
	hash := sha256.Sum256([]byte(key.String() + "|" + fingerprint))
	return "rolcurve:v1:" + hex.EncodeToString(hash[:])
}

// Fingerprint hashes a portfolio and the settings it is fitted with.
// Policy order does not matter.
func Fingerprint(policies []model.Policy, settings any) (string, error) {
	sorted := make([]model.Policy, len(policies))
	copy(sorted, policies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	data, err := json.Marshal(struct {
		Policies []model.Policy `json:"policies"`
		Settings any            `json:"settings"`
	}{sorted, settings})
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// CurveCache stores fitted curves as JSON in any Cache
type CurveCache struct {
	backend Cache
	ttl     time.Duration
}

// NewCurveCache wraps a byte cache
func NewCurveCache(backend Cache, ttl time.Duration) *CurveCache {
	return &CurveCache{backend: backend, ttl: ttl}
}

// Get returns a cached curve. Corrupt entries are dropped and reported as a miss.
func (c *CurveCache) Get(key string) (*curve.RolCurve, bool) {
	data, ok := c.backend.Get(key)
	if !ok {
		return nil, false
	}
	var rc curve.RolCurve
	if err := json.Unmarshal(data, &rc); err != nil {
		_ = c.backend.Delete(key)
		return nil, false
	}
	return &rc, true
}

// Set stores a curve
func (c *CurveCache) Set(key string, rc *curve.RolCurve) error {
	data, err := json.Marshal(rc)
	if err != nil {
		return fmt.Errorf("marshal curve: %w", err)
	}
	return c.backend.Set(key, data, c.ttl)
}

// Delete removes a curve
func (c *CurveCache) Delete(key string) error {
	return c.backend.Delete(key)
}
