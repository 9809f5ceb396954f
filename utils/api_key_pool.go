package utils

import (
	"errors"
	"sync"
	"time"
)

// ErrNoKeys is returned when every key is cooling down
var ErrNoKeys = errors.New("no available API keys")

// APIKeyPool rotates provider API keys. A key that failed is benched until
// its cooldown expires. Safe for concurrent runs.
type APIKeyPool struct {
	keys    []string
	uses    map[string]int
	benched map[string]time.Time
	now     func() time.Time
	mu      sync.Mutex
}

// PoolStats is a snapshot of the pool
type PoolStats struct {
	Total     int            `json:"total_keys"`
	Available int            `json:"available_keys"`
	Benched   int            `json:"benched_keys"`
	Uses      map[string]int `json:"-"`
}

// NewAPIKeyPool creates a new API key pool
func NewAPIKeyPool(keys []string) *APIKeyPool {
	return &APIKeyPool{
		keys:    append([]string(nil), keys...),
		uses:    make(map[string]int),
		benched: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Acquire returns the least used key that is not benched. Ties go to the
// key listed first so rotation is deterministic.
func (p *APIKeyPool) Acquire() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	selected := ""
	for _, key := range p.keys {
		if until, ok := p.benched[key]; ok {
			if now.Before(until) {
				continue
			}
			delete(p.benched, key)
		}
		if selected == "" || p.uses[key] < p.uses[selected] {
			selected = key
		}
	}

	if selected == "" {
		return "", ErrNoKeys
	}

	p.uses[selected]++
	return selected, nil
}

// MarkFailed benches a key for the cooldown period
func (p *APIKeyPool) MarkFailed(key string, cooldown time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.benched[key] = p.now().Add(cooldown)
}

// Stats returns usage statistics
func (p *APIKeyPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	benched := 0
	for _, key := range p.keys {
		if until, ok := p.benched[key]; ok && now.Before(until) {
			benched++
		}
	}

	uses := make(map[string]int, len(p.uses))
	for k, v := range p.uses {
		uses[k] = v
	}

	return PoolStats{
		Total:     len(p.keys),
		Available: len(p.keys) - benched,
		Benched:   benched,
		Uses:      uses,
	}
}
