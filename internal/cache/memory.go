package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/raphaelgruber/livability/internal/models"
)

type memoryEntry struct {
	report    *models.ContextReport
	expiresAt time.Time
}

// Memory is an in-process LRU cache with per-entry expiry.
type Memory struct {
	lru *expirable.LRU[string, memoryEntry]
	now func() time.Time
}

// NewMemory creates a cache holding up to size reports. maxTTL bounds the
// lifetime of every entry; Set may pass a shorter TTL per entry.
func NewMemory(size int, maxTTL time.Duration) *Memory {
	return &Memory{
		lru: expirable.NewLRU[string, memoryEntry](size, nil, maxTTL),
		now: time.Now,
	}
}

// Get returns a deep copy of the cached report.
func (m *Memory) Get(_ context.Context, key string) (*models.ContextReport, bool, error) {
	entry, ok := m.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !m.now().Before(entry.expiresAt) {
		m.lru.Remove(key)
		return nil, false, nil
	}
	return entry.report.Clone(), true, nil
}

// Set stores a deep copy of report.
func (m *Memory) Set(_ context.Context, key string, report *models.ContextReport, ttl time.Duration) error {
	m.lru.Add(key, memoryEntry{report: report.Clone(), expiresAt: m.now().Add(ttl)})
	return nil
}

// Len returns the number of cached entries.
func (m *Memory) Len() int {
	return m.lru.Len()
}
