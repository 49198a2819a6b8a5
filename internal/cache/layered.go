package cache

import (
	"errors"
	"time"
)

// Layered checks its tiers in order, fastest first, and promotes hits into
// every faster tier.
type Layered struct {
	tiers []Cache
}

// NewLayered stacks the given caches.
func NewLayered(tiers ...Cache) *Layered {
	return &Layered{tiers: tiers}
}

// NewMemoryDisk is the usual two-tier setup: memory in front of dir.
func NewMemoryDisk(memoryTTL time.Duration, dir string, diskTTL time.Duration) *Layered {
	return NewLayered(
		NewMemoryCache(memoryTTL, 10*time.Minute),
		NewDiskCache(dir, diskTTL),
	)
}

// Get returns the first hit.
func (c *Layered) Get(key string) ([]byte, bool) {
	for i, tier := range c.tiers {
		val, found := tier.Get(key)
		if !found {
			continue
		}
		for _, faster := range c.tiers[:i] {
			_ = faster.Set(key, val, 0)
		}
		return val, true
	}
	return nil, false
}

// Set stores value in every tier.
func (c *Layered) Set(key string, value []byte, ttl time.Duration) error {
	var errs []error
	for _, tier := range c.tiers {
		if err := tier.Set(key, value, ttl); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Delete removes key from every tier.
func (c *Layered) Delete(key string) error {
	var errs []error
	for _, tier := range c.tiers {
		if err := tier.Delete(key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Clear empties every tier.
func (c *Layered) Clear() error {
	var errs []error
	for _, tier := range c.tiers {
		if err := tier.Clear(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
