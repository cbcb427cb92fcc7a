package cache

import (
	"errors"
	"time"
)

// LayeredCache implements a multi-layer cache, fastest layer first
// (memory, disk, then an optional shared layer)
type LayeredCache struct {
	layers []Cache
}

// NewLayeredCache creates a memory + disk cache with optional extra layers
// behind them. maxCurves bounds the memory layer.
func NewLayeredCache(memoryTTL time.Duration, maxCurves int, diskDir string, diskTTL time.Duration, extra ...Cache) *LayeredCache {
	layers := []Cache{
		NewBoundedMemoryCache(memoryTTL, 10*time.Minute, maxCurves),
		NewDiskCache(diskDir, diskTTL),
	}
	for _, l := range extra {
		if l != nil {
			layers = append(layers, l)
		}
	}
	return &LayeredCache{layers: layers}
}

// NewLayers builds a layered cache from explicit layers
func NewLayers(layers ...Cache) *LayeredCache {
	return &LayeredCache{layers: layers}
}

// Get retrieves a value, checking layers in order and promoting hits to the faster ones
func (c *LayeredCache) Get(key string) ([]byte, bool) {
	for i, l := range c.layers {
		if val, found := l.Get(key); found {
			for j := 0; j < i; j++ {
				_ = c.layers[j].Set(key, val, 0) // Use default TTL
			}
			return val, true
		}
	}
	return nil, false
}

// Set stores a value in every layer. A failing layer does not stop the others.
func (c *LayeredCache) Set(key string, value []byte, ttl time.Duration) error {
	var errs []error
	for _, l := range c.layers {
		if err := l.Set(key, value, ttl); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Delete removes a value from every layer
func (c *LayeredCache) Delete(key string) error {
	for _, l := range c.layers {
		_ = l.Delete(key)
	}
	return nil
}

// Clear removes all values from every layer
func (c *LayeredCache) Clear() error {
	var errs []error
	for _, l := range c.layers {
		if err := l.Clear(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
