// Package cache provides a generic, bounded LRU cache.
//
//	c := cache.New[string, int](100)
//	c.Set("key", 42)
//	value, ok := c.Get("key")
//
// The native backend keeps WGSL translations in one, since many
// pipelines share the same shader source.
//
// # Thread Safety
//
// LRU is safe for concurrent use and must not be copied after creation.
package cache
