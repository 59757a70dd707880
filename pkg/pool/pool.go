// Package pool holds reusable I/O buffers shared by the extractors and the
// flattener's copy fallback.
//
// sync.Pool caches allocated but unused objects for later reuse, relieving
// pressure on the garbage collector. Items are dropped during garbage
// collection, so it suits short-lived buffers, not long-lived resources.
package pool
