package minicache

import (
	"github.com/zeebo/xxh3"

	"github.com/pior/minicache/internal/jumphash"
)

// ServerSelector picks the index of the server owning key, among
// serverCount servers.
type ServerSelector func(key string, serverCount int) int

// DefaultServerSelector uses Jump Hash over the xxh3 hash of the key.
// Adding a server only moves the keys that now belong to it.
func DefaultServerSelector(key string, serverCount int) int {
	return jumphash.Hash(xxh3.HashString(key), serverCount)
}

// staticSelector is used in tests to always select a specific server.
func staticSelector(index int) ServerSelector {
	return func(key string, serverCount int) int {
		return index % serverCount
	}
}
