package minicache

import "errors"

// ErrNoServers is returned when a client has no server to send a request to.
var ErrNoServers = errors.New("minicache: no servers available")

// Servers provides the list of server addresses. The list may change over
// time; keys are routed with the list current at request time.
type Servers interface {
	List() []string
}

// StaticServers is a fixed list of server addresses.
type StaticServers []string

// NewStaticServers returns the given addresses as Servers.
func NewStaticServers(addrs ...string) StaticServers {
	return StaticServers(addrs)
}

func (s StaticServers) List() []string {
	return s
}
