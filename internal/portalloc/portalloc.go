// Package portalloc picks the TCP port a game server will bind.
// The probe-bind-and-release approach leaves a small window in which another
// process can grab the port before the server does; the OS offers nothing
// stronger without handing the socket over, so callers accept the race.
package portalloc

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

var (
	// ErrInvalidPort is returned for ports outside [1, 65535] before any bind.
	ErrInvalidPort = errors.New("invalid port")
	// ErrExhausted is returned when neither the preferred port nor an
	// OS-assigned ephemeral port could be bound.
	ErrExhausted = errors.New("port allocation failed")
)

// Allocate probes preferred on the wildcard address. When free it is
// released and returned as-is. When busy, an ephemeral port is obtained by
// binding port 0, released, and returned with reassigned=true. Allocate
// never waits for a busy port to free up.
func Allocate(preferred int) (port int, reassigned bool, err error) {
	if preferred < 1 || preferred > 65535 {
		return 0, false, fmt.Errorf("%w: %d (must be in 1..65535)", ErrInvalidPort, preferred)
	}
	if tryBind(preferred) {
		return preferred, false, nil
	}
	eph, err := ephemeral()
	if err != nil {
		return 0, false, fmt.Errorf("%w: preferred %d busy and ephemeral bind failed: %v", ErrExhausted, preferred, err)
	}
	return eph, true, nil
}

// tryBind reports whether an exclusive wildcard bind on port succeeds.
// The listener is closed immediately; the caller binds again right after.
func tryBind(port int) bool {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

// ephemeral binds port 0 and returns the port the OS picked.
func ephemeral() (int, error) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, err
	}
	defer func() { _ = ln.Close() }()
	addr, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		return 0, errors.New("listener address is not TCP")
	}
	return addr.Port, nil
}
