// Package netutil picks the listen address of the control API.
package netutil

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
)

// ErrNoFreeAddr is returned when neither the preferred address nor any
// fallback can be bound.
var ErrNoFreeAddr = errors.New("no free control API address")

// SelectBindAddr returns preferred when it is free. Otherwise, with fallback
// enabled, it returns the first free candidate.
func SelectBindAddr(preferred string, candidates []string, fallback bool) (string, error) {
	if preferred != "" {
		if Free(preferred) {
			return preferred, nil
		}
		if !fallback {
			return "", fmt.Errorf("bind address %s in use and fallback disabled", preferred)
		}
		slog.Info("netutil preferred address busy, trying fallbacks", "preferred", preferred)
	}
	for _, addr := range candidates {
		if addr == preferred {
			continue
		}
		if Free(addr) {
			return addr, nil
		}
	}
	return "", ErrNoFreeAddr
}

// Free reports whether addr can be listened on right now.
func Free(addr string) bool {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}
