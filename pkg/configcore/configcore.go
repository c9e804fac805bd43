// Package configcore defines the config core collaborator: the opaque,
// low-level configuration boundary the spec names with four primitives —
// resolve-string, resolve-int, auto-detect-IP, free-returned-string. The
// "free" primitive has no Go analogue (the GC reclaims everything this
// package allocates), so Core exposes the other three and lets
// callers treat its return values as ordinary Go strings/ints.
package configcore

import (
	"net"
	"os"
	"strconv"
)

// Core resolves configuration primitives from the process environment,
// with a fallback default. It exists as an interface so tests can swap in
// a fixed-value implementation without touching the environment.
type Core interface {
	// ResolveString returns the environment variable's value, or fallback
	// if unset or empty.
	ResolveString(key, fallback string) string

	// ResolveInt returns the environment variable parsed as an int, or
	// fallback if unset, empty, or unparsable.
	ResolveInt(key string, fallback int) int

	// AutoDetectIP returns the local IP address that would be used to
	// reach the given hint endpoint (or the default route if hint is
	// empty), falling back to "127.0.0.1" if detection fails.
	AutoDetectIP(hint string) string
}

// EnvCore is the default Core: OS environment variables plus UDP-connect
// autodetection.
type EnvCore struct{}

// NewEnvCore builds the default environment-backed Core.
func NewEnvCore() *EnvCore { return &EnvCore{} }

func (EnvCore) ResolveString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (EnvCore) ResolveInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// AutoDetectIP opens a UDP "connection" (no packets sent, just a route
// lookup) to hint, or a well-known public address if hint is empty, and
// reads back the local address the kernel would use. This never touches
// the network; it only asks the routing table.
func (EnvCore) AutoDetectIP(hint string) string {
	target := hint
	if target == "" {
		target = "8.8.8.8:80"
	}
	conn, err := net.Dial("udp", target)
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP == nil {
		return "127.0.0.1"
	}
	return addr.IP.String()
}

var _ Core = (*EnvCore)(nil)
