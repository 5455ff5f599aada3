// Package session owns per-connection transport settings shared by hosts
// and clients.
//
// Ownership boundary:
// - timeouts, byte order and chunk sizing defaults
// - security mode validation
// - TLS config assembly from certificate files
package session
