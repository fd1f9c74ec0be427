// Package discord provides the ID and time primitives shared by the gateway
// and voice packages. It does not contain any WS-specific structures.
package discord

// HasFlag returns true if has is OR'ed into flag.
func HasFlag(flag, has uint64) bool {
	return flag&has == has
}
