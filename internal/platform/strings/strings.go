// Package strings provides string slice helpers
package strings

import std "strings"

// MustString returns s if it has non whitespace content otherwise panics
// name is used in the panic message so you can tell what was missing
func MustString(s string, name string) string {
	if std.TrimSpace(s) == "" {
		panic(name + " is required")
	}
	return s
}

// MustPrefix normalizes and asserts a root path like /queue or /admin
// ensures a single leading slash and no trailing slash except for the root itself
// panics if the input is empty after trimming
func MustPrefix(s string) string {
	s = std.TrimSpace(s)
	s = "/" + std.Trim(s, " /")
	if s == "/" {
		panic("root path is required")
	}
	return s
}

// TrimTrailingSlashes strips one or more trailing slashes, leaving the string otherwise unchanged
func TrimTrailingSlashes(s string) string {
	return std.TrimRight(s, "/")
}

// IfEmpty returns fallback when s is nil or empty, otherwise s
func IfEmpty[T any](s []T, fallback []T) []T {
	if len(s) == 0 {
		return fallback
	}
	return s
}
