package store

import "github.com/rs/zerolog"

// Option customizes store behavior
type Option func(*Store)

// WithLogger sets the logger used inside the store package
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.Log = l }
}
