package persist

import (
	"time"

	"github.com/rs/zerolog"
)

// Option tunes reader and writer construction.
type Option func(*options)

type options struct {
	log      zerolog.Logger
	validate bool
	actor    string
	now      func() time.Time
}

func newOptions(opts []Option) options {
	o := options{
		log: zerolog.Nop(),
		now: time.Now,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// WithLogger attaches a structured logger; the default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithHydrateValidation asks the reader to hydrate with validation enabled.
func WithHydrateValidation() Option {
	return func(o *options) { o.validate = true }
}

// WithActor sets the principal id stamped into update metadata on writes.
// When unset, the entity's own metadata value is left as the caller set it.
func WithActor(userID string) Option {
	return func(o *options) { o.actor = userID }
}

// WithClock overrides the metadata timestamp source, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}
