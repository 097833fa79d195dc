package vectordb

import (
	"log/slog"
)

// DefaultIndexThreshold is the record count at which backends build their
// secondary similarity index.
const DefaultIndexThreshold = 100

// options holds settings shared by every backend.
type options struct {
	distance       Distance
	indexThreshold int
	logger         *slog.Logger
}

// Option configures a backend at construction time.
type Option func(*options)

// WithDistance sets the similarity metric for collections the store creates.
func WithDistance(d Distance) Option {
	return func(o *options) { o.distance = d }
}

// WithIndexThreshold sets the record count at which the secondary index is
// created. Values below 1 are ignored.
func WithIndexThreshold(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.indexThreshold = n
		}
	}
}

// WithLogger sets the logger used for backend events.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		distance:       DistanceCosine,
		indexThreshold: DefaultIndexThreshold,
		logger:         slog.Default(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
