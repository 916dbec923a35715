package transport

import (
	"time"

	"github.com/huykn/actioncache/cache"
)

// DefaultTimeout bounds each request and each handler invocation.
const DefaultTimeout = 5 * time.Second

type options struct {
	timeout     time.Duration
	dialTimeout time.Duration
	logger      cache.Logger
}

func defaultOptions() options {
	return options{
		timeout:     DefaultTimeout,
		dialTimeout: DefaultTimeout,
		logger:      cache.NewNoOpLogger(),
	}
}

// Option configures a Conn or Server.
type Option interface {
	apply(*options)
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) { f(o) }

// WithTimeout sets the per-request timeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return optionFunc(func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	})
}

// WithDialTimeout bounds connection establishment in Dial.
func WithDialTimeout(d time.Duration) Option {
	return optionFunc(func(o *options) {
		if d > 0 {
			o.dialTimeout = d
		}
	})
}

// WithLogger sets the logger used for dropped frames and handler failures.
func WithLogger(l cache.Logger) Option {
	return optionFunc(func(o *options) {
		if l != nil {
			o.logger = l
		}
	})
}
