// Package app wires configuration, the broker client and the domain
// packages into the publisher and subscriber processes.
package app

import "net/http"

type Option func(*options)

type options struct {
	relayURL   string
	nwsBaseURL string
	httpClient *http.Client
}

// WithRelayURL overrides the upstream weather service endpoint.
func WithRelayURL(u string) Option {
	return func(o *options) { o.relayURL = u }
}

// WithNWSBaseURL overrides the fallback observation API root.
func WithNWSBaseURL(u string) Option {
	return func(o *options) { o.nwsBaseURL = u }
}

// WithHTTPClient replaces the outbound client used by the relay and the
// fallback cache.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

func buildOptions(opts []Option) options {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
