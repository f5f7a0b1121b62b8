// Package exturl resolves the externally visible base URL, used only for the
// startup banner.
package exturl

import "os"

// Provider yields the external URL, or "" when none is known.
type Provider interface {
	ExternalURL() string
}

// Static always returns the configured URL.
type Static string

func (s Static) ExternalURL() string { return string(s) }

// FromEnv reads the URL from an environment variable at call time.
type FromEnv string

func (e FromEnv) ExternalURL() string { return os.Getenv(string(e)) }

// Chain returns the first non-empty answer.
type Chain []Provider

func (c Chain) ExternalURL() string {
	for _, p := range c {
		if u := p.ExternalURL(); u != "" {
			return u
		}
	}
	return ""
}
