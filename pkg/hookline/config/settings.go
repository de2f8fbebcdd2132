package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/hookline/hookline/pkg/hookline/delivery"
)

// Settings is the declarative pipeline configuration parsed from a
// config map. Transform and filter functions are code, not data: the
// host attaches them to the parsed destinations afterward.
type Settings struct {
	// Destinations in declaration order.
	Destinations []*delivery.Destination

	// IdleDelay debounces session-idle completion emission. Zero means
	// emit immediately.
	IdleDelay time.Duration

	// Debug enables verbose delivery logging.
	Debug bool

	// MaxConcurrent caps simultaneous deliveries. Zero means unlimited.
	MaxConcurrent int64
}

var allowedMethods = map[string]bool{
	"POST":  true,
	"PUT":   true,
	"PATCH": true,
}

// Parse extracts Settings from a Config. Malformed destinations are
// construction-time errors, not runtime surprises.
//
// Recognized keys:
//
//	debug: bool
//	idleDelaySecs: number (seconds) or duration string
//	maxConcurrent: int
//	defaults:
//	  timeoutMs: number (milliseconds) or duration string
//	  retry: {maxAttempts: int, delayMs: number}
//	destinations:
//	  - url: string (required)
//	    events: [string, ...] (required)
//	    method: POST | PUT | PATCH
//	    headers: {string: string}
//	    timeoutMs: number
//	    retry: {maxAttempts: int, delayMs: number}
//	    rateLimit: {maxRequests: int, windowMs: number}
func Parse(c Config) (*Settings, error) {
	defaults := c.Section("defaults")
	defTimeout := defaults.Millis("timeoutMs", 0)
	defRetry := parseRetry(defaults.Section("retry"), delivery.RetryPolicy{})

	s := &Settings{
		IdleDelay:     c.Seconds("idleDelaySecs", 0),
		Debug:         c.Bool("debug", false),
		MaxConcurrent: int64(c.Int("maxConcurrent", 0)),
	}

	for i, dc := range c.Sections("destinations") {
		dest, err := parseDestination(dc, defTimeout, defRetry)
		if err != nil {
			return nil, fmt.Errorf("destination %d: %w", i, err)
		}
		s.Destinations = append(s.Destinations, dest)
	}

	return s, nil
}

func parseDestination(c Config, defTimeout time.Duration, defRetry delivery.RetryPolicy) (*delivery.Destination, error) {
	rawURL := c.String("url", "")
	if rawURL == "" {
		return nil, fmt.Errorf("missing url")
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid url %q", rawURL)
	}

	events := c.StringSlice("events", nil)
	if len(events) == 0 {
		return nil, fmt.Errorf("no subscribed events for %s", rawURL)
	}

	method := c.String("method", "")
	if method != "" && !allowedMethods[method] {
		return nil, fmt.Errorf("unsupported method %q for %s", method, rawURL)
	}

	dest := &delivery.Destination{
		URL:        rawURL,
		EventTypes: events,
		Method:     method,
		Headers:    c.StringMap("headers", nil),
		Timeout:    c.Millis("timeoutMs", defTimeout),
		Retry:      parseRetry(c.Section("retry"), defRetry),
	}

	if c.Has("rateLimit") {
		rl := c.Section("rateLimit")
		limit := delivery.RateLimit{
			MaxRequests: rl.Int("maxRequests", 0),
			Window:      rl.Millis("windowMs", 0),
		}
		if limit.MaxRequests <= 0 || limit.Window <= 0 {
			return nil, fmt.Errorf("rateLimit for %s needs positive maxRequests and windowMs", rawURL)
		}
		dest.RateLimit = &limit
	}

	return dest, nil
}

func parseRetry(c Config, def delivery.RetryPolicy) delivery.RetryPolicy {
	return delivery.RetryPolicy{
		MaxAttempts: c.Int("maxAttempts", def.MaxAttempts),
		BaseDelay:   c.Millis("delayMs", def.BaseDelay),
	}
}
