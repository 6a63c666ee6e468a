// Package governance holds the pacing controls around portal traffic: the
// caller-side login retry loop with exponential backoff, and the breaker that
// pauses batch collection while the portal keeps failing.
package governance
