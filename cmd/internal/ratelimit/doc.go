// Package ratelimit counts failed login attempts per key (client IP, email)
// and reports when a key is over budget.
//
// Two backends share the Limiter contract: Redis fixed-window counters for
// multi-instance deployments and an in-process sliding window for single
// instances and tests.
package ratelimit
