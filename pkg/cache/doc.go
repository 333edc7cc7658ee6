// Package cache keeps the most recently fetched list of vehicles on an account.
//
// Fleet API rate-limits vehicle data requests, and most MCP requests only need to know which
// vehicles exist and their last reported state. A [VehicleCache] serves reads from memory for
// [DefaultMaxAge] after each successful fetch.
//
// The cache favors availability over freshness. When a fetch fails, [VehicleCache.Get] returns the
// last known vehicle list rather than an error, and retries on the next call. The contents are
// always replaced as a whole, so readers never observe a partially updated list. Callers must not
// modify returned slices.
//
// A VehicleCache may safely be used from multiple goroutines.
package cache
