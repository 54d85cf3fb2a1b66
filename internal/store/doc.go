// Package store defines persistence interfaces for story view analytics.
// Implementations live under internal/storage; this package must not import
// database drivers or concrete clients.
package store
