package transport

import "errors"

var (
	// ErrMaxRetriesExceeded is set on a request context when ShouldRetry
	// keeps being requested past RetryPolicy.MaxAttempts.
	ErrMaxRetriesExceeded = errors.New("transport: max retries exceeded")

	// ErrDriverClosed is returned by HTTPDriver's Fetch/FetchMany after
	// Close.
	ErrDriverClosed = errors.New("transport: driver closed")

	// ErrNoBrowsersConfigured is returned by NewBrowserDriver when pool
	// size is zero.
	ErrNoBrowsersConfigured = errors.New("transport: browser pool requires at least one browser")
)
