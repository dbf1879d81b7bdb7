package scraper

import "errors"

// Sentinel errors shared across stores, workers, and handlers.
var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrNoMessage is returned by Subscription.Receive when no message
	// arrived within the requested timeout.
	ErrNoMessage = errors.New("no message available")

	// ErrNoSelectorSchema indicates the schema fallback chain resolved
	// nothing. It is a configuration error, never retried.
	ErrNoSelectorSchema = errors.New("no selector schema found")

	// ErrNoURLs indicates a run has an empty URL set after normalization.
	ErrNoURLs = errors.New("no URLs specified")

	// ErrRunProjectMismatch is returned when a retry targets a run that
	// does not belong to the named project.
	ErrRunProjectMismatch = errors.New("run does not belong to project")

	// ErrInvalidTransition is returned when a run status update would
	// violate the monotonic lifecycle.
	ErrInvalidTransition = errors.New("invalid run status transition")
)
