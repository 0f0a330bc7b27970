// Package egress decides which destinations automation sessions may visit.
package egress

import "errors"

// ErrBlocked matches every *BlockedError.
var ErrBlocked = errors.New("destination blocked")

// BlockedError is returned when a URL fails the navigation policy.
type BlockedError struct {
	URL    string
	Reason string
}

func (e *BlockedError) Error() string {
	return "navigation blocked: " + e.Reason
}

func (e *BlockedError) Is(target error) bool {
	return target == ErrBlocked
}

func blocked(rawURL, reason string) *BlockedError {
	return &BlockedError{URL: rawURL, Reason: reason}
}
