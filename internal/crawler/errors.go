package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrNavigation indicates a page could not be loaded after retries.
	ErrNavigation = errors.New("navigation failed")
	// ErrAntiBot indicates the marketplace served a challenge or block page.
	ErrAntiBot = errors.New("anti-bot challenge detected")
	// ErrBlocked is the caller-facing error for a search blocked on its first page.
	ErrBlocked = errors.New("temporarily blocked by the marketplace, try again later or configure a proxy")
)

// AntiBotError describes a detected challenge.
type AntiBotError struct {
	URL    string
	Marker string
	Kind   string
	// Persist is true when the challenge survived a reload.
	Persist bool
}

func (e *AntiBotError) Error() string {
	state := "on first load"
	if e.Persist {
		state = "after reload"
	}
	return fmt.Sprintf("anti-bot challenge %q (%s) at %s %s", e.Marker, e.Kind, e.URL, state)
}

// Is reports ErrAntiBot as a match.
func (e *AntiBotError) Is(target error) bool {
	return target == ErrAntiBot
}
