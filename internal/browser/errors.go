package browser

import "errors"

var (
	// ErrNavigationTimeout is returned when no navigation completes within the navigation timeout
	ErrNavigationTimeout = errors.New("navigation timeout")
	// ErrElementNotFound is returned when a selector matches no element, or more than the one expected
	ErrElementNotFound = errors.New("element not found")
	// ErrNewPageTimeout is returned when an expected tab never appears
	ErrNewPageTimeout = errors.New("new page did not open")
	// ErrSessionClosed is returned for operations on a closed session or page
	ErrSessionClosed = errors.New("browser session closed")
)
