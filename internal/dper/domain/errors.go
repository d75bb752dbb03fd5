package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoCache is returned when cached data is required but no cache file exists.
var ErrNoCache = errors.New("no cached data available")

// ValidationError is a structural or schema violation in static or dynamic configuration.
// Path locates the offending field, e.g. "peers.example.masters[0].ip".
type ValidationError struct {
	Path string
	Msg  string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return e.Msg
	}
	return e.Path + ": " + e.Msg
}

// ParseError reports a payload that is not well-formed JSON or XML.
type ParseError struct {
	PeerID string
	Format PayloadFormat
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("peer %s: malformed %s payload: %v", e.PeerID, e.Format, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// FetchError reports a fetch that produced no usable payload: an unexpected HTTP
// status, or a required cache file that does not exist.
type FetchError struct {
	PeerID     string
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("peer %s: GET %s returned status %d", e.PeerID, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("peer %s: %v", e.PeerID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// TransportError reports a connection-level failure with no cache to fall back to.
type TransportError struct {
	PeerID string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("peer %s: connection to %s failed: %v", e.PeerID, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ZoneConflict records a zone claimed by a second peer after Owner already claimed it.
type ZoneConflict struct {
	Zone     string
	Owner    string
	Claimant string
}

func (c ZoneConflict) Error() string {
	return fmt.Sprintf("zone %s defined by both %s and %s", c.Zone, c.Owner, c.Claimant)
}

// DuplicateZoneError aggregates every zone ownership conflict found in one run.
type DuplicateZoneError struct {
	Conflicts []ZoneConflict
}

func (e *DuplicateZoneError) Error() string {
	parts := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		parts = append(parts, c.Error())
	}
	return fmt.Sprintf("duplicate zones (%d): %s", len(e.Conflicts), strings.Join(parts, "; "))
}

// Unwrap exposes the individual conflicts to errors.Is/As.
func (e *DuplicateZoneError) Unwrap() []error {
	errs := make([]error, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		errs = append(errs, c)
	}
	return errs
}

// PublishError reports a filesystem failure while writing or replacing the live configuration.
type PublishError struct {
	Op   string
	Path string
	Err  error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }
