package graph

import (
	"github.com/cockroachdb/errors"
)

// Error kinds returned by the graph and the clustering engine.
// Callers match them with errors.Is; the wrapped message carries the context.
var (
	// ErrValidation reports an empty, malformed or duplicate cluster id or pattern list
	ErrValidation = errors.New("validation failed")

	// ErrOverlap reports an attempt to put a node into a second cluster
	ErrOverlap = errors.New("cluster overlap")

	// ErrInsufficientMatch reports a cluster request matching fewer than two nodes
	ErrInsufficientMatch = errors.New("insufficient matching nodes")

	// ErrInvalidMode reports a visualisation operation on a headless graph
	ErrInvalidMode = errors.New("invalid graph mode")

	// ErrPrecondition reports an operation referencing missing nodes or edges
	ErrPrecondition = errors.New("precondition failed")

	// ErrDuplicateEntity reports re-creation of an existing node, edge or cluster
	ErrDuplicateEntity = errors.New("duplicate entity")

	// ErrObserver reports that one or more observers failed during a notification
	ErrObserver = errors.New("observer failed")
)

// IsValidation checks if err is or wraps ErrValidation
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsOverlap checks if err is or wraps ErrOverlap
func IsOverlap(err error) bool { return errors.Is(err, ErrOverlap) }

// IsInsufficientMatch checks if err is or wraps ErrInsufficientMatch
func IsInsufficientMatch(err error) bool { return errors.Is(err, ErrInsufficientMatch) }

// IsInvalidMode checks if err is or wraps ErrInvalidMode
func IsInvalidMode(err error) bool { return errors.Is(err, ErrInvalidMode) }

// IsPrecondition checks if err is or wraps ErrPrecondition
func IsPrecondition(err error) bool { return errors.Is(err, ErrPrecondition) }

// IsDuplicateEntity checks if err is or wraps ErrDuplicateEntity
func IsDuplicateEntity(err error) bool { return errors.Is(err, ErrDuplicateEntity) }

// IsObserver checks if err is or wraps ErrObserver
func IsObserver(err error) bool { return errors.Is(err, ErrObserver) }
