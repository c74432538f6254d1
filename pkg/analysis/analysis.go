package analysis

import "errors"

// Sentinel errors for registration and catalog lookups.
var (
	// ErrNotFound is returned when a name does not exist in the catalog.
	ErrNotFound = errors.New("analysis: not found")

	// ErrSealed is returned when registering into a sealed registry or
	// catalog.
	ErrSealed = errors.New("analysis: sealed")

	// ErrDuplicateName is returned when two analyses register the same name.
	ErrDuplicateName = errors.New("analysis: duplicate name")

	// ErrEmptySignal is returned when registering a handler for the empty
	// signal name.
	ErrEmptySignal = errors.New("analysis: empty signal name")

	// ErrNilHandler is returned when registering a nil handler.
	ErrNilHandler = errors.New("analysis: nil handler")

	// ErrInvalidName is returned when an analysis name is not URL-safe.
	ErrInvalidName = errors.New("analysis: invalid name")
)

// Analysis describes one named unit of backend computation: its listing
// metadata and the signal registry holding its handlers. Immutable after
// the catalog is sealed.
type Analysis struct {
	// Name uniquely identifies the analysis. It appears in URLs and wire
	// frames and must consist of URL-safe characters.
	Name string

	// Description is shown on the index page. May contain multiple lines.
	Description string

	// Thumbnail is an optional resource path for the index page.
	Thumbnail string

	// Signals holds the analysis's handlers.
	Signals *Registry
}

// New creates an analysis with a fresh signal registry.
func New(name string) *Analysis {
	return &Analysis{
		Name:    name,
		Signals: NewRegistry(name),
	}
}

// On registers a handler on the analysis's signal registry.
func (a *Analysis) On(signal string, h Handler) error {
	return a.Signals.On(signal, h)
}

// validName reports whether a name is non-empty and URL-safe.
func validName(name string) bool {
	if name == "" {
		return false
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.':
		default:
			return false
		}
	}
	return true
}
