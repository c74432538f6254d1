package analysis

import "fmt"

// Catalog is the static list of all known analyses, built at process
// startup and read-only at runtime. ListAll preserves registration order
// for rendering the index page.
type Catalog struct {
	byName map[string]*Analysis
	order  []*Analysis
	sealed bool

	// Bundle metadata, shown on the index page alongside the listing.
	Description string
	Author      string
	Version     string
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		byName: make(map[string]*Analysis),
	}
}

// Register adds an analysis to the catalog. Names must be unique and
// URL-safe. Registration after Seal is rejected.
func (c *Catalog) Register(a *Analysis) error {
	if c.sealed {
		return fmt.Errorf("catalog: %w", ErrSealed)
	}
	if a == nil || a.Signals == nil {
		return fmt.Errorf("catalog: %w: nil analysis or registry", ErrInvalidName)
	}
	if !validName(a.Name) {
		return fmt.Errorf("catalog: %q: %w", a.Name, ErrInvalidName)
	}
	if _, exists := c.byName[a.Name]; exists {
		return fmt.Errorf("catalog: %q: %w", a.Name, ErrDuplicateName)
	}
	c.byName[a.Name] = a
	c.order = append(c.order, a)
	return nil
}

// RegisterHandler registers a handler on an already-registered analysis.
// This is the registration interface for analysis authors who build up
// handlers separately from the descriptor.
func (c *Catalog) RegisterHandler(analysisName, signal string, h Handler) error {
	a, ok := c.byName[analysisName]
	if !ok {
		return fmt.Errorf("catalog: %q: %w", analysisName, ErrNotFound)
	}
	return a.On(signal, h)
}

// Seal freezes the catalog and every registered analysis's registry.
// Must be called before the transport starts accepting connections.
func (c *Catalog) Seal() {
	c.sealed = true
	for _, a := range c.order {
		a.Signals.Seal()
	}
}

// Sealed reports whether the catalog has been sealed.
func (c *Catalog) Sealed() bool {
	return c.sealed
}

// ListAll returns all analyses in registration order.
func (c *Catalog) ListAll() []*Analysis {
	out := make([]*Analysis, len(c.order))
	copy(out, c.order)
	return out
}

// Lookup returns the analysis for a name, or ErrNotFound.
func (c *Catalog) Lookup(name string) (*Analysis, error) {
	a, ok := c.byName[name]
	if !ok {
		return nil, fmt.Errorf("catalog: %q: %w", name, ErrNotFound)
	}
	return a, nil
}

// Len returns the number of registered analyses.
func (c *Catalog) Len() int {
	return len(c.order)
}
