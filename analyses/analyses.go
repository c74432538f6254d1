// Package analyses bundles the built-in analyses shipped with the
// server binary.
package analyses

import (
	"github.com/databench/databench/analyses/dummypi"
	"github.com/databench/databench/analyses/sysmon"
	"github.com/databench/databench/pkg/analysis"
)

// Bundle metadata shown on the index page.
const (
	Description = "Databench demo analyses"
	Author      = "Databench"
	Version     = "0.1.0"
)

// All returns the built-in analyses in display order.
func All() []*analysis.Analysis {
	return []*analysis.Analysis{
		dummypi.New(),
		sysmon.New(),
	}
}

// NewCatalog builds a catalog with every built-in analysis registered
// and the bundle metadata set. The catalog is left unsealed so callers
// can add their own analyses before serving.
func NewCatalog() (*analysis.Catalog, error) {
	c := analysis.NewCatalog()
	c.Description = Description
	c.Author = Author
	c.Version = Version

	for _, a := range All() {
		if err := c.Register(a); err != nil {
			return nil, err
		}
	}
	return c, nil
}
