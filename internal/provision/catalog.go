package provision

import (
	"context"

	"github.com/cochaviz/ecuflash/internal/artifacts"
)

// Variant is one selectable variant with the dataset it maps to.
type Variant struct {
	Key     string `json:"key"`
	Dataset string `json:"dataset"`
	Source  string `json:"source"`
}

// Variants loads and merges the mapping tables for c and returns the
// variants in table order. It is the data behind a selection prompt.
func (o *Orchestrator) Variants(ctx context.Context, c BuildCoordinate) ([]Variant, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	vmap, err := o.variantMap(ctx, c)
	if err != nil {
		return nil, err
	}
	keys := vmap.Variants()
	out := make([]Variant, 0, len(keys))
	for _, key := range keys {
		dataset, err := vmap.Resolve(key)
		if err != nil {
			return nil, err
		}
		out = append(out, Variant{Key: key, Dataset: dataset, Source: vmap.Source(key)})
	}
	return out, nil
}

// Artifacts locates both artifact kinds for c without selecting any.
func (o *Orchestrator) Artifacts(c BuildCoordinate) (firmware, symbols artifacts.Set, err error) {
	if err := c.Validate(); err != nil {
		return artifacts.Set{}, artifacts.Set{}, err
	}
	fwSpec, symSpec, err := o.Layout.SearchSpecs(c)
	if err != nil {
		return artifacts.Set{}, artifacts.Set{}, err
	}
	locator := artifacts.NewLocator(o.logger())
	firmware, err = locator.Locate(artifacts.Firmware, fwSpec)
	if err != nil {
		return firmware, artifacts.Set{}, err
	}
	symbols, err = locator.Locate(artifacts.SymbolTable, symSpec)
	return firmware, symbols, err
}
