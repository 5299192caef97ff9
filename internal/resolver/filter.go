package resolver

import "ex-vellum/pkg/vellum"

// TypeFilter restricts resolution to the listed block types. A nil filter keeps every block.
type TypeFilter map[vellum.BlockType]struct{}

// NewTypeFilter builds a filter from block types.
func NewTypeFilter(types ...vellum.BlockType) TypeFilter {
	filter := make(TypeFilter, len(types))
	for _, blockType := range types {
		filter[blockType] = struct{}{}
	}

	return filter
}

// Active reports whether the filter restricts anything.
func (f TypeFilter) Active() bool {
	return f != nil
}

// Includes reports whether blockType matches the filter.
func (f TypeFilter) Includes(blockType vellum.BlockType) bool {
	if f == nil {
		return true
	}
	_, ok := f[blockType]

	return ok
}

// Keeps reports whether block survives filtering. Blocks with children always
// survive so the search can continue into their descendants.
func (f TypeFilter) Keeps(block vellum.Block) bool {
	return f.Includes(block.Type) || block.HasChildren
}
