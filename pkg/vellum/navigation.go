package vellum

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/zeebo/blake3"
)

// NavigationConfig is the category tree members browse pages through.
type NavigationConfig struct {
	Categories []Category `json:"categories"`
}

// Category groups pages and nested categories.
type Category struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	VisibleToGuests bool       `json:"visible_to_guests"`
	Pages           []PageRef  `json:"pages,omitempty"`
	Children        []Category `json:"children,omitempty"`
}

// PageRef points at one provider page.
type PageRef struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	VisibleToGuests bool   `json:"visible_to_guests"`
}

// Validate checks identifiers are present throughout the tree.
func (c NavigationConfig) Validate() error {
	for _, category := range c.Categories {
		if err := category.validate(); err != nil {
			return fmt.Errorf("validate navigation config: %w", err)
		}
	}

	return nil
}

func (c Category) validate() error {
	if c.ID == "" {
		return fmt.Errorf("category %q: missing id", c.Name)
	}
	for _, page := range c.Pages {
		if page.ID == "" {
			return fmt.Errorf("category %s page %q: missing id", c.ID, page.Title)
		}
	}
	for _, child := range c.Children {
		if err := child.validate(); err != nil {
			return err
		}
	}

	return nil
}

// VisibleSubset returns the tree filtered to entries flagged visible to guests.
//
// A category survives only when it is visible itself; inside a surviving
// category only visible pages and visible sub-categories remain.
func (c NavigationConfig) VisibleSubset() NavigationConfig {
	subset := NavigationConfig{Categories: make([]Category, 0, len(c.Categories))}
	for _, category := range c.Categories {
		if filtered, ok := category.visibleSubset(); ok {
			subset.Categories = append(subset.Categories, filtered)
		}
	}

	return subset
}

func (c Category) visibleSubset() (Category, bool) {
	if !c.VisibleToGuests {
		return Category{}, false
	}

	filtered := Category{
		ID:              c.ID,
		Name:            c.Name,
		VisibleToGuests: true,
	}
	for _, page := range c.Pages {
		if page.VisibleToGuests {
			filtered.Pages = append(filtered.Pages, page)
		}
	}
	for _, child := range c.Children {
		if visibleChild, ok := child.visibleSubset(); ok {
			filtered.Children = append(filtered.Children, visibleChild)
		}
	}

	return filtered, true
}

// PageIDs returns every page id in depth-first order.
func (c NavigationConfig) PageIDs() []string {
	ids := make([]string, 0)
	var walk func(categories []Category)
	walk = func(categories []Category) {
		for _, category := range categories {
			for _, page := range category.Pages {
				ids = append(ids, page.ID)
			}
			walk(category.Children)
		}
	}
	walk(c.Categories)

	return ids
}

// ContainsPage reports whether pageID is referenced anywhere in the tree.
func (c NavigationConfig) ContainsPage(pageID string) bool {
	for _, id := range c.PageIDs() {
		if id == pageID {
			return true
		}
	}

	return false
}

// Digest returns a stable content hash identifying this config revision.
func (c NavigationConfig) Digest() (string, error) {
	encoded, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("digest navigation config: %w", err)
	}
	sum := blake3.Sum256(encoded)

	return hex.EncodeToString(sum[:]), nil
}

// Clone returns a deep copy of the config.
func (c NavigationConfig) Clone() NavigationConfig {
	cloned := NavigationConfig{}
	if c.Categories != nil {
		cloned.Categories = cloneCategories(c.Categories)
	}

	return cloned
}

func cloneCategories(categories []Category) []Category {
	cloned := make([]Category, len(categories))
	for idx, category := range categories {
		cloned[idx] = category
		if category.Pages != nil {
			cloned[idx].Pages = append([]PageRef(nil), category.Pages...)
		}
		if category.Children != nil {
			cloned[idx].Children = cloneCategories(category.Children)
		}
	}

	return cloned
}
