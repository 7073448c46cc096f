package category

import (
	"github.com/sahilm/fuzzy"

	"github.com/zicerhq/zicer-sync/internal/zicer"
)

// FlatCategory is one marketplace category flattened for selection
// lists, with its full " > " separated ancestor path.
type FlatCategory struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Path        string `json:"path"`
	HasChildren bool   `json:"has_children"`
}

// FlattenCategories walks the marketplace category tree depth-first
// into a flat list. Cycles in malformed trees are skipped.
func FlattenCategories(tree []zicer.Category) []FlatCategory {
	var out []FlatCategory
	visited := make(map[string]bool)
	var walk func(nodes []zicer.Category, prefix string)
	walk = func(nodes []zicer.Category, prefix string) {
		for _, node := range nodes {
			id := node.ID.String()
			if visited[id] {
				continue
			}
			visited[id] = true
			path := node.Title
			if prefix != "" {
				path = prefix + " > " + node.Title
			}
			out = append(out, FlatCategory{
				ID:          id,
				Title:       node.Title,
				Path:        path,
				HasChildren: len(node.Children) > 0,
			})
			walk(node.Children, path)
		}
	}
	walk(tree, "")
	return out
}

// FlatRegion is one location option. A region that only groups cantons
// becomes a disabled header; its cantons follow as selectable entries.
type FlatRegion struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Disabled bool   `json:"disabled"`
}

// FlattenRegions flattens the region tree for a location picker.
func FlattenRegions(regions []zicer.Region) []FlatRegion {
	var out []FlatRegion
	for _, region := range regions {
		if len(region.Cantons) > 0 {
			out = append(out, FlatRegion{
				ID:       region.ID.String(),
				Title:    region.Title,
				Disabled: true,
			})
			for _, canton := range region.Cantons {
				out = append(out, FlatRegion{
					ID:    canton.ID.String(),
					Title: "— " + canton.Title,
				})
			}
			continue
		}
		out = append(out, FlatRegion{
			ID:    region.ID.String(),
			Title: region.Title,
		})
	}
	return out
}

type flatPaths []FlatCategory

func (f flatPaths) String(i int) string { return f[i].Path }
func (f flatPaths) Len() int            { return len(f) }

// MatchTitles fuzzy-matches a catalog category name against the
// flattened marketplace paths, best matches first. Used to suggest
// mappings without an extra API round trip.
func MatchTitles(query string, categories []FlatCategory, limit int) []FlatCategory {
	matches := fuzzy.FindFrom(query, flatPaths(categories))
	var out []FlatCategory
	for _, m := range matches {
		out = append(out, categories[m.Index])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
