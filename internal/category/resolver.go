// Package category maps the host catalog's taxonomy onto marketplace
// categories and flattens the marketplace trees for operator UIs.
package category

import "sync"

// Resolver holds the operator-maintained mapping from catalog category
// ids to marketplace category ids, plus the catalog's parent links for
// ancestor walks. Safe for concurrent use; the API can replace the
// mapping while the engine resolves.
type Resolver struct {
	mu       sync.RWMutex
	mapping  map[int64]string
	parents  map[int64]int64
	fallback string
}

// NewResolver creates a resolver with a global fallback category id.
// fallback may be empty, meaning no fallback.
func NewResolver(fallback string) *Resolver {
	return &Resolver{
		mapping:  make(map[int64]string),
		parents:  make(map[int64]int64),
		fallback: fallback,
	}
}

// SetMapping replaces the catalog-to-marketplace category mapping.
func (r *Resolver) SetMapping(mapping map[int64]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mapping = make(map[int64]string, len(mapping))
	for k, v := range mapping {
		if v != "" {
			r.mapping[k] = v
		}
	}
}

// Mapping returns a copy of the current mapping.
func (r *Resolver) Mapping() map[int64]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[int64]string, len(r.mapping))
	for k, v := range r.mapping {
		out[k] = v
	}
	return out
}

// SetParents replaces the catalog taxonomy's parent links.
func (r *Resolver) SetParents(parents map[int64]int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parents = make(map[int64]int64, len(parents))
	for k, v := range parents {
		r.parents[k] = v
	}
}

// Resolve maps the first of the product's catalog categories that has
// a mapping, walking each category's ancestors before moving to the
// next. It reports false when no category resolves; the fallback is
// the caller's concern, applied only after every category fails.
func (r *Resolver) Resolve(categoryIDs []int64) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range categoryIDs {
		visited := make(map[int64]bool)
		for id != 0 && !visited[id] {
			visited[id] = true
			if mapped, ok := r.mapping[id]; ok {
				return mapped, true
			}
			id = r.parents[id]
		}
	}
	return "", false
}

// Fallback returns the global fallback marketplace category id.
func (r *Resolver) Fallback() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fallback
}

// SetFallback replaces the global fallback category id.
func (r *Resolver) SetFallback(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = id
}
