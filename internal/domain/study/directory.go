package study

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Directory caches resolved studies by (study name, site name) so that
// clinical-data blocks referencing the same study share one populated
// aggregate. A Directory belongs to one logical run; call Clear or use a
// fresh one between runs. The mutex only protects the map; concurrent runs
// over the same Directory are not supported.
type Directory struct {
	svc Service

	mu      sync.Mutex
	studies map[Key]*Study
}

// NewDirectory creates an empty directory backed by svc.
func NewDirectory(svc Service) *Directory {
	return &Directory{
		svc:     svc,
		studies: make(map[Key]*Study),
	}
}

// Resolve finds identifier in a previously fetched listing.
func (d *Directory) Resolve(listing *Listing, identifier string, byOID bool) (*Study, error) {
	return Find(listing, identifier, byOID)
}

// Lookup returns the cached study for key.
func (d *Directory) Lookup(key Key) (*Study, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.studies[key]
	return st, ok
}

// Register returns the cached entry for st's key, or caches st as is.
func (d *Directory) Register(st *Study) *Study {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cached, ok := d.studies[st.Key()]; ok {
		return cached
	}
	d.studies[st.Key()] = st
	return st
}

// GetOrPopulate returns the cached entry for st's key. Otherwise st is
// cached and fully populated from the remote service: event definitions,
// all subjects, and their scheduled events. A failed population evicts st.
func (d *Directory) GetOrPopulate(ctx context.Context, st *Study) (*Study, error) {
	if cached, ok := d.Lookup(st.Key()); ok {
		return cached, nil
	}
	st = d.Register(st)
	if err := d.svc.PopulateStudy(ctx, st); err != nil {
		d.mu.Lock()
		delete(d.studies, st.Key())
		d.mu.Unlock()
		return nil, fmt.Errorf("populate %s: %w", st.Key(), err)
	}
	return st, nil
}

// Studies returns the cached studies ordered by key.
func (d *Directory) Studies() []*Study {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Study, 0, len(d.studies))
	for _, st := range d.studies {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].SiteName < out[j].SiteName
	})
	return out
}

// Len returns the number of cached studies.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.studies)
}

// Clear drops all cached studies.
func (d *Directory) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.studies = make(map[Key]*Study)
}
