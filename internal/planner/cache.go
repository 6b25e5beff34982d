package planner

import (
	"context"
	"strings"

	"github.com/bartek5186/catalog2erp/internal/remote"
)

// readCache trzyma odczyty z instancji klienta na czas jednego budowania podglądu.
// Sesja nil oznacza pracę bez odczytów (wszystko zostaje "do utworzenia").
type readCache struct {
	s          remote.Session
	categories map[string]int64
	attributes map[string]int64
	values     map[int64]map[string]int64
}

func newReadCache(s remote.Session) *readCache {
	return &readCache{s: s, values: map[int64]map[string]int64{}}
}

func key(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

func (c *readCache) categoryID(ctx context.Context, name string) (int64, error) {
	if c.s == nil {
		return 0, nil
	}
	if c.categories == nil {
		rows, err := c.s.FetchCategories(ctx)
		if err != nil {
			return 0, err
		}
		c.categories = make(map[string]int64, len(rows))
		for _, r := range rows {
			if _, dup := c.categories[key(r.Name)]; !dup {
				c.categories[key(r.Name)] = r.ID
			}
		}
	}
	return c.categories[key(name)], nil
}

func (c *readCache) attributeID(ctx context.Context, name string) (int64, error) {
	if c.s == nil {
		return 0, nil
	}
	if c.attributes == nil {
		rows, err := c.s.FetchAttributes(ctx)
		if err != nil {
			return 0, err
		}
		c.attributes = make(map[string]int64, len(rows))
		for _, r := range rows {
			c.attributes[key(r.Name)] = r.ID
		}
	}
	return c.attributes[key(name)], nil
}

func (c *readCache) valueID(ctx context.Context, attributeID int64, name string) (int64, error) {
	if c.s == nil || attributeID == 0 {
		return 0, nil
	}
	vals, ok := c.values[attributeID]
	if !ok {
		rows, err := c.s.FetchAttributeValues(ctx, attributeID)
		if err != nil {
			return 0, err
		}
		vals = make(map[string]int64, len(rows))
		for _, r := range rows {
			vals[key(r.Name)] = r.ID
		}
		c.values[attributeID] = vals
	}
	return vals[key(name)], nil
}
