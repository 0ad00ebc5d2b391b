package cache

import (
	"aircal/internal/model"
	"aircal/internal/store"
)

const GeocodeStoreKey = "geocode-cache"

// GeocodeCache maps location text to a coordinate. A nil coordinate marks a
// location as unresolvable. Entries are never evicted automatically.
type GeocodeCache struct {
	m *Map[*model.Coordinate]
}

func LoadGeocode(s store.Store) *GeocodeCache {
	return &GeocodeCache{m: Load[*model.Coordinate](s, GeocodeStoreKey)}
}

// Lookup reports whether location has an entry and, if so, whether it
// resolved.
func (c *GeocodeCache) Lookup(location string) (coord model.Coordinate, resolved bool, found bool) {
	v, ok := c.m.Get(location)
	if !ok {
		return model.Coordinate{}, false, false
	}
	if v == nil {
		return model.Coordinate{}, false, true
	}
	return *v, true, true
}

func (c *GeocodeCache) PutResolved(location string, coord model.Coordinate) {
	c.m.Set(location, &coord)
}

func (c *GeocodeCache) PutUnresolvable(location string) {
	c.m.Set(location, nil)
}

// Forget removes an entry so the next run resolves location again.
func (c *GeocodeCache) Forget(location string) bool {
	return c.m.Delete(location)
}

func (c *GeocodeCache) Len() int {
	return c.m.Len()
}
