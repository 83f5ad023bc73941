package machine

import (
	"fmt"
	"sort"
	"time"

	"laundry-sync-backend/internal/model"
)

// Catalog maps a (machine type, category) pair to a cycle duration.
type Catalog struct {
	durations map[model.MachineType]map[string]time.Duration
}

var defaultMinutes = map[string]map[string]int{
	"washer": {"quick": 15, "normal": 30, "heavy": 45},
	"dryer":  {"quick": 20, "normal": 40, "heavy": 60},
}

// DefaultCatalog returns the stock washer and dryer profiles.
func DefaultCatalog() *Catalog {
	c, _ := NewCatalog(defaultMinutes)
	return c
}

// NewCatalog builds a catalog from minutes keyed by type then category.
func NewCatalog(minutes map[string]map[string]int) (*Catalog, error) {
	c := &Catalog{durations: make(map[model.MachineType]map[string]time.Duration)}
	for rawType, cats := range minutes {
		typ, ok := model.ParseMachineType(rawType)
		if !ok {
			return nil, fmt.Errorf("catalog: unknown machine type %q", rawType)
		}
		c.durations[typ] = make(map[string]time.Duration, len(cats))
		for name, m := range cats {
			if m <= 0 {
				return nil, fmt.Errorf("catalog: %s/%s has non-positive duration %d", typ, name, m)
			}
			c.durations[typ][name] = time.Duration(m) * time.Minute
		}
	}
	return c, nil
}

// Duration looks up the cycle length for a category on a machine type.
func (c *Catalog) Duration(typ model.MachineType, category string) (time.Duration, bool) {
	d, ok := c.durations[typ][category]
	return d, ok
}

// Categories lists the category names offered for a type, sorted by duration.
func (c *Catalog) Categories(typ model.MachineType) []string {
	cats := c.durations[typ]
	names := make([]string, 0, len(cats))
	for name := range cats {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if cats[names[i]] == cats[names[j]] {
			return names[i] < names[j]
		}
		return cats[names[i]] < cats[names[j]]
	})
	return names
}
