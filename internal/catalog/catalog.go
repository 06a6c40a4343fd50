// Package catalog holds the allow-list of queryable measures, dimensions and
// time grains, and the upstream field each user-facing key maps to.
package catalog

import (
	"fmt"
	"sort"
)

// Reserved dimension keys
const (
	// BucketKey controls time granularity only. It can be listed as a grouping
	// dimension but never filtered on.
	BucketKey = "bucket"

	// StoreKey is the dimension the tenant filter is injected on.
	StoreKey = "store"
)

// Grain is a time-bucketing resolution
type Grain string

const (
	GrainHour  Grain = "hour"
	GrainDay   Grain = "day"
	GrainWeek  Grain = "week"
	GrainMonth Grain = "month"
)

// DefaultGrain is used when a request does not name one
const DefaultGrain = GrainDay

// Catalog is the immutable allow-list. Build one with New or Default and share
// it freely; no method mutates it.
type Catalog struct {
	measures      map[string]string
	dimensions    map[string]string
	grains        map[Grain]struct{}
	timeDimension string
}

// New builds a catalog and checks its internal consistency: the store
// dimension must exist and the time dimension must be set.
func New(measures, dimensions map[string]string, grains []Grain, timeDimension string) (*Catalog, error) {
	if len(measures) == 0 {
		return nil, fmt.Errorf("catalog: at least one measure is required")
	}
	if _, ok := dimensions[StoreKey]; !ok {
		return nil, fmt.Errorf("catalog: dimension %q is required for tenant scoping", StoreKey)
	}
	if timeDimension == "" {
		return nil, fmt.Errorf("catalog: time dimension is required")
	}
	if len(grains) == 0 {
		return nil, fmt.Errorf("catalog: at least one grain is required")
	}

	c := &Catalog{
		measures:      make(map[string]string, len(measures)),
		dimensions:    make(map[string]string, len(dimensions)),
		grains:        make(map[Grain]struct{}, len(grains)),
		timeDimension: timeDimension,
	}
	for k, v := range measures {
		c.measures[k] = v
	}
	for k, v := range dimensions {
		c.dimensions[k] = v
	}
	for _, g := range grains {
		c.grains[g] = struct{}{}
	}
	return c, nil
}

// Default returns the sales catalog served by the gateway
func Default() *Catalog {
	c, err := New(
		map[string]string{
			"revenue":    "Sales.revenue",
			"orders":     "Sales.orders",
			"avg_ticket": "Sales.avgTicket",
		},
		map[string]string{
			"store":   "Sales.store",
			"channel": "Sales.channel",
			"product": "ProductSales.product",
			"city":    "Delivery.city",
			BucketKey: "Sales.createdAt",
		},
		[]Grain{GrainHour, GrainDay, GrainWeek, GrainMonth},
		"Sales.createdAt",
	)
	if err != nil {
		panic(err)
	}
	return c
}

// Measure returns the upstream field for a measure key
func (c *Catalog) Measure(key string) (string, bool) {
	f, ok := c.measures[key]
	return f, ok
}

// Dimension returns the upstream field for a dimension key
func (c *Catalog) Dimension(key string) (string, bool) {
	f, ok := c.dimensions[key]
	return f, ok
}

// HasGrain reports whether g is an allowed grain
func (c *Catalog) HasGrain(g Grain) bool {
	_, ok := c.grains[g]
	return ok
}

// TimeDimension returns the upstream field every query is bucketed on
func (c *Catalog) TimeDimension() string {
	return c.timeDimension
}

// StoreField returns the upstream field of the store dimension
func (c *Catalog) StoreField() string {
	return c.dimensions[StoreKey]
}

// Grains returns the allowed grains sorted alphabetically
func (c *Catalog) Grains() []string {
	out := make([]string, 0, len(c.grains))
	for g := range c.grains {
		out = append(out, string(g))
	}
	sort.Strings(out)
	return out
}

// Doc is the read-only introspection document
type Doc struct {
	Measures             map[string]string `json:"measures"`
	Dimensions           map[string]string `json:"dimensions"`
	Grains               []string          `json:"grains"`
	DefaultTimeDimension string            `json:"default_time_dimension"`
}

// Doc returns a copy of the catalog suitable for serialization
func (c *Catalog) Doc() Doc {
	d := Doc{
		Measures:             make(map[string]string, len(c.measures)),
		Dimensions:           make(map[string]string, len(c.dimensions)),
		Grains:               c.Grains(),
		DefaultTimeDimension: c.timeDimension,
	}
	for k, v := range c.measures {
		d.Measures[k] = v
	}
	for k, v := range c.dimensions {
		d.Dimensions[k] = v
	}
	return d
}
