// Package query validates inbound analytics requests against the catalog and
// compiles them into the upstream aggregation service's query shape.
package query

import (
	"strconv"
	"strings"

	"github.com/storepulse/pulsegate/internal/catalog"
)

// MaxDimensions is the cap on distinct grouping dimensions per query
const MaxDimensions = 3

// MinDateLength is the length of the shortest accepted ISO date (YYYY-MM-DD)
const MinDateLength = 10

// Operator is a filter comparison
type Operator string

const (
	OpEquals    Operator = "equals"
	OpNotEquals Operator = "notEquals"
	OpContains  Operator = "contains"
)

func (o Operator) valid() bool {
	switch o {
	case OpEquals, OpNotEquals, OpContains:
		return true
	}
	return false
}

// FilterInput is a raw filter as sent by the caller
type FilterInput struct {
	Dimension string   `json:"dimension"`
	Operator  string   `json:"operator,omitempty"`
	Values    []string `json:"values"`
}

// Input is a raw query as sent by the caller. Its JSON shape is also the
// shape frozen inside share tokens.
type Input struct {
	Measure    string        `json:"measure"`
	Dimensions []string      `json:"dimensions"`
	Grain      string        `json:"grain,omitempty"`
	From       string        `json:"from"`
	To         string        `json:"to"`
	Filters    []FilterInput `json:"filters"`
}

// FilterSpec is a validated filter
type FilterSpec struct {
	Dimension string   `json:"dimension"`
	Operator  Operator `json:"operator"`
	Values    []string `json:"values"`
}

// Spec is a validated query. Only Validate produces one.
type Spec struct {
	Measure    string        `json:"measure"`
	Dimensions []string      `json:"dimensions"`
	Grain      catalog.Grain `json:"grain"`
	DateFrom   string        `json:"from"`
	DateTo     string        `json:"to"`
	Filters    []FilterSpec  `json:"filters"`
}

// Input converts a spec back to the raw shape it was validated from
func (s Spec) Input() Input {
	in := Input{
		Measure:    s.Measure,
		Dimensions: append([]string{}, s.Dimensions...),
		Grain:      string(s.Grain),
		From:       s.DateFrom,
		To:         s.DateTo,
		Filters:    make([]FilterInput, len(s.Filters)),
	}
	for i, f := range s.Filters {
		in.Filters[i] = FilterInput{
			Dimension: f.Dimension,
			Operator:  string(f.Operator),
			Values:    append([]string{}, f.Values...),
		}
	}
	return in
}

// Validate checks in against cat and returns the first violation found, in
// this order: measure, dimensions, grain, dates, filters.
func Validate(cat *catalog.Catalog, in Input) (Spec, error) {
	if _, ok := cat.Measure(in.Measure); !ok {
		return Spec{}, invalid("measure", "measure not allowed: %q", in.Measure)
	}

	dims := make([]string, 0, len(in.Dimensions))
	seen := make(map[string]struct{}, len(in.Dimensions))
	for _, d := range in.Dimensions {
		if _, ok := cat.Dimension(d); !ok {
			return Spec{}, invalid("dimensions", "dimension not allowed: %q", d)
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		dims = append(dims, d)
	}
	if len(dims) > MaxDimensions {
		return Spec{}, invalid("dimensions", "max %d dimensions per query", MaxDimensions)
	}

	grain := catalog.Grain(in.Grain)
	if grain == "" {
		grain = catalog.DefaultGrain
	}
	if !cat.HasGrain(grain) {
		return Spec{}, invalid("grain", "grain not allowed: %q", in.Grain)
	}

	if len(in.From) < MinDateLength {
		return Spec{}, invalid("from", "dates must be ISO formatted (e.g. 2024-01-01)")
	}
	if len(in.To) < MinDateLength {
		return Spec{}, invalid("to", "dates must be ISO formatted (e.g. 2024-01-01)")
	}

	filters := make([]FilterSpec, 0, len(in.Filters))
	for i, f := range in.Filters {
		fs, err := validateFilter(cat, i, f)
		if err != nil {
			return Spec{}, err
		}
		filters = append(filters, fs)
	}

	return Spec{
		Measure:    in.Measure,
		Dimensions: dims,
		Grain:      grain,
		DateFrom:   in.From,
		DateTo:     in.To,
		Filters:    filters,
	}, nil
}

func validateFilter(cat *catalog.Catalog, i int, f FilterInput) (FilterSpec, error) {
	field := func(name string) string {
		return "filters[" + strconv.Itoa(i) + "]." + name
	}

	if _, ok := cat.Dimension(f.Dimension); !ok {
		return FilterSpec{}, invalid(field("dimension"), "dimension not allowed: %q", f.Dimension)
	}
	if f.Dimension == catalog.BucketKey {
		return FilterSpec{}, invalid(field("dimension"), "cannot filter on %q", catalog.BucketKey)
	}

	op := Operator(f.Operator)
	if op == "" {
		op = OpEquals
	}
	if !op.valid() {
		return FilterSpec{}, invalid(field("operator"), "operator must be one of: equals, notEquals, contains")
	}

	values := make([]string, 0, len(f.Values))
	for _, v := range f.Values {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return FilterSpec{}, invalid(field("values"), "filter needs at least one non-empty value")
	}

	return FilterSpec{Dimension: f.Dimension, Operator: op, Values: values}, nil
}
