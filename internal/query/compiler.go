package query

import (
	"time"

	"github.com/storepulse/pulsegate/internal/catalog"
	"github.com/storepulse/pulsegate/internal/tenant"
)

// DefaultLimit is the row cap put on every compiled query
const DefaultLimit = 5000

const isoDate = "2006-01-02"

// TimeDimension is the single time bucketing entry of a compiled query
type TimeDimension struct {
	Dimension   string        `json:"dimension"`
	DateRange   [2]string     `json:"dateRange"`
	Granularity catalog.Grain `json:"granularity"`
}

// CompiledFilter is a filter expressed in upstream fields
type CompiledFilter struct {
	Dimension string   `json:"dimension"`
	Operator  Operator `json:"operator"`
	Values    []string `json:"values"`
}

// CompiledQuery is the payload sent to the aggregation service's load endpoint
type CompiledQuery struct {
	Measures       []string         `json:"measures"`
	Dimensions     []string         `json:"dimensions"`
	TimeDimensions []TimeDimension  `json:"timeDimensions"`
	Filters        []CompiledFilter `json:"filters"`
	Limit          int              `json:"limit"`
}

// Compiler translates validated specs into upstream queries
type Compiler struct {
	catalog *catalog.Catalog
	limit   int
}

// NewCompiler creates a compiler. A non-positive limit selects DefaultLimit.
func NewCompiler(cat *catalog.Catalog, limit int) *Compiler {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Compiler{catalog: cat, limit: limit}
}

// Compile builds the upstream query for spec under scope. When scope is
// restricted, an equals filter on the store field holding every scoped store
// is appended after the caller's filters.
func (c *Compiler) Compile(spec Spec, scope tenant.Scope) (CompiledQuery, error) {
	if !c.catalog.HasGrain(spec.Grain) {
		return CompiledQuery{}, &InvariantError{Reason: "grain " + string(spec.Grain) + " is not in the catalog"}
	}

	measure, ok := c.catalog.Measure(spec.Measure)
	if !ok {
		return CompiledQuery{}, &InvariantError{Reason: "measure " + spec.Measure + " is not in the catalog"}
	}

	if err := checkDate("from", spec.DateFrom); err != nil {
		return CompiledQuery{}, err
	}
	if err := checkDate("to", spec.DateTo); err != nil {
		return CompiledQuery{}, err
	}

	// bucket is expressed only through the time dimension
	dims := make([]string, 0, len(spec.Dimensions))
	for _, d := range spec.Dimensions {
		if d == catalog.BucketKey {
			continue
		}
		field, ok := c.catalog.Dimension(d)
		if !ok {
			return CompiledQuery{}, &InvariantError{Reason: "dimension " + d + " is not in the catalog"}
		}
		dims = append(dims, field)
	}

	filters := make([]CompiledFilter, 0, len(spec.Filters)+1)
	for _, f := range spec.Filters {
		field, ok := c.catalog.Dimension(f.Dimension)
		if !ok || f.Dimension == catalog.BucketKey {
			return CompiledQuery{}, &InvariantError{Reason: "filter on " + f.Dimension + " is not allowed"}
		}
		filters = append(filters, CompiledFilter{
			Dimension: field,
			Operator:  f.Operator,
			Values:    append([]string{}, f.Values...),
		})
	}

	if !scope.IsUnrestricted() {
		filters = append(filters, CompiledFilter{
			Dimension: c.catalog.StoreField(),
			Operator:  OpEquals,
			Values:    scope.Strings(),
		})
	}

	return CompiledQuery{
		Measures:   []string{measure},
		Dimensions: dims,
		TimeDimensions: []TimeDimension{{
			Dimension:   c.catalog.TimeDimension(),
			DateRange:   [2]string{spec.DateFrom, spec.DateTo},
			Granularity: spec.Grain,
		}},
		Filters: filters,
		Limit:   c.limit,
	}, nil
}

// checkDate parses the calendar date prefix; any time-of-day suffix is left
// to the upstream service.
func checkDate(field, value string) error {
	if len(value) < MinDateLength {
		return &DateError{Field: field, Value: value}
	}
	if _, err := time.Parse(isoDate, value[:MinDateLength]); err != nil {
		return &DateError{Field: field, Value: value, Err: err}
	}
	return nil
}
