package query

import (
	"errors"
	"testing"

	"github.com/storepulse/pulsegate/internal/catalog"
	"github.com/storepulse/pulsegate/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustSpec(t *testing.T, in Input) Spec {
	t.Helper()
	spec, err := Validate(catalog.Default(), in)
	require.NoError(t, err)
	return spec
}

func storeFilters(q CompiledQuery) []CompiledFilter {
	var out []CompiledFilter
	for _, f := range q.Filters {
		if f.Dimension == "Sales.store" {
			out = append(out, f)
		}
	}
	return out
}

func TestCompile_ScopedRevenueByStoreAndChannel(t *testing.T) {
	c := NewCompiler(catalog.Default(), 0)
	q, err := c.Compile(mustSpec(t, baseInput()), tenant.New(2, 1))
	require.NoError(t, err)

	assert.Equal(t, []string{"Sales.revenue"}, q.Measures)
	assert.Equal(t, []string{"Sales.store", "Sales.channel"}, q.Dimensions)
	assert.Equal(t, []CompiledFilter{
		{Dimension: "Sales.store", Operator: OpEquals, Values: []string{"1", "2"}},
	}, q.Filters)
	require.Len(t, q.TimeDimensions, 1)
	assert.Equal(t, TimeDimension{
		Dimension:   "Sales.createdAt",
		DateRange:   [2]string{"2024-01-01", "2024-01-31"},
		Granularity: catalog.GrainDay,
	}, q.TimeDimensions[0])
	assert.Equal(t, DefaultLimit, q.Limit)
}

func TestCompile_ScopeFilterIsLastAndUnique(t *testing.T) {
	in := baseInput()
	in.Filters = []FilterInput{
		{Dimension: "channel", Values: []string{"ifood"}},
		{Dimension: "store", Operator: "notEquals", Values: []string{"3"}},
	}
	c := NewCompiler(catalog.Default(), 100)

	scopes := []tenant.Scope{tenant.New(7), tenant.New(3, 1, 2), tenant.New(10, 20, 30, 40)}
	for _, s := range scopes {
		q, err := c.Compile(mustSpec(t, in), s)
		require.NoError(t, err)

		require.Len(t, q.Filters, 3)
		last := q.Filters[len(q.Filters)-1]
		assert.Equal(t, "Sales.store", last.Dimension)
		assert.Equal(t, OpEquals, last.Operator)
		assert.Equal(t, s.Strings(), last.Values)

		equalsOnStore := 0
		for _, f := range storeFilters(q) {
			if f.Operator == OpEquals {
				equalsOnStore++
			}
		}
		assert.Equal(t, 1, equalsOnStore)
		assert.Equal(t, 100, q.Limit)
	}
}

func TestCompile_UnrestrictedAddsNoScopeFilter(t *testing.T) {
	in := baseInput()
	in.Filters = []FilterInput{{Dimension: "channel", Values: []string{"ifood", "app"}}}

	q, err := NewCompiler(catalog.Default(), 0).Compile(mustSpec(t, in), tenant.Unrestricted())
	require.NoError(t, err)

	assert.Empty(t, storeFilters(q))
	assert.Equal(t, []CompiledFilter{
		{Dimension: "Sales.channel", Operator: OpEquals, Values: []string{"ifood", "app"}},
	}, q.Filters)
}

func TestCompile_BucketNeverLeaks(t *testing.T) {
	grains := []string{"hour", "day", "week", "month"}
	for _, g := range grains {
		in := baseInput()
		in.Grain = g
		in.Dimensions = []string{"bucket", "channel"}

		q, err := NewCompiler(catalog.Default(), 0).Compile(mustSpec(t, in), tenant.New(1))
		require.NoError(t, err)

		assert.Equal(t, []string{"Sales.channel"}, q.Dimensions)
		assert.NotContains(t, q.Dimensions, "Sales.createdAt")
		assert.Equal(t, catalog.Grain(g), q.TimeDimensions[0].Granularity)
		assert.Equal(t, [2]string{in.From, in.To}, q.TimeDimensions[0].DateRange)
	}
}

func TestCompile_EmptyListsAreNotNil(t *testing.T) {
	in := baseInput()
	in.Dimensions = nil

	q, err := NewCompiler(catalog.Default(), 0).Compile(mustSpec(t, in), tenant.Unrestricted())
	require.NoError(t, err)
	assert.NotNil(t, q.Dimensions)
	assert.NotNil(t, q.Filters)
}

func TestCompile_DateError(t *testing.T) {
	in := baseInput()
	in.To = "2024-13-45"

	_, err := NewCompiler(catalog.Default(), 0).Compile(mustSpec(t, in), tenant.Unrestricted())
	var de *DateError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "to", de.Field)
}

func TestCompile_AcceptsTimestamps(t *testing.T) {
	in := baseInput()
	in.From = "2024-01-01T00:00:00"

	q, err := NewCompiler(catalog.Default(), 0).Compile(mustSpec(t, in), tenant.Unrestricted())
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01T00:00:00", q.TimeDimensions[0].DateRange[0])
}

func TestCompile_InvariantViolations(t *testing.T) {
	c := NewCompiler(catalog.Default(), 0)
	good := mustSpec(t, baseInput())

	tests := []struct {
		name   string
		mutate func(*Spec)
	}{
		{"unknown grain", func(s *Spec) { s.Grain = "year" }},
		{"unknown measure", func(s *Spec) { s.Measure = "profit" }},
		{"unknown dimension", func(s *Spec) { s.Dimensions = []string{"region"} }},
		{"bucket filter", func(s *Spec) {
			s.Filters = []FilterSpec{{Dimension: "bucket", Operator: OpEquals, Values: []string{"x"}}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := good
			tt.mutate(&spec)
			_, err := c.Compile(spec, tenant.Unrestricted())
			var ie *InvariantError
			assert.True(t, errors.As(err, &ie), "expected InvariantError, got %v", err)
		})
	}
}
