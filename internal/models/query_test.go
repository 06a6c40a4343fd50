package models

import (
	"encoding/json"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/storepulse/pulsegate/internal/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, rawQuery string) (*AnalyticsQuery, error) {
	t.Helper()
	var (
		got    *AnalyticsQuery
		gotErr error
	)
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		got, gotErr = ParseAnalyticsQuery(c)
		return c.SendStatus(fiber.StatusNoContent)
	})
	resp, err := app.Test(httptest.NewRequest("GET", "/?"+rawQuery, nil))
	require.NoError(t, err)
	_ = resp.Body.Close()
	return got, gotErr
}

func TestParseAnalyticsQuery(t *testing.T) {
	filters := `[{"dimension":"channel","operator":"equals","values":["ifood"]}]`
	v := url.Values{}
	v.Set("measure", "revenue")
	v.Add("dimensions", "store, channel")
	v.Add("dimensions", "city")
	v.Set("grain", "week")
	v.Set("from", "2024-01-01")
	v.Set("to", "2024-01-31")
	v.Set("filters", filters)
	v.Set("stores", "1,2")
	v.Set("share_token", "tok")

	q, err := parse(t, v.Encode())
	require.NoError(t, err)

	assert.Equal(t, "revenue", q.Input.Measure)
	assert.Equal(t, []string{"store", "channel", "city"}, q.Input.Dimensions)
	assert.Equal(t, "week", q.Input.Grain)
	assert.Equal(t, []query.FilterInput{{Dimension: "channel", Operator: "equals", Values: []string{"ifood"}}}, q.Input.Filters)
	assert.Equal(t, []int{1, 2}, q.Stores)
	assert.Equal(t, "tok", q.ShareToken)
}

func TestParseAnalyticsQuery_Errors(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"filters not json", "filters=" + url.QueryEscape("{bad")},
		{"stores not integers", "stores=a,b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(t, tt.query)
			var fe *fiber.Error
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, fiber.StatusBadRequest, fe.Code)
		})
	}
}

func TestAnalyticsBody_ToRequest(t *testing.T) {
	var body AnalyticsBody
	require.NoError(t, json.Unmarshal([]byte(`{
		"measure":"orders","dimensions":["store"],"from":"2024-01-01","to":"2024-01-02",
		"stores":[3],"share_token":"abc"}`), &body))

	q := body.ToRequest()
	assert.Equal(t, "orders", q.Input.Measure)
	assert.Equal(t, []int{3}, q.Stores)
	assert.Equal(t, "abc", q.ShareToken)
}
