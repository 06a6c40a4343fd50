package models

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/storepulse/pulsegate/internal/query"
)

// AnalyticsQuery represents the parsed analytics input
type AnalyticsQuery struct {
	Input      query.Input
	Stores     []int
	ShareToken string
}

// ParseAnalyticsQuery reads an analytics request from the query string.
// dimensions and stores may be comma-separated, repeated, or both; filters is
// a JSON array.
func ParseAnalyticsQuery(c *fiber.Ctx) (*AnalyticsQuery, error) {
	q := &AnalyticsQuery{
		Input: query.Input{
			Measure:    c.Query("measure"),
			Dimensions: listParam(c, "dimensions"),
			Grain:      c.Query("grain"),
			From:       c.Query("from"),
			To:         c.Query("to"),
		},
		ShareToken: c.Query("share_token"),
	}

	if raw := c.Query("filters"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &q.Input.Filters); err != nil {
			return nil, fiber.NewError(fiber.StatusBadRequest, "filters must be a JSON array of {dimension, operator, values}")
		}
	}

	for _, s := range listParam(c, "stores") {
		id, err := strconv.Atoi(s)
		if err != nil {
			return nil, fiber.NewError(fiber.StatusBadRequest, "stores must be integers")
		}
		q.Stores = append(q.Stores, id)
	}

	return q, nil
}

// listParam collects every value of a repeated, comma-separated parameter
func listParam(c *fiber.Ctx, name string) []string {
	var out []string
	for _, raw := range c.Context().QueryArgs().PeekMulti(name) {
		for _, part := range strings.Split(string(raw), ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
