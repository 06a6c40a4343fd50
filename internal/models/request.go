package models

import (
	"encoding/json"

	"github.com/storepulse/pulsegate/internal/query"
)

// AnalyticsBody is the JSON body of POST /analytics
type AnalyticsBody struct {
	Measure    string              `json:"measure"`
	Dimensions []string            `json:"dimensions"`
	Grain      string              `json:"grain"`
	From       string              `json:"from"`
	To         string              `json:"to"`
	Filters    []query.FilterInput `json:"filters"`
	Stores     []int               `json:"stores"`
	ShareToken string              `json:"share_token"`
}

// ToRequest converts the body to an analytics request
func (b AnalyticsBody) ToRequest() *AnalyticsQuery {
	return &AnalyticsQuery{
		Input: query.Input{
			Measure:    b.Measure,
			Dimensions: b.Dimensions,
			Grain:      b.Grain,
			From:       b.From,
			To:         b.To,
			Filters:    b.Filters,
		},
		Stores:     b.Stores,
		ShareToken: b.ShareToken,
	}
}

// ShareCreateRequest is the JSON body of POST /share
type ShareCreateRequest struct {
	Query  json.RawMessage `json:"q"`
	Stores []int           `json:"stores,omitempty"`
}
