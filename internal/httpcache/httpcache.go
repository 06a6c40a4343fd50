// Package httpcache serves JSON payloads with content fingerprints and
// conditional-request handling.
package httpcache

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/storepulse/pulsegate/internal/metrics"
)

// Defaults for Cache-Control when configuration leaves them unset
const (
	DefaultMaxAge               = 60
	DefaultStaleWhileRevalidate = 300
)

// Serialize renders payload as canonical JSON: object keys sorted, compact,
// HTML characters left unescaped. Equal logical content always yields equal
// bytes regardless of map insertion order or struct field order.
func Serialize(payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	// round trip through generic values so struct fields sort like map keys
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("normalize payload: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, fmt.Errorf("encode canonical payload: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Fingerprint is the hex MD5 of body. It validates caches; it is not a
// security primitive.
func Fingerprint(body []byte) string {
	sum := md5.Sum(body)
	return hex.EncodeToString(sum[:])
}

// Options override the responder defaults for one response
type Options struct {
	MaxAge               *int
	StaleWhileRevalidate *int
	// Public drops Vary: Authorization for payloads identical for every caller
	Public bool
}

// Seconds is a convenience for filling Options
func Seconds(n int) *int {
	return &n
}

// Responder writes cacheable JSON responses
type Responder struct {
	maxAge  int
	swr     int
	metrics *metrics.Metrics
}

// NewResponder creates a responder with default directive values. Negative
// values select the package defaults. m may be nil.
func NewResponder(maxAge, swr int, m *metrics.Metrics) *Responder {
	if maxAge < 0 {
		maxAge = DefaultMaxAge
	}
	if swr < 0 {
		swr = DefaultStaleWhileRevalidate
	}
	return &Responder{maxAge: maxAge, swr: swr, metrics: m}
}

// CacheControl renders the Cache-Control value for opts
func (r *Responder) CacheControl(opts Options) string {
	maxAge, swr := r.maxAge, r.swr
	if opts.MaxAge != nil {
		maxAge = *opts.MaxAge
	}
	if opts.StaleWhileRevalidate != nil {
		swr = *opts.StaleWhileRevalidate
	}
	return fmt.Sprintf("max-age=%d, stale-while-revalidate=%d", maxAge, swr)
}

// Respond writes payload with ETag, Cache-Control and Vary headers. When the
// request's If-None-Match equals the fingerprint exactly, it writes an empty
// 304 carrying the same headers instead.
func (r *Responder) Respond(c *fiber.Ctx, payload interface{}, opts Options) error {
	body, err := Serialize(payload)
	if err != nil {
		return err
	}
	etag := Fingerprint(body)

	c.Set(fiber.HeaderETag, etag)
	c.Set(fiber.HeaderCacheControl, r.CacheControl(opts))
	if !opts.Public {
		c.Set(fiber.HeaderVary, fiber.HeaderAuthorization)
	}

	if inm := c.Get(fiber.HeaderIfNoneMatch); inm != "" && inm == etag {
		r.count("not_modified")
		c.Status(http.StatusNotModified)
		return nil
	}

	r.count("full")
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSONCharsetUTF8)
	return c.Status(http.StatusOK).Send(body)
}

func (r *Responder) count(result string) {
	if r.metrics != nil {
		r.metrics.ConditionalResponses.WithLabelValues(result).Inc()
	}
}
