package mw

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
)

// ResponseCache replays recent successful GET responses keyed by request URI.
type ResponseCache struct {
	entries *cache.Cache
	ttl     time.Duration
}

type cacheEntry struct {
	status      int
	contentType string
	body        []byte
}

// NewResponseCache keeps responses for ttl.
func NewResponseCache(ttl time.Duration) *ResponseCache {
	return &ResponseCache{entries: cache.New(ttl, 2*ttl), ttl: ttl}
}

// Flush forgets every stored response.
func (rc *ResponseCache) Flush() {
	rc.entries.Flush()
}

// recorder tees the body into buf while it is written to the client.
type recorder struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (r *recorder) Write(b []byte) (int, error) {
	r.buf.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *recorder) WriteString(s string) (int, error) {
	r.buf.WriteString(s)
	return r.ResponseWriter.WriteString(s)
}

// Middleware serves cached entries and stores 2xx responses. X-Cache reports
// HIT or MISS.
func (rc *ResponseCache) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}
		key := c.Request.RequestURI

		if v, ok := rc.entries.Get(key); ok {
			e := v.(cacheEntry)
			c.Header("X-Cache", "HIT")
			c.Data(e.status, e.contentType, e.body)
			c.Abort()
			return
		}

		c.Header("X-Cache", "MISS")
		rec := &recorder{ResponseWriter: c.Writer}
		c.Writer = rec
		c.Next()

		if status := rec.Status(); status >= 200 && status < 300 {
			rc.entries.Set(key, cacheEntry{
				status:      status,
				contentType: rec.Header().Get("Content-Type"),
				body:        rec.buf.Bytes(),
			}, rc.ttl)
		}
	}
}
