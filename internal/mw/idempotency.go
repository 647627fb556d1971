package mw

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
)

// IdempotencyKeyHeader is the client-supplied replay token.
const IdempotencyKeyHeader = "X-Idempotency-Key"

const maxIdempotencyKeyLength = 255

type storedResponse struct {
	status  int
	headers http.Header
	body    []byte
}

type bodyCaptureWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w bodyCaptureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w bodyCaptureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency replays the stored response for a repeated X-Idempotency-Key
// instead of re-executing the handler. Only successful responses are stored;
// a failed attempt may be retried with the same key. Requests without the
// header pass through untouched. This is a transport decorator: the
// reservation engine itself knows nothing about idempotency keys.
func Idempotency(store *cache.Cache, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyKeyHeader)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxIdempotencyKeyLength {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "idempotency key must be less than 255 characters",
			})
			return
		}

		// Scope the key to the route so one key cannot replay a different
		// endpoint's response.
		storeKey := c.Request.Method + " " + c.FullPath() + " " + key
		if v, found := store.Get(storeKey); found {
			stored := v.(storedResponse)
			for k, vals := range stored.headers {
				c.Writer.Header()[k] = vals
			}
			c.Writer.WriteHeader(stored.status)
			c.Writer.Write(stored.body)
			c.Abort()
			return
		}

		bcw := &bodyCaptureWriter{body: bytes.NewBuffer(nil), ResponseWriter: c.Writer}
		c.Writer = bcw

		c.Next()

		if bcw.Status() >= 200 && bcw.Status() < 300 {
			store.Set(storeKey, storedResponse{
				status:  bcw.Status(),
				headers: bcw.Header().Clone(),
				body:    bcw.body.Bytes(),
			}, ttl)
		}
	}
}
