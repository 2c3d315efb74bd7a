package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"

	pendingMarker = "pending"
	keyPrefix     = "ledger:idempotency:"
)

// Idempotency caches the first response for each Idempotency-Key in Redis
// and replays it for repeated requests. The key is reserved with SETNX
// before the handler runs, so a duplicate arriving mid-flight gets 409.
type Idempotency struct {
	client redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

// NewIdempotency keeps reservations and cached responses for ttl.
func NewIdempotency(client redis.Cmdable, ttl time.Duration, logger *zap.Logger) *Idempotency {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Idempotency{client: client, ttl: ttl, logger: logger}
}

type cachedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// Middleware applies to requests carrying an Idempotency-Key header and
// passes the rest straight to next.
func (i *Idempotency) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idemKey := r.Header.Get(HeaderIdempotencyKey)
		if idemKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		key := keyPrefix + r.Method + ":" + r.URL.Path + ":" + idemKey
		ctx := r.Context()

		reserved, err := i.client.SetNX(ctx, key, pendingMarker, i.ttl).Result()
		if err != nil {
			i.logger.Error("idempotency reservation failed", zap.String("key", key), zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "idempotency store unavailable"})
			return
		}
		if !reserved {
			i.replay(ctx, w, key)
			return
		}

		buf := &bufferedWriter{header: w.Header(), status: http.StatusOK}
		next.ServeHTTP(buf, r)

		// The outcome is stored even if the client has gone away.
		storeCtx := context.WithoutCancel(ctx)
		if releasable(buf.status) {
			if err := i.client.Del(storeCtx, key).Err(); err != nil {
				i.logger.Warn("failed to release idempotency key", zap.String("key", key), zap.Error(err))
			}
		} else {
			cached, _ := json.Marshal(cachedResponse{
				Status:      buf.status,
				ContentType: w.Header().Get("Content-Type"),
				Body:        buf.body.Bytes(),
			})
			if err := i.client.Set(storeCtx, key, cached, i.ttl).Err(); err != nil {
				i.logger.Warn("failed to cache idempotent response", zap.String("key", key), zap.Error(err))
			}
		}

		w.WriteHeader(buf.status)
		_, _ = w.Write(buf.body.Bytes())
	})
}

func (i *Idempotency) replay(ctx context.Context, w http.ResponseWriter, key string) {
	raw, err := i.client.Get(ctx, key).Result()
	switch {
	case errors.Is(err, redis.Nil), err == nil && raw == pendingMarker:
		writeJSON(w, http.StatusConflict, errorResponse{Error: "a request with this Idempotency-Key is in progress"})
		return
	case err != nil:
		i.logger.Error("idempotency lookup failed", zap.String("key", key), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "idempotency store unavailable"})
		return
	}

	var cached cachedResponse
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		i.logger.Error("corrupt idempotency record", zap.String("key", key), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: http.StatusText(http.StatusInternalServerError)})
		return
	}

	if cached.ContentType != "" {
		w.Header().Set("Content-Type", cached.ContentType)
	}
	w.Header().Set(HeaderReplayed, "true")
	w.WriteHeader(cached.Status)
	_, _ = w.Write(cached.Body)
}

// releasable reports whether an outcome may change on retry, in which case the
// key is freed instead of caching the response.
func releasable(status int) bool {
	return status >= http.StatusInternalServerError ||
		status == http.StatusConflict ||
		status == StatusClientClosedRequest
}

// bufferedWriter holds the response until it has been cached.
type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(status int) { b.status = status }

func (b *bufferedWriter) Write(p []byte) (int, error) { return b.body.Write(p) }
