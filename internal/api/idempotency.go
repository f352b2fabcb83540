package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"spacehire/internal/apperr"
)

const idempotencyHeader = "Idempotency-Key"

// idempotencyRecord is stored under the key. Status 0 marks a request still
// being handled.
type idempotencyRecord struct {
	RequestHash string `json:"request_hash"`
	Status      int    `json:"status"`
	Body        []byte `json:"body,omitempty"`
}

// Idempotency replays responses of mutating requests that carry an
// Idempotency-Key header. Keys are scoped to the caller.
type Idempotency struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func NewIdempotency(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *Idempotency {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Idempotency{client: client, ttl: ttl, logger: logger.With().Str("component", "idempotency").Logger()}
}

func requestHash(r *http.Request, body []byte, userID int64) string {
	h := sha256.New()
	h.Write([]byte(r.Method + ":" + r.URL.Path + ":" + strconv.FormatInt(userID, 10) + ":"))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// captureWriter records the status and body written by a handler.
type captureWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (c *captureWriter) WriteHeader(status int) {
	if c.status == 0 {
		c.status = status
	}
	c.ResponseWriter.WriteHeader(status)
}

func (c *captureWriter) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.buf.Write(b)
	return c.ResponseWriter.Write(b)
}

// Wrap must run after authentication. Without a header the request passes
// through. A reused key with a different request is a conflict, as is a
// reuse while the first request is still running. Server errors are not
// remembered so the client can retry with the same key.
func (i *Idempotency) Wrap(next httprouter.Handle) httprouter.Handle {
	if i == nil || i.client == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		key := r.Header.Get(idempotencyHeader)
		if key == "" {
			next(w, r, ps)
			return
		}
		if len(key) > 255 {
			writeError(w, apperr.Validation("%s is too long", idempotencyHeader))
			return
		}

		actor := actorFrom(r.Context())
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, apperr.Validation("cannot read request body"))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		ctx := r.Context()
		redisKey := "idem:" + strconv.FormatInt(actor.UserID, 10) + ":" + key
		hash := requestHash(r, body, actor.UserID)
		placeholder, _ := json.Marshal(idempotencyRecord{RequestHash: hash})

		ok, err := i.client.SetNX(ctx, redisKey, placeholder, i.ttl).Result()
		if err != nil {
			i.logger.Error().Err(err).Msg("idempotency store unavailable")
			writeError(w, apperr.Dependency(err, "idempotency store unavailable"))
			return
		}
		if ok {
			cw := &captureWriter{ResponseWriter: w}
			next(cw, r, ps)
			i.remember(r, redisKey, hash, cw)
			return
		}

		raw, err := i.client.Get(ctx, redisKey).Bytes()
		if errors.Is(err, redis.Nil) {
			writeError(w, apperr.Conflict("", "idempotent request expired, retry"))
			return
		}
		if err != nil {
			writeError(w, apperr.Dependency(err, "idempotency store unavailable"))
			return
		}
		var rec idempotencyRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			writeError(w, apperr.Internal(err, "decode idempotency record"))
			return
		}
		switch {
		case rec.RequestHash != hash:
			writeError(w, apperr.Conflict("", "%s was used for a different request", idempotencyHeader))
		case rec.Status == 0:
			writeError(w, apperr.Conflict("", "a request with this %s is in progress", idempotencyHeader))
		default:
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotent-Replayed", "true")
			w.WriteHeader(rec.Status)
			_, _ = w.Write(rec.Body)
		}
	}
}

func (i *Idempotency) remember(r *http.Request, redisKey, hash string, cw *captureWriter) {
	// The request context may already be cancelled by the client.
	ctx := r.Context()
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	if cw.status == 0 || cw.status >= http.StatusInternalServerError {
		if err := i.client.Del(ctx, redisKey).Err(); err != nil {
			i.logger.Warn().Err(err).Str("key", redisKey).Msg("failed to release idempotency key")
		}
		return
	}
	raw, _ := json.Marshal(idempotencyRecord{RequestHash: hash, Status: cw.status, Body: cw.buf.Bytes()})
	if err := i.client.Set(ctx, redisKey, raw, i.ttl).Err(); err != nil {
		i.logger.Warn().Err(err).Str("key", redisKey).Msg("failed to store idempotent response")
	}
}
