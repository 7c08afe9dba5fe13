package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"

	"github.com/dukerupert/kasse/internal/domain"
	"github.com/dukerupert/kasse/internal/idempotency"
	"github.com/dukerupert/kasse/internal/tenant"
	"github.com/google/uuid"
)

const (
	// IdempotencyKeyHeader is the client-chosen key for a retryable POST.
	IdempotencyKeyHeader = "Idempotency-Key"

	// IdempotentReplayHeader marks a response served from the store.
	IdempotentReplayHeader = "Idempotent-Replayed"

	maxIdempotencyKeyLength = 255
)

// IdempotencyStore is the slice of idempotency.Store the middleware uses.
type IdempotencyStore interface {
	Begin(ctx context.Context, tenantID uuid.UUID, key, fingerprint string) (*idempotency.Response, error)
	Complete(ctx context.Context, tenantID uuid.UUID, key, fingerprint string, resp idempotency.Response) error
	Release(ctx context.Context, tenantID uuid.UUID, key string) error
}

// Idempotency replays the stored response for a repeated Idempotency-Key,
// so a client that lost the answer to a checkout can retry without creating
// a second order. Requests without the header pass through.
//
// 5xx answers release the key so the client may retry; everything else is
// stored, including 4xx validation failures.
func Idempotency(store IdempotencyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyKeyHeader)
			t := tenant.FromContext(r.Context())
			if key == "" || t == nil {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKeyLength {
				respondBadRequest(w, r, "Idempotency-Key is too long")
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				respondTooLarge(w, r)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			fingerprint := requestFingerprint(r, body)

			stored, err := store.Begin(r.Context(), t.ID, key, fingerprint)
			if err != nil {
				respondWithError(w, r, err)
				return
			}
			if stored != nil {
				replay(w, stored)
				return
			}

			rec := &recordingWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			// The client may be gone; the outcome still has to be recorded.
			ctx := context.WithoutCancel(r.Context())
			logger := GetLogger(r.Context())
			if rec.status >= http.StatusInternalServerError {
				if err := store.Release(ctx, t.ID, key); err != nil {
					logger.WarnContext(ctx, "failed to release idempotency key", "error", err)
				}
				return
			}
			err = store.Complete(ctx, t.ID, key, fingerprint, idempotency.Response{
				Status:      rec.status,
				ContentType: rec.Header().Get("Content-Type"),
				Body:        rec.body.Bytes(),
			})
			if err != nil {
				logger.ErrorContext(ctx, "failed to store idempotent response", "error", err,
					"code", domain.ErrorCode(err))
			}
		})
	}
}

func requestFingerprint(r *http.Request, body []byte) string {
	h := sha256.New()
	io.WriteString(h, r.Method)
	io.WriteString(h, " ")
	io.WriteString(h, r.URL.Path)
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func replay(w http.ResponseWriter, resp *idempotency.Response) {
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.Header().Set(IdempotentReplayHeader, "true")
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

// recordingWriter passes the response through while keeping a copy.
type recordingWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (w *recordingWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}
