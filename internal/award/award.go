// Package award hands achievement awards to the external issuer.
//
// Issuance is fire-and-forget relative to the ledger: the achievement is
// already durably awarded before an Event is enqueued, so a failed or slow
// issuer never affects settlement and can be retried without double-awarding.
package award

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/wsacademy/ledger-engine/internal/model"
)

// ErrIssuance is returned when the issuer did not accept an award.
var ErrIssuance = errors.New("award: issuance failed")

// Event is one awarded achievement to be issued.
type Event struct {
	UserID    string                `json:"user_id"`
	Kind      model.AchievementKind `json:"achievement"`
	AwardedAt time.Time             `json:"awarded_at"`
}

// Issuer mints or records an award and returns the issuer's reference
// (a transaction hash, receipt ID, ...).
type Issuer interface {
	Issue(ctx context.Context, ev Event) (string, error)
}

// LogIssuer only logs awards. Used when no webhook is configured.
type LogIssuer struct{}

func (LogIssuer) Issue(_ context.Context, ev Event) (string, error) {
	ref := "log-" + uuid.NewString()
	slog.Info("award issued", "user_id", ev.UserID, "kind", ev.Kind, "ref", ref)
	return ref, nil
}

// HTTPIssuer posts each award as JSON to a webhook. Any 2xx response is
// success; the reference is taken from the "tx_hash" or "ref" field of the
// response body when present.
type HTTPIssuer struct {
	URL    string
	Client *http.Client
}

// NewHTTPIssuer creates a webhook issuer with a bounded client timeout.
func NewHTTPIssuer(url string) *HTTPIssuer {
	return &HTTPIssuer{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (h *HTTPIssuer) Issue(ctx context.Context, ev Event) (string, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("%w: encode event: %v", ErrIssuance, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrIssuance, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", ev.UserID+"/"+string(ev.Kind))

	resp, err := h.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrIssuance, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: webhook returned %d: %s", ErrIssuance, resp.StatusCode, bytes.TrimSpace(raw))
	}

	var out struct {
		TxHash string `json:"tx_hash"`
		Ref    string `json:"ref"`
	}
	_ = json.Unmarshal(raw, &out)
	switch {
	case out.TxHash != "":
		return out.TxHash, nil
	case out.Ref != "":
		return out.Ref, nil
	default:
		return "webhook-" + uuid.NewString(), nil
	}
}
