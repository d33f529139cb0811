// Package webhook implements the inbound Asana webhook endpoint: the
// one-time handshake that persists the signing secret, and signature
// verification of subsequent event deliveries.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"sheetrelay/internal"
	"sheetrelay/pkg/asana"
	"sheetrelay/pkg/queue"
)

const (
	secretHeader    = "X-Hook-Secret"
	signatureHeader = "X-Hook-Signature"
	idHeader        = "X-Hook-Id"
)

// SecretStore is the slice of the secret store the handler needs.
type SecretStore interface {
	Upsert(ctx context.Context, spreadsheetID, webhookID, secret string) error
	ListSecrets(ctx context.Context, spreadsheetID string) ([]string, error)
}

// Publisher hands verified events to the relay worker.
type Publisher interface {
	Publish(ctx context.Context, topic string, event internal.Event) error
}

// AsanaHandler serves POST <webhook path>?sheetId=<spreadsheet id>.
type AsanaHandler struct {
	secrets   SecretStore
	writes    *queue.Queue
	publisher Publisher
	topic     string
	logger    *log.Logger
	maxBody   int64
	now       func() time.Time
}

func NewAsanaHandler(secrets SecretStore, writes *queue.Queue, publisher Publisher, topic string, maxBody int64, logger *log.Logger) *AsanaHandler {
	if logger == nil {
		logger = log.Default()
	}
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &AsanaHandler{
		secrets:   secrets,
		writes:    writes,
		publisher: publisher,
		topic:     topic,
		logger:    logger,
		maxBody:   maxBody,
		now:       time.Now,
	}
}

func (h *AsanaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	rawBody, err := io.ReadAll(io.LimitReader(r.Body, h.maxBody))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	sheetID := strings.TrimSpace(r.URL.Query().Get("sheetId"))

	if secret := r.Header.Get(secretHeader); secret != "" {
		internal.IncRequest("handshake")
		h.handshake(w, r, sheetID, secret, rawBody)
		return
	}

	if signature := r.Header.Get(signatureHeader); signature != "" {
		internal.IncRequest("event")
		h.delivery(w, r, sheetID, signature, rawBody)
		return
	}

	internal.IncRequest("bad")
	w.WriteHeader(http.StatusBadRequest)
}

// handshake persists the proposed secret, then echoes it. Persistence is
// awaited before the response goes out; once the handler returns, the
// platform may stop any background work. The echo happens even when
// persistence failed, otherwise Asana never activates the webhook and the
// log is the only recovery path.
func (h *AsanaHandler) handshake(w http.ResponseWriter, r *http.Request, sheetID, secret string, rawBody []byte) {
	if sheetID == "" {
		h.logger.Printf("handshake without sheetId, secret not persisted")
		internal.IncHandshake("skipped")
		w.Header().Set(secretHeader, secret)
		writeJSON(w, http.StatusOK, map[string]any{"status": "accepted", "persisted": false})
		return
	}

	webhookID := h.resolveWebhookID(r, rawBody)
	err := h.writes.Do(r.Context(), func(ctx context.Context) error {
		return h.secrets.Upsert(ctx, sheetID, webhookID, secret)
	})
	if err != nil {
		h.logger.Printf("handshake persist failed for webhook %s: %v", webhookID, err)
		internal.IncHandshake("persist_failed")
	} else {
		internal.IncHandshake("ok")
	}

	w.Header().Set(secretHeader, secret)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// delivery verifies the payload signature against every stored secret and
// publishes the contained events. The response does not wait for
// reconciliation.
func (h *AsanaHandler) delivery(w http.ResponseWriter, r *http.Request, sheetID, signature string, rawBody []byte) {
	if sheetID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	secrets, err := h.secrets.ListSecrets(r.Context(), sheetID)
	if err != nil {
		h.logger.Printf("secret lookup failed: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if !verifySignature(rawBody, signature, secrets) {
		internal.IncSignatureReject()
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var delivery asana.Delivery
	if err := json.Unmarshal(rawBody, &delivery); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	received := h.now().UTC()
	for _, event := range delivery.Events {
		envelope := internal.Event{
			SpreadsheetID: sheetID,
			Action:        event.Action,
			ResourceType:  event.Resource.ResourceType,
			ResourceGID:   event.Resource.GID,
			ReceivedAt:    received,
		}
		if err := h.publisher.Publish(r.Context(), h.topic, envelope); err != nil {
			h.logger.Printf("publish event failed: %v", err)
		}
	}

	w.WriteHeader(http.StatusOK)
}

// verifySignature checks the HMAC-SHA256 of the raw body against every
// stored secret. Secrets rotate per webhook and one spreadsheet may back
// several webhooks, so which secret signed a payload is unknowable up
// front; any match accepts.
func verifySignature(body []byte, signature string, secrets []string) bool {
	for _, secret := range secrets {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		computed := hex.EncodeToString(mac.Sum(nil))
		if hmac.Equal([]byte(computed), []byte(signature)) {
			return true
		}
	}
	return false
}

// resolveWebhookID finds a stable identifier for the handshaking webhook:
// explicit header, then query parameter, then the delivery body, then a
// synthesized fallback.
func (h *AsanaHandler) resolveWebhookID(r *http.Request, rawBody []byte) string {
	if id := strings.TrimSpace(r.Header.Get(idHeader)); id != "" {
		return id
	}
	if id := strings.TrimSpace(r.URL.Query().Get("webhookId")); id != "" {
		return id
	}

	var body struct {
		Data struct {
			ID  string `json:"id"`
			GID string `json:"gid"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &body); err == nil {
		if body.Data.ID != "" {
			return body.Data.ID
		}
		if body.Data.GID != "" {
			return body.Data.GID
		}
	}

	return fmt.Sprintf("generated-%d", h.now().Unix())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
