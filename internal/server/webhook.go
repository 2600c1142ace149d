package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body
const SignatureHeader = "X-Webhook-Signature"

// EventDatafileUpdated asks the bridge to sync its datafile
const EventDatafileUpdated = "datafile.updated"

// maxWebhookBody caps webhook payloads
const maxWebhookBody = 64 * 1024

// WebhookPayload is the body of a datafile publisher notification
type WebhookPayload struct {
	Event     string `json:"event"`
	SDKKey    string `json:"sdk_key,omitempty"`
	Revision  string `json:"revision,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if s.config.WebhookSecret != "" && !VerifySignature(s.config.WebhookSecret, body, r.Header.Get(SignatureHeader)) {
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	switch payload.Event {
	case EventDatafileUpdated:
		if payload.SDKKey != "" {
			stats, ok := s.bridge.Stats()
			if !ok || stats.SDKKey != payload.SDKKey {
				s.logger.Debug("ignoring datafile update for another sdk key", "sdk_key", payload.SDKKey)
				writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
				return
			}
		}
		s.logger.Info("datafile update notified", "revision", payload.Revision)
		if err := s.bridge.Refresh(r.Context()); err != nil {
			s.logger.Warn("webhook refresh failed", "error", err)
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

	default:
		s.logger.Debug("ignoring webhook event", "event", payload.Event)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
	}
}

// ComputeSignature returns the hex HMAC-SHA256 of body
func ComputeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks signature against body; a "sha256=" prefix is accepted
func VerifySignature(secret string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	signature = strings.TrimPrefix(signature, "sha256=")
	return hmac.Equal([]byte(signature), []byte(ComputeSignature(secret, body)))
}
