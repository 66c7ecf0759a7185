package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"booking-assistant/internal/domain"
)

const signaturePrefix = "sha256="

// webhookPayload is the subset of the Cloud API webhook envelope we read.
type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Messages []inboundMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type inboundMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply"`
		ListReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"list_reply"`
	} `json:"interactive"`
	Button *struct {
		Payload string `json:"payload"`
		Text    string `json:"text"`
	} `json:"button"`
}

// ParseWebhook extracts inbound chat events from a webhook body. Status
// callbacks and reactions carry no user input and yield no events.
func ParseWebhook(body []byte) ([]domain.InboundEvent, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("whatsapp: decode webhook: %w", err)
	}
	if payload.Object != "" && payload.Object != "whatsapp_business_account" {
		return nil, fmt.Errorf("whatsapp: unexpected webhook object %q", payload.Object)
	}

	var events []domain.InboundEvent
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, m := range change.Value.Messages {
				ev, ok := toEvent(m)
				if ok {
					events = append(events, ev)
				}
			}
		}
	}
	return events, nil
}

func toEvent(m inboundMessage) (domain.InboundEvent, bool) {
	if m.ID == "" || m.From == "" {
		return domain.InboundEvent{}, false
	}
	ev := domain.InboundEvent{MessageID: m.ID, UserID: m.From}
	if secs, err := strconv.ParseInt(m.Timestamp, 10, 64); err == nil {
		ev.ReceivedAt = time.Unix(secs, 0).UTC()
	}

	switch m.Type {
	case "text":
		if m.Text != nil {
			ev.Text = m.Text.Body
		}
	case "interactive":
		if m.Interactive == nil {
			break
		}
		switch {
		case m.Interactive.ButtonReply != nil:
			ev.InteractionID = m.Interactive.ButtonReply.ID
			ev.Text = m.Interactive.ButtonReply.Title
		case m.Interactive.ListReply != nil:
			ev.InteractionID = m.Interactive.ListReply.ID
			ev.Text = m.Interactive.ListReply.Title
		}
	case "button":
		if m.Button != nil {
			ev.InteractionID = m.Button.Payload
			ev.Text = m.Button.Text
		}
	case "reaction", "system", "unsupported":
		return domain.InboundEvent{}, false
	}
	return ev, true
}

// VerifySignature checks the X-Hub-Signature-256 header of a webhook body
// against the app secret.
func VerifySignature(body []byte, header, appSecret string) bool {
	header = strings.TrimSpace(header)
	if appSecret == "" || !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign returns the X-Hub-Signature-256 header value for body.
func Sign(body []byte, appSecret string) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}
