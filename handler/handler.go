// Package handler adapts the WhatsApp webhook, delivered through API Gateway,
// to the message use case.
package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"booking-assistant/internal/domain"
	"booking-assistant/internal/integrations/whatsapp"
	"booking-assistant/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	signatureHeader   = "X-Hub-Signature-256"
	codeForbidden     = "FORBIDDEN"
	codeBadSignature  = "INVALID_SIGNATURE"
	codeBadMethod     = "METHOD_NOT_ALLOWED"
)

// MessageProcessor runs one inbound chat event through the dialogue.
type MessageProcessor interface {
	Process(ctx context.Context, ev domain.InboundEvent) (usecase.Outcome, error)
}

type Handler struct {
	processor   MessageProcessor
	verifyToken string
	appSecret   string
}

type Option func(*Handler)

// WithAppSecret enables X-Hub-Signature-256 verification of POST bodies.
func WithAppSecret(secret string) Option {
	return func(h *Handler) {
		h.appSecret = strings.TrimSpace(secret)
	}
}

type webhookResponse struct {
	Received   int `json:"received"`
	Processed  int `json:"processed"`
	Duplicates int `json:"duplicates"`
}

type errorResponse struct {
	Error         string `json:"error"`
	Reason        string `json:"reason,omitempty"`
	CorrelationID string `json:"correlationId"`
}

func NewHandler(p MessageProcessor, verifyToken string, opts ...Option) (*Handler, error) {
	if p == nil {
		return nil, errors.New("handler: message processor must not be nil")
	}
	verifyToken = strings.TrimSpace(verifyToken)
	if verifyToken == "" {
		return nil, errors.New("handler: verify token must not be empty")
	}
	h := &Handler{processor: p, verifyToken: verifyToken}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := slog.Default().With("correlation_id", correlationID)

	switch req.HTTPMethod {
	case http.MethodGet:
		return h.verify(req, correlationID, logger), nil
	case http.MethodPost:
		return h.receive(ctx, req, correlationID, logger), nil
	default:
		return jsonResponse(http.StatusMethodNotAllowed, errorResponse{Error: codeBadMethod, CorrelationID: correlationID}, correlationID), nil
	}
}

// verify answers the subscription handshake.
func (h *Handler) verify(req events.APIGatewayProxyRequest, correlationID string, logger *slog.Logger) events.APIGatewayProxyResponse {
	q := req.QueryStringParameters
	if q["hub.mode"] != "subscribe" || q["hub.verify_token"] != h.verifyToken {
		logger.Warn("webhook verification rejected", "mode", q["hub.mode"])
		return jsonResponse(http.StatusForbidden, errorResponse{Error: codeForbidden, CorrelationID: correlationID}, correlationID)
	}
	logger.Info("webhook verified")
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers: map[string]string{
			"Content-Type":    "text/plain",
			correlationHeader: correlationID,
		},
		Body: q["hub.challenge"],
	}
}

func (h *Handler) receive(ctx context.Context, req events.APIGatewayProxyRequest, correlationID string, logger *slog.Logger) events.APIGatewayProxyResponse {
	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return jsonResponse(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_base64", CorrelationID: correlationID}, correlationID)
		}
		body = decoded
	}

	if h.appSecret != "" && !whatsapp.VerifySignature(body, headerValue(req.Headers, signatureHeader), h.appSecret) {
		logger.Warn("webhook signature mismatch")
		return jsonResponse(http.StatusUnauthorized, errorResponse{Error: codeBadSignature, CorrelationID: correlationID}, correlationID)
	}

	inbound, err := whatsapp.ParseWebhook(body)
	if err != nil {
		logger.Warn("invalid webhook body", "err", err)
		return jsonResponse(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_body", CorrelationID: correlationID}, correlationID)
	}

	out := webhookResponse{Received: len(inbound)}
	for _, ev := range inbound {
		outcome, err := h.processor.Process(ctx, ev)
		if err != nil {
			status, code, reason := mapError(err)
			logger.Error("message processing failed", "message_id", ev.MessageID, "status", status, "code", code, "reason", reason, "err", err)
			return jsonResponse(status, errorResponse{Error: code, Reason: reason, CorrelationID: correlationID}, correlationID)
		}
		if outcome.Duplicate {
			out.Duplicates++
			continue
		}
		out.Processed++
		logger.Info("message processed", "message_id", ev.MessageID, "step", outcome.Step, "booked", outcome.Booked)
	}
	return jsonResponse(http.StatusOK, out, correlationID)
}

func mapError(err error) (int, string, string) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return http.StatusInternalServerError, string(usecase.ErrorInternal), ""
	}
	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest, string(ucErr.Code), ucErr.Reason
	case usecase.ErrorConflict:
		return http.StatusConflict, string(ucErr.Code), ucErr.Reason
	case usecase.ErrorUpstream:
		return http.StatusBadGateway, string(ucErr.Code), ucErr.Reason
	default:
		return http.StatusInternalServerError, string(usecase.ErrorInternal), ucErr.Reason
	}
}

// headerValue looks name up case-insensitively; API Gateway forwards headers
// with the client's casing.
func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func jsonResponse(status int, payload any, correlationID string) events.APIGatewayProxyResponse {
	body, err := json.Marshal(payload)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(body),
	}
}
