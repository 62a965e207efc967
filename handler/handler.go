package handler

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"postcraft/internal/domain"
	"postcraft/internal/integrations/telegram"
	"postcraft/internal/usecase"
)

const (
	secretHeader      = "X-Telegram-Bot-Api-Secret-Token"
	correlationHeader = "X-Correlation-Id"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, in domain.Inbound)
}

type Handler struct {
	dispatcher Dispatcher
	secret     string
	logger     *slog.Logger
}

type okResponse struct {
	OK bool `json:"ok"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewHandler builds the webhook handler. An empty secret disables the
// secret token check.
func NewHandler(dispatcher Dispatcher, secret string, logger *slog.Logger) (*Handler, error) {
	if dispatcher == nil {
		return nil, errors.New("handler: dispatcher must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{dispatcher: dispatcher, secret: secret, logger: logger}, nil
}

// Handle receives one Telegram webhook delivery. Anything that is not a
// rejected request answers 200 so Telegram does not redeliver it.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := header(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := h.logger.With("correlation_id", correlationID)

	if h.secret != "" {
		got := header(req.Headers, secretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			logger.WarnContext(ctx, "webhook secret mismatch")
			return jsonResponse(http.StatusUnauthorized, correlationID, errorResponse{
				Error:   "UNAUTHORIZED",
				Message: "secret token mismatch",
			}), nil
		}
	}

	body := req.Body
	if req.IsBase64Encoded {
		raw, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return invalidBody(ctx, logger, correlationID, err), nil
		}
		body = string(raw)
	}

	var update tgbotapi.Update
	if err := json.Unmarshal([]byte(body), &update); err != nil {
		return invalidBody(ctx, logger, correlationID, err), nil
	}

	in, ok := telegram.ToInbound(update)
	if !ok {
		logger.DebugContext(ctx, "ignoring update", "update_id", update.UpdateID)
		return jsonResponse(http.StatusOK, correlationID, okResponse{OK: true}), nil
	}

	logger.InfoContext(ctx, "dispatching update", "update_id", update.UpdateID, "kind", in.Kind.String())
	h.dispatcher.Dispatch(ctx, in)
	return jsonResponse(http.StatusOK, correlationID, okResponse{OK: true}), nil
}

func invalidBody(ctx context.Context, logger *slog.Logger, correlationID string, err error) events.APIGatewayProxyResponse {
	logger.WarnContext(ctx, "invalid webhook body", "err", err)
	return jsonResponse(http.StatusBadRequest, correlationID, errorResponse{
		Error:   string(usecase.ErrorInvalidInput),
		Message: "body is not a Telegram update",
	})
}

func jsonResponse(status int, correlationID string, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL"}`)
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

// header looks up name in API Gateway headers, which may arrive in any case.
func header(headers map[string]string, name string) string {
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
