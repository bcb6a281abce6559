package endpoints

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"whatsapp-inbox-backend/internal/dto"
	"whatsapp-inbox-backend/internal/inbox"
	"whatsapp-inbox-backend/internal/wire"

	"github.com/prometheus/client_golang/prometheus"
)

const webhookKeyHeader = "X-Webhook-Key"

const maxWebhookBody = 1 << 20

var webhookEnvelopes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "crm_inbox_webhook_envelopes_total",
		Help: "Provider envelopes received on the webhook, by outcome.",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(webhookEnvelopes)
}

type WebhookEndpoints interface {
	Webhook(http.ResponseWriter, *http.Request) error
}

type webhookEndpoints struct {
	service *inbox.Service
	prefix  string
}

func NewWebhookEndpoints(service *inbox.Service, prefix string) WebhookEndpoints {
	return &webhookEndpoints{
		service: service,
		prefix:  strings.TrimRight(prefix, "/") + "/webhooks/wa/",
	}
}

// Webhook receives one provider envelope per request:
//
//	POST {prefix}/webhooks/wa/{channelID}
//
// The channel's webhook key rides in the X-Webhook-Key header.
func (h *webhookEndpoints) Webhook(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodPost: h.handleWebhook,
	})
}

func (h *webhookEndpoints) handleWebhook(w http.ResponseWriter, r *http.Request) error {
	channelID := strings.Trim(strings.TrimPrefix(r.URL.Path, h.prefix), "/")
	if channelID == "" {
		webhookEnvelopes.WithLabelValues("rejected").Inc()
		return &HTTPError{
			StatusCode: http.StatusNotFound,
			Message:    "Channel not found",
			ErrorLog:   fmt.Errorf("webhook channel id missing"),
		}
	}

	if _, err := h.service.VerifyWebhookKey(r.Context(), channelID, r.Header.Get(webhookKeyHeader)); err != nil {
		webhookEnvelopes.WithLabelValues("rejected").Inc()
		return &HTTPError{
			StatusCode: http.StatusUnauthorized,
			Message:    "Invalid webhook key",
			ErrorLog:   fmt.Errorf("verify webhook key for channel %s: %w", channelID, err),
		}
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		webhookEnvelopes.WithLabelValues("rejected").Inc()
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid request payload",
			ErrorLog:   fmt.Errorf("read webhook body: %w", err),
		}
	}

	env, err := wire.ParseEnvelope(payload)
	if err != nil {
		webhookEnvelopes.WithLabelValues("malformed").Inc()
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid envelope",
			ErrorLog:   fmt.Errorf("parse webhook envelope: %w", err),
		}
	}

	result, err := h.service.IngestEnvelope(r.Context(), channelID, env)
	if err != nil {
		webhookEnvelopes.WithLabelValues("failed").Inc()
		return h.serviceError(err)
	}

	webhookEnvelopes.WithLabelValues("accepted").Inc()
	return WriteJSON(w, http.StatusOK, dto.WebhookAckResponse{
		MessageID:  result.Message.MessageID,
		Duplicate:  result.Duplicate,
		Reconciled: result.Reconciled,
	})
}

func (h *webhookEndpoints) serviceError(err error) error {
	svcErr, ok := err.(*inbox.Error)
	if !ok {
		return &HTTPError{
			StatusCode: http.StatusInternalServerError,
			Message:    "Internal server error",
			ErrorLog:   fmt.Errorf("webhook ingest: %w", err),
		}
	}

	status := http.StatusInternalServerError
	switch svcErr.Code {
	case inbox.ErrorCodeValidation:
		status = http.StatusBadRequest
	case inbox.ErrorCodeNotFound:
		status = http.StatusNotFound
	}

	return &HTTPError{
		StatusCode: status,
		Message:    svcErr.Message,
		ErrorLog:   fmt.Errorf("webhook ingest: %w", svcErr),
	}
}
