package router

import (
	"net/http"

	"whatsapp-inbox-backend/internal/api"
	"whatsapp-inbox-backend/internal/api/endpoints"
	"whatsapp-inbox-backend/internal/inbox"
)

func WebhookRoutes(prefix string, service *inbox.Service) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		webhookEndpoints := endpoints.NewWebhookEndpoints(service, prefix)
		mux.HandleFunc(prefix+"/webhooks/wa/", s.MakeHTTPHandleFunc(webhookEndpoints.Webhook))
	}
}
