package router

import (
	"net/http"

	"whatsapp-inbox-backend/internal/api"
	"whatsapp-inbox-backend/internal/api/endpoints"
	"whatsapp-inbox-backend/internal/api/middleware"
	"whatsapp-inbox-backend/internal/inbox"
	channelsvc "whatsapp-inbox-backend/internal/service/channel"
)

// InboxRoutes wires the conversation API around one shared inbox service.
// The service carries the live aggregator state, so it is built once in the
// server main and handed to every registrar that needs it.
func InboxRoutes(prefix string, service *inbox.Service, channels *channelsvc.Service) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		inboxEndpoints := endpoints.NewInboxEndpoints(service, channels, s.Handler(), prefix)
		mux.HandleFunc(prefix+"/inbox/", s.MakeHTTPHandleFunc(inboxEndpoints.Inbox, middleware.ValidateOperatorJWT))
	}
}

func InboxWebsocketRoutes(prefix string, service *inbox.Service, channels *channelsvc.Service) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		inboxEndpoints := endpoints.NewInboxEndpoints(service, channels, s.Handler(), prefix)
		mux.HandleFunc(prefix+"/ws/inbox/", s.MakeHTTPHandleFunc(inboxEndpoints.Websocket))
	}
}
