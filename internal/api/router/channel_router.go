package router

import (
	"net/http"

	"whatsapp-inbox-backend/internal/api"
	"whatsapp-inbox-backend/internal/api/endpoints"
	"whatsapp-inbox-backend/internal/api/middleware"
)

func ChannelRoutes(prefix string) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		channelEndpoints := endpoints.NewChannelEndpoints(s.Database(), prefix)
		mux.HandleFunc(prefix+"/channels", s.MakeHTTPHandleFunc(channelEndpoints.Channels, middleware.ValidateOperatorJWT))
		mux.HandleFunc(prefix+"/channels/", s.MakeHTTPHandleFunc(channelEndpoints.Channel, middleware.ValidateOperatorJWT))
	}
}
