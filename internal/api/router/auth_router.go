package router

import (
	"net/http"

	"whatsapp-inbox-backend/internal/api"
	"whatsapp-inbox-backend/internal/api/endpoints"
	"whatsapp-inbox-backend/internal/api/middleware"
)

func AuthRoutes(prefix string) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		authEndpoints := endpoints.NewAuthEndpoints(s.Database())
		mux.HandleFunc(prefix+"/auth/register", s.MakeHTTPHandleFunc(authEndpoints.Register))
		mux.HandleFunc(prefix+"/auth/login", s.MakeHTTPHandleFunc(authEndpoints.Login))
		mux.HandleFunc(prefix+"/auth/invite", s.MakeHTTPHandleFunc(authEndpoints.Invite, middleware.ValidateOperatorJWT))
		mux.HandleFunc(prefix+"/auth/me", s.MakeHTTPHandleFunc(authEndpoints.Me, middleware.ValidateOperatorJWT))
		mux.HandleFunc(prefix+"/auth/operators", s.MakeHTTPHandleFunc(authEndpoints.Operators, middleware.ValidateOperatorJWT))
	}
}
