package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"whatsapp-inbox-backend/internal/database"
	"whatsapp-inbox-backend/internal/dto"
	"whatsapp-inbox-backend/internal/model"
	authsvc "whatsapp-inbox-backend/internal/service/auth"
	channelsvc "whatsapp-inbox-backend/internal/service/channel"
)

type ChannelEndpoints interface {
	Channels(http.ResponseWriter, *http.Request) error
	Channel(http.ResponseWriter, *http.Request) error
}

type ChannelPaths struct {
	ChannelsPath   string
	ChannelsPrefix string
}

type channelEndpoints struct {
	auth    *authsvc.Service
	service *channelsvc.Service
	paths   ChannelPaths
}

func NewChannelEndpoints(db *database.Database, prefix string) ChannelEndpoints {
	base := strings.TrimRight(prefix, "/")
	return &channelEndpoints{
		auth:    authsvc.New(db),
		service: channelsvc.New(db),
		paths: ChannelPaths{
			ChannelsPath:   base + "/channels",
			ChannelsPrefix: base + "/channels/",
		},
	}
}

func NewChannelEndpointsWithServices(auth *authsvc.Service, service *channelsvc.Service, paths ChannelPaths) ChannelEndpoints {
	return &channelEndpoints{
		auth:    auth,
		service: service,
		paths:   paths,
	}
}

func (h *channelEndpoints) Channels(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodGet:  h.handleListChannels,
		http.MethodPost: h.handleRegisterChannel,
	})
}

func (h *channelEndpoints) Channel(w http.ResponseWriter, r *http.Request) error {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, h.paths.ChannelsPrefix), "/")
	segments := strings.Split(rest, "/")

	switch {
	case len(segments) == 1 && segments[0] != "":
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodGet: func(w http.ResponseWriter, r *http.Request) error {
				return h.handleGetChannel(w, r, segments[0])
			},
		})
	case len(segments) == 2 && segments[1] == "status":
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodPatch: func(w http.ResponseWriter, r *http.Request) error {
				return h.handleUpdateStatus(w, r, segments[0])
			},
		})
	case len(segments) == 2 && segments[1] == "webhook-key":
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodPost: func(w http.ResponseWriter, r *http.Request) error {
				return h.handleRotateKey(w, r, segments[0])
			},
		})
	default:
		return &HTTPError{
			StatusCode: http.StatusNotFound,
			Message:    "Not found",
			ErrorLog:   fmt.Errorf("unknown channel path %s", r.URL.Path),
		}
	}
}

func (h *channelEndpoints) handleRegisterChannel(w http.ResponseWriter, r *http.Request) error {
	identity, err := h.identity(r)
	if err != nil {
		return err
	}

	var req dto.RegisterChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid request payload",
			ErrorLog:   fmt.Errorf("decode register channel request: %w", err),
		}
	}

	result, err := h.service.Register(r.Context(), identity, channelsvc.RegisterParams{Label: req.Label})
	if err != nil {
		return h.serviceError(err)
	}

	return WriteJSON(w, http.StatusCreated, dto.RegisterChannelResponse{
		Channel:    toChannelResponse(result.Channel),
		WebhookKey: result.WebhookKey,
	})
}

func (h *channelEndpoints) handleListChannels(w http.ResponseWriter, r *http.Request) error {
	identity, err := h.identity(r)
	if err != nil {
		return err
	}

	channels, err := h.service.List(r.Context(), identity)
	if err != nil {
		return h.serviceError(err)
	}

	resp := dto.ListChannelsResponse{Channels: make([]dto.ChannelResponse, 0, len(channels))}
	for _, channel := range channels {
		resp.Channels = append(resp.Channels, toChannelResponse(channel))
	}

	return WriteJSON(w, http.StatusOK, resp)
}

func (h *channelEndpoints) handleGetChannel(w http.ResponseWriter, r *http.Request, channelID string) error {
	identity, err := h.identity(r)
	if err != nil {
		return err
	}

	channel, err := h.service.Get(r.Context(), identity, channelID)
	if err != nil {
		return h.serviceError(err)
	}

	return WriteJSON(w, http.StatusOK, toChannelResponse(channel))
}

func (h *channelEndpoints) handleUpdateStatus(w http.ResponseWriter, r *http.Request, channelID string) error {
	identity, err := h.identity(r)
	if err != nil {
		return err
	}

	var req dto.UpdateChannelStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid request payload",
			ErrorLog:   fmt.Errorf("decode channel status request: %w", err),
		}
	}

	channel, err := h.service.UpdateStatus(r.Context(), identity, channelID, req.Status)
	if err != nil {
		return h.serviceError(err)
	}

	return WriteJSON(w, http.StatusOK, toChannelResponse(channel))
}

func (h *channelEndpoints) handleRotateKey(w http.ResponseWriter, r *http.Request, channelID string) error {
	identity, err := h.identity(r)
	if err != nil {
		return err
	}

	result, err := h.service.RotateWebhookKey(r.Context(), identity, channelID)
	if err != nil {
		return h.serviceError(err)
	}

	return WriteJSON(w, http.StatusOK, dto.RegisterChannelResponse{
		Channel:    toChannelResponse(result.Channel),
		WebhookKey: result.WebhookKey,
	})
}

func (h *channelEndpoints) identity(r *http.Request) (channelsvc.Identity, error) {
	identity, err := h.auth.IdentityFromAuthorizationHeader(r.Header.Get("Authorization"))
	if err != nil {
		return channelsvc.Identity{}, &HTTPError{
			StatusCode: http.StatusUnauthorized,
			Message:    "Unauthorized",
			ErrorLog:   fmt.Errorf("channel identity: %w", err),
		}
	}
	return channelsvc.Identity{
		OperatorID: identity.OperatorID,
		TenantID:   identity.TenantID,
	}, nil
}

func (h *channelEndpoints) serviceError(err error) error {
	if err == nil {
		return nil
	}

	svcErr, ok := err.(*channelsvc.Error)
	if !ok {
		return &HTTPError{
			StatusCode: http.StatusInternalServerError,
			Message:    "Internal server error",
			ErrorLog:   fmt.Errorf("channel service: %w", err),
		}
	}

	var errorLog error
	if svcErr.Err != nil {
		errorLog = fmt.Errorf("%s: %w", svcErr.Message, svcErr.Err)
	} else {
		errorLog = svcErr
	}

	switch svcErr.Code {
	case channelsvc.ErrorCodeValidation:
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    svcErr.Message,
			ErrorLog:   errorLog,
		}
	case channelsvc.ErrorCodeUnauthorized:
		return &HTTPError{
			StatusCode: http.StatusUnauthorized,
			Message:    svcErr.Message,
			ErrorLog:   errorLog,
		}
	case channelsvc.ErrorCodeNotFound:
		return &HTTPError{
			StatusCode: http.StatusNotFound,
			Message:    svcErr.Message,
			ErrorLog:   errorLog,
		}
	default:
		return &HTTPError{
			StatusCode: http.StatusInternalServerError,
			Message:    "Internal server error",
			ErrorLog:   errorLog,
		}
	}
}

func toChannelResponse(channel model.ChannelItem) dto.ChannelResponse {
	return dto.ChannelResponse{
		ChannelID: channel.ChannelID,
		TenantID:  channel.TenantID,
		Label:     channel.Label,
		Status:    channel.Status,
		CreatedAt: channel.CreatedAt,
	}
}
