package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"whatsapp-inbox-backend/internal/dto"
	"whatsapp-inbox-backend/internal/inbox"
	"whatsapp-inbox-backend/internal/model"
	channelsvc "whatsapp-inbox-backend/internal/service/channel"
	"whatsapp-inbox-backend/internal/websocket"
)

type InboxEndpoints interface {
	Inbox(http.ResponseWriter, *http.Request) error
	Websocket(http.ResponseWriter, *http.Request) error
}

type InboxPaths struct {
	InboxPrefix     string
	WebsocketPrefix string
}

type inboxEndpoints struct {
	service  *inbox.Service
	channels *channelsvc.Service
	handler  *websocket.Handler
	paths    InboxPaths
}

func NewInboxEndpoints(service *inbox.Service, channels *channelsvc.Service, handler *websocket.Handler, prefix string) InboxEndpoints {
	base := strings.TrimRight(prefix, "/")
	return &inboxEndpoints{
		service:  service,
		channels: channels,
		handler:  handler,
		paths: InboxPaths{
			InboxPrefix:     base + "/inbox/",
			WebsocketPrefix: base + "/ws/inbox/",
		},
	}
}

// Inbox dispatches the conversation routes nested under one channel:
//
//	GET  {prefix}/inbox/{channelID}/conversations
//	GET  {prefix}/inbox/{channelID}/conversations/{chatKey}/messages
//	POST {prefix}/inbox/{channelID}/conversations/{chatKey}/messages
//	POST {prefix}/inbox/{channelID}/conversations/{chatKey}/read
//	PATCH {prefix}/inbox/{channelID}/conversations/{chatKey}/status
func (h *inboxEndpoints) Inbox(w http.ResponseWriter, r *http.Request) error {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, h.paths.InboxPrefix), "/")
	segments := strings.Split(rest, "/")

	if len(segments) < 2 || segments[0] == "" || segments[1] != "conversations" {
		return &HTTPError{
			StatusCode: http.StatusNotFound,
			Message:    "Not found",
			ErrorLog:   fmt.Errorf("unknown inbox path %s", r.URL.Path),
		}
	}
	channelID := segments[0]

	if err := h.authorizeChannel(r, channelID); err != nil {
		return err
	}

	switch {
	case len(segments) == 2:
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodGet: func(w http.ResponseWriter, r *http.Request) error {
				return h.handleListConversations(w, r, channelID)
			},
		})
	case len(segments) == 4 && segments[3] == "messages":
		chatKey := segments[2]
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodGet: func(w http.ResponseWriter, r *http.Request) error {
				return h.handleListMessages(w, r, chatKey)
			},
			http.MethodPost: func(w http.ResponseWriter, r *http.Request) error {
				return h.handleSendMessage(w, r, channelID, chatKey)
			},
		})
	case len(segments) == 4 && segments[3] == "read":
		chatKey := segments[2]
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodPost: func(w http.ResponseWriter, r *http.Request) error {
				return h.handleMarkRead(w, r, channelID, chatKey)
			},
		})
	case len(segments) == 4 && segments[3] == "status":
		chatKey := segments[2]
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodPatch: func(w http.ResponseWriter, r *http.Request) error {
				return h.handleSetStatus(w, r, channelID, chatKey)
			},
		})
	default:
		return &HTTPError{
			StatusCode: http.StatusNotFound,
			Message:    "Not found",
			ErrorLog:   fmt.Errorf("unknown inbox path %s", r.URL.Path),
		}
	}
}

func (h *inboxEndpoints) Websocket(w http.ResponseWriter, r *http.Request) error {
	channelID := strings.Trim(strings.TrimPrefix(r.URL.Path, h.paths.WebsocketPrefix), "/")
	if channelID == "" {
		return &HTTPError{
			StatusCode: http.StatusNotFound,
			Message:    "Channel not found",
			ErrorLog:   fmt.Errorf("websocket channel id missing"),
		}
	}

	// Browsers cannot set headers on websocket upgrades, so the token also
	// rides in the query string.
	token := r.URL.Query().Get("token")
	if token == "" {
		token = ExtractTokenFromHeaders(r)
	}

	identity, err := h.service.IdentityFromAuthorizationHeader("Bearer " + token)
	if err != nil {
		return &HTTPError{
			StatusCode: http.StatusUnauthorized,
			Message:    "Unauthorized",
			ErrorLog:   fmt.Errorf("websocket identity: %w", err),
		}
	}

	if _, err := h.channels.Get(r.Context(), channelsvc.Identity{TenantID: identity.TenantID}, channelID); err != nil {
		return &HTTPError{
			StatusCode: http.StatusNotFound,
			Message:    "Channel not found",
			ErrorLog:   fmt.Errorf("websocket channel scope: %w", err),
		}
	}

	h.handler.CreateRoom(channelID)
	h.handler.JoinRoom(w, r, channelID, identity.UserID)
	return nil
}

func (h *inboxEndpoints) handleListConversations(w http.ResponseWriter, r *http.Request, channelID string) error {
	summaries, err := h.service.Reload(r.Context(), channelID)
	if err != nil {
		return h.serviceError(err)
	}

	resp := dto.ListConversationsResponse{Conversations: make([]dto.ConversationResponse, 0, len(summaries))}
	for _, summary := range summaries {
		resp.Conversations = append(resp.Conversations, toConversationResponse(summary))
	}

	return WriteJSON(w, http.StatusOK, resp)
}

func (h *inboxEndpoints) handleListMessages(w http.ResponseWriter, r *http.Request, chatKey string) error {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return &HTTPError{
				StatusCode: http.StatusBadRequest,
				Message:    "Invalid limit",
				ErrorLog:   fmt.Errorf("parse limit %q: %w", raw, err),
			}
		}
		limit = parsed
	}

	messages, err := h.service.ListMessages(r.Context(), chatKey, limit)
	if err != nil {
		return h.serviceError(err)
	}

	resp := dto.ListMessagesResponse{Messages: make([]dto.MessageResponse, 0, len(messages))}
	for _, message := range messages {
		resp.Messages = append(resp.Messages, toMessageResponse(message))
	}

	return WriteJSON(w, http.StatusOK, resp)
}

func (h *inboxEndpoints) handleSendMessage(w http.ResponseWriter, r *http.Request, channelID, chatKey string) error {
	var req dto.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid request payload",
			ErrorLog:   fmt.Errorf("decode send message request: %w", err),
		}
	}

	result, err := h.service.SendMessage(r.Context(), channelID, chatKey, req.Body, model.KindText, model.DirectionOperator)
	if err != nil {
		if result.Failed {
			// The optimistic row survives with its failed send state so the
			// client can offer a retry.
			return WriteJSON(w, http.StatusBadGateway, dto.SendMessageResponse{Message: toMessageResponse(result.Message)})
		}
		return h.serviceError(err)
	}

	return WriteJSON(w, http.StatusCreated, dto.SendMessageResponse{Message: toMessageResponse(result.Message)})
}

func (h *inboxEndpoints) handleMarkRead(w http.ResponseWriter, r *http.Request, channelID, chatKey string) error {
	if err := h.service.MarkRead(r.Context(), channelID, chatKey); err != nil {
		return h.serviceError(err)
	}
	return WriteJSON(w, http.StatusOK, dto.MarkReadResponse{ChatKey: chatKey, UnreadCount: 0})
}

func (h *inboxEndpoints) handleSetStatus(w http.ResponseWriter, r *http.Request, channelID, chatKey string) error {
	var req dto.UpdateConversationStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid request payload",
			ErrorLog:   fmt.Errorf("decode conversation status request: %w", err),
		}
	}

	status := model.ConversationStatus(req.Status)
	if err := h.service.SetStatus(r.Context(), channelID, chatKey, status); err != nil {
		return h.serviceError(err)
	}

	return WriteJSON(w, http.StatusOK, dto.ConversationStatusResponse{ChatKey: chatKey, Status: req.Status})
}

func (h *inboxEndpoints) authorizeChannel(r *http.Request, channelID string) error {
	identity, err := h.service.IdentityFromAuthorizationHeader(r.Header.Get("Authorization"))
	if err != nil {
		return &HTTPError{
			StatusCode: http.StatusUnauthorized,
			Message:    "Unauthorized",
			ErrorLog:   fmt.Errorf("inbox identity: %w", err),
		}
	}

	if _, err := h.channels.Get(r.Context(), channelsvc.Identity{TenantID: identity.TenantID}, channelID); err != nil {
		return &HTTPError{
			StatusCode: http.StatusNotFound,
			Message:    "Channel not found",
			ErrorLog:   fmt.Errorf("inbox channel scope: %w", err),
		}
	}

	return nil
}

func (h *inboxEndpoints) serviceError(err error) error {
	if err == nil {
		return nil
	}

	svcErr, ok := err.(*inbox.Error)
	if !ok {
		return &HTTPError{
			StatusCode: http.StatusInternalServerError,
			Message:    "Internal server error",
			ErrorLog:   fmt.Errorf("inbox service: %w", err),
		}
	}

	var errorLog error
	if svcErr.Err != nil {
		errorLog = fmt.Errorf("%s: %w", svcErr.Message, svcErr.Err)
	} else {
		errorLog = svcErr
	}

	switch svcErr.Code {
	case inbox.ErrorCodeValidation:
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    svcErr.Message,
			ErrorLog:   errorLog,
		}
	case inbox.ErrorCodeUnauthorized:
		return &HTTPError{
			StatusCode: http.StatusUnauthorized,
			Message:    svcErr.Message,
			ErrorLog:   errorLog,
		}
	case inbox.ErrorCodeNotFound:
		return &HTTPError{
			StatusCode: http.StatusNotFound,
			Message:    svcErr.Message,
			ErrorLog:   errorLog,
		}
	case inbox.ErrorCodeConflict:
		return &HTTPError{
			StatusCode: http.StatusConflict,
			Message:    svcErr.Message,
			ErrorLog:   errorLog,
		}
	case inbox.ErrorCodeUpstream:
		return &HTTPError{
			StatusCode: http.StatusBadGateway,
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

func toConversationResponse(summary inbox.ConversationSummary) dto.ConversationResponse {
	resp := dto.ConversationResponse{
		ChatKey:          summary.ChatKey,
		CounterpartLabel: summary.CounterpartLabel,
		Status:           string(summary.Status),
		UnreadCount:      summary.UnreadCount,
		Typing:           summary.Typing,
		LastActivityAt:   summary.LastActivityAt,
	}
	if summary.LastMessage != nil {
		last := toMessageResponse(*summary.LastMessage)
		resp.LastMessage = &last
	}
	return resp
}

func toMessageResponse(message model.MessageItem) dto.MessageResponse {
	return dto.MessageResponse{
		MessageID:       message.MessageID,
		ChatKey:         message.ChatKey,
		ClientID:        message.ClientID,
		Direction:       string(message.Direction),
		Kind:            string(message.Kind),
		Body:            message.Body,
		MediaMimeType:   message.MediaMimeType,
		MediaDurationMs: message.MediaDurationMs,
		VoiceNote:       message.VoiceNote,
		Read:            message.Read,
		SendState:       string(message.SendState),
		Timestamp:       message.Timestamp,
		CreatedAt:       message.CreatedAt,
	}
}
