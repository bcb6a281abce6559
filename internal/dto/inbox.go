package dto

type MessageResponse struct {
	MessageID       string `json:"messageId"`
	ChatKey         string `json:"chatKey"`
	ClientID        string `json:"clientId,omitempty"`
	Direction       string `json:"direction"`
	Kind            string `json:"kind"`
	Body            string `json:"body"`
	MediaMimeType   string `json:"mediaMimeType,omitempty"`
	MediaDurationMs int64  `json:"mediaDurationMs,omitempty"`
	VoiceNote       bool   `json:"voiceNote,omitempty"`
	Read            bool   `json:"read"`
	SendState       string `json:"sendState,omitempty"`
	Timestamp       int64  `json:"timestamp"`
	CreatedAt       string `json:"createdAt"`
}

type ConversationResponse struct {
	ChatKey          string           `json:"chatKey"`
	CounterpartLabel string           `json:"counterpartLabel,omitempty"`
	Status           string           `json:"status"`
	UnreadCount      int              `json:"unreadCount"`
	Typing           bool             `json:"typing"`
	LastMessage      *MessageResponse `json:"lastMessage,omitempty"`
	LastActivityAt   int64            `json:"lastActivityAt"`
}

type ListConversationsResponse struct {
	Conversations []ConversationResponse `json:"conversations"`
}

type ListMessagesResponse struct {
	Messages []MessageResponse `json:"messages"`
}

type SendMessageRequest struct {
	Body string `json:"body"`
}

type SendMessageResponse struct {
	Message MessageResponse `json:"message"`
}

type UpdateConversationStatusRequest struct {
	Status string `json:"status"`
}

type ConversationStatusResponse struct {
	ChatKey string `json:"chatKey"`
	Status  string `json:"status"`
}

type MarkReadResponse struct {
	ChatKey     string `json:"chatKey"`
	UnreadCount int    `json:"unreadCount"`
}

type WebhookAckResponse struct {
	MessageID  string `json:"messageId,omitempty"`
	Duplicate  bool   `json:"duplicate,omitempty"`
	Reconciled bool   `json:"reconciled,omitempty"`
}
