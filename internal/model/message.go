package model

// Direction records who produced a message. It is never inferred from
// message content, only from the provider's fromMe flag or from this
// system synthesizing the message itself.
type Direction string

const (
	DirectionContact    Direction = "contact"
	DirectionOperator   Direction = "operator"
	DirectionAutomation Direction = "automation"
)

type MessageKind string

const (
	KindText          MessageKind = "text"
	KindImage         MessageKind = "image"
	KindVideo         MessageKind = "video"
	KindAudio         MessageKind = "audio"
	KindSticker       MessageKind = "sticker"
	KindFile          MessageKind = "file"
	KindLocation      MessageKind = "location"
	KindButtonReply   MessageKind = "button_reply"
	KindListReply     MessageKind = "list_reply"
	KindTemplateReply MessageKind = "template_reply"
	KindUnknown       MessageKind = "unknown"
)

// SendState tracks the lifecycle of an optimistic outbound message. Inbound
// messages leave it empty.
type SendState string

const (
	SendStatePending SendState = "pending"
	SendStateSent    SendState = "sent"
	SendStateFailed  SendState = "failed"
)

// MessageItem is the canonical, provider-agnostic message row. One row per
// provider envelope; Timestamp is the provider-side time in unix millis.
type MessageItem struct {
	PK              string      `dynamodbav:"pk"`
	ChannelID       string      `dynamodbav:"channelId"`
	ChatKey         string      `dynamodbav:"chatKey"`
	MessageID       string      `dynamodbav:"messageId"`
	ClientID        string      `dynamodbav:"clientId,omitempty"`
	Direction       Direction   `dynamodbav:"direction"`
	Kind            MessageKind `dynamodbav:"kind"`
	Body            string      `dynamodbav:"body"`
	MediaMimeType   string      `dynamodbav:"mediaMimeType,omitempty"`
	MediaDurationMs int64       `dynamodbav:"mediaDurationMs,omitempty"`
	VoiceNote       bool        `dynamodbav:"voiceNote,omitempty"`
	Read            bool        `dynamodbav:"read"`
	SendState       SendState   `dynamodbav:"sendState,omitempty"`
	Timestamp       int64       `dynamodbav:"timestamp"`
	RawDigest       string      `dynamodbav:"rawDigest,omitempty"`
	UnhandledType   string      `dynamodbav:"unhandledType,omitempty"`
	CreatedAt       string      `dynamodbav:"createdAt"`
}
