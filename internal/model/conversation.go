package model

type ConversationStatus string

const (
	ConversationStatusWaiting    ConversationStatus = "waiting"
	ConversationStatusInProgress ConversationStatus = "in_progress"
	ConversationStatusAIHandled  ConversationStatus = "ai_handled"
	ConversationStatusClosed     ConversationStatus = "closed"
)

func ValidConversationStatus(s ConversationStatus) bool {
	switch s {
	case ConversationStatusWaiting, ConversationStatusInProgress,
		ConversationStatusAIHandled, ConversationStatusClosed:
		return true
	}
	return false
}

// ConversationItem is the persisted summary row, one per chatKey within a
// channel. UnreadCount here is the store's replayable truth; the in-memory
// aggregator treats its own counter as an optimization over this row.
type ConversationItem struct {
	PK               string             `dynamodbav:"pk"`
	ChannelID        string             `dynamodbav:"channelId"`
	ChatKey          string             `dynamodbav:"chatKey"`
	CounterpartLabel string             `dynamodbav:"counterpartLabel,omitempty"`
	Status           ConversationStatus `dynamodbav:"status"`
	UnreadCount      int                `dynamodbav:"unreadCount"`
	LastMessageID    string             `dynamodbav:"lastMessageId,omitempty"`
	LastMessageBody  string             `dynamodbav:"lastMessageBody,omitempty"`
	LastMessageAt    int64              `dynamodbav:"lastMessageAt"`
	LastActivityAt   int64              `dynamodbav:"lastActivityAt"`
	CreatedAt        string             `dynamodbav:"createdAt"`
	UpdatedAt        string             `dynamodbav:"updatedAt"`
}
