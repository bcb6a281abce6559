package model

import "fmt"

const (
	ChannelsTable      = "Channels"
	OperatorsTable     = "InboxOperators"
	ConversationsTable = "InboxConversations"
	MessagesTable      = "InboxMessages"
)

// ChannelItem is one tenant's WhatsApp connection. The webhook secret is
// stored as a bcrypt hash; the plain key is only shown once at creation.
type ChannelItem struct {
	ChannelID         string `dynamodbav:"channelId"`
	TenantID          string `dynamodbav:"tenantId"`
	Label             string `dynamodbav:"label,omitempty"`
	WebhookSecretHash string `dynamodbav:"webhookSecretHash"`
	Status            string `dynamodbav:"status"`
	CreatedAt         string `dynamodbav:"createdAt"`
}

// OperatorItem is a human agent working a tenant's inbox.
type OperatorItem struct {
	PK           string `dynamodbav:"pk"`
	TenantID     string `dynamodbav:"tenantId"`
	OperatorID   string `dynamodbav:"operatorId"`
	Email        string `dynamodbav:"email"`
	Name         string `dynamodbav:"name"`
	Role         string `dynamodbav:"role"`
	Status       string `dynamodbav:"status"`
	PasswordHash string `dynamodbav:"passwordHash"`
	CreatedAt    string `dynamodbav:"createdAt"`
}

func TenantScopedPK(tenantID, id string) string {
	return fmt.Sprintf("%s#%s", tenantID, id)
}

func ConversationPK(channelID, chatKey string) string {
	return fmt.Sprintf("%s#%s", channelID, chatKey)
}

func MessagePK(chatKey, messageID string) string {
	return fmt.Sprintf("%s#%s", chatKey, messageID)
}
