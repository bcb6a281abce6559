package inbox

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"

	"whatsapp-inbox-backend/internal/database"
	"whatsapp-inbox-backend/internal/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var ErrNotFound = errors.New("inbox repository: not found")

type Repository interface {
	GetChannel(ctx context.Context, channelID string) (model.ChannelItem, error)
	PutMessage(ctx context.Context, message model.MessageItem) error
	GetMessage(ctx context.Context, chatKey, messageID string) (model.MessageItem, error)
	ListMessages(ctx context.Context, chatKey string, limit int) ([]model.MessageItem, error)
	CountUnread(ctx context.Context, chatKey string) (int, error)
	MarkMessagesRead(ctx context.Context, chatKey string) error
	GetConversation(ctx context.Context, channelID, chatKey string) (model.ConversationItem, error)
	PutConversation(ctx context.Context, conversation model.ConversationItem) error
	UpdateConversationActivity(ctx context.Context, channelID, chatKey string, last model.MessageItem, unreadCount int, updatedAt string) error
	UpdateConversationStatus(ctx context.Context, channelID, chatKey string, status model.ConversationStatus, updatedAt string) error
	SetUnread(ctx context.Context, channelID, chatKey string, count int, updatedAt string) error
	ListConversations(ctx context.Context, channelID string, limit int) ([]model.ConversationItem, error)
}

type DynamoRepository struct {
	db *database.Database
}

func NewDynamoRepository(db *database.Database) Repository {
	return &DynamoRepository{db: db}
}

func (r *DynamoRepository) GetChannel(ctx context.Context, channelID string) (model.ChannelItem, error) {
	var channel model.ChannelItem
	err := r.db.Client.GetItem(
		ctx,
		model.ChannelsTable,
		map[string]types.AttributeValue{
			"channelId": &types.AttributeValueMemberS{Value: channelID},
		},
		&channel,
	)
	if err != nil {
		if isNotFound(err) {
			return model.ChannelItem{}, ErrNotFound
		}
		return model.ChannelItem{}, err
	}
	return channel, nil
}

func (r *DynamoRepository) PutMessage(ctx context.Context, message model.MessageItem) error {
	return r.db.Client.PutItem(ctx, model.MessagesTable, message)
}

func (r *DynamoRepository) GetMessage(ctx context.Context, chatKey, messageID string) (model.MessageItem, error) {
	var message model.MessageItem
	err := r.db.Client.GetItem(
		ctx,
		model.MessagesTable,
		map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: model.MessagePK(chatKey, messageID)},
		},
		&message,
	)
	if err != nil {
		if isNotFound(err) {
			return model.MessageItem{}, ErrNotFound
		}
		return model.MessageItem{}, err
	}
	return message, nil
}

func (r *DynamoRepository) ListMessages(ctx context.Context, chatKey string, limit int) ([]model.MessageItem, error) {
	items, err := r.queryByChatKey(ctx, chatKey)
	if err != nil {
		return nil, err
	}

	messages := make([]model.MessageItem, 0, len(items))
	for _, item := range items {
		var message model.MessageItem
		if err := attributevalue.UnmarshalMap(item, &message); err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp < messages[j].Timestamp
	})

	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}

	return messages, nil
}

// CountUnread is the canonical unread definition: contact messages whose
// read flag is still false. Incremental counters resync against this.
func (r *DynamoRepository) CountUnread(ctx context.Context, chatKey string) (int, error) {
	messages, err := r.ListMessages(ctx, chatKey, 0)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, message := range messages {
		if message.Direction == model.DirectionContact && !message.Read {
			count++
		}
	}
	return count, nil
}

func (r *DynamoRepository) MarkMessagesRead(ctx context.Context, chatKey string) error {
	messages, err := r.ListMessages(ctx, chatKey, 0)
	if err != nil {
		return err
	}

	updated := make([]interface{}, 0, len(messages))
	for _, message := range messages {
		if message.Direction != model.DirectionContact || message.Read {
			continue
		}
		message.Read = true
		updated = append(updated, message)
	}
	if len(updated) == 0 {
		return nil
	}
	return r.db.Client.BatchWriteItem(ctx, model.MessagesTable, updated, nil)
}

func (r *DynamoRepository) GetConversation(ctx context.Context, channelID, chatKey string) (model.ConversationItem, error) {
	var conversation model.ConversationItem
	err := r.db.Client.GetItem(
		ctx,
		model.ConversationsTable,
		map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: model.ConversationPK(channelID, chatKey)},
		},
		&conversation,
	)
	if err != nil {
		if isNotFound(err) {
			return model.ConversationItem{}, ErrNotFound
		}
		return model.ConversationItem{}, err
	}
	return conversation, nil
}

func (r *DynamoRepository) PutConversation(ctx context.Context, conversation model.ConversationItem) error {
	return r.db.Client.PutItem(ctx, model.ConversationsTable, conversation)
}

func (r *DynamoRepository) UpdateConversationActivity(ctx context.Context, channelID, chatKey string, last model.MessageItem, unreadCount int, updatedAt string) error {
	return r.db.Client.UpdateItem(
		ctx,
		model.ConversationsTable,
		map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: model.ConversationPK(channelID, chatKey)},
		},
		"SET #updatedAt = :updatedAt, #lastMessageId = :lastMessageId, #lastMessageBody = :lastMessageBody, #lastMessageAt = :lastMessageAt, #lastActivityAt = :lastActivityAt, #unreadCount = :unreadCount",
		map[string]types.AttributeValue{
			":updatedAt":       &types.AttributeValueMemberS{Value: updatedAt},
			":lastMessageId":   &types.AttributeValueMemberS{Value: last.MessageID},
			":lastMessageBody": &types.AttributeValueMemberS{Value: last.Body},
			":lastMessageAt":   &types.AttributeValueMemberN{Value: formatMillis(last.Timestamp)},
			":lastActivityAt":  &types.AttributeValueMemberN{Value: formatMillis(last.Timestamp)},
			":unreadCount":     &types.AttributeValueMemberN{Value: formatMillis(int64(unreadCount))},
		},
		map[string]string{
			"#updatedAt":       "updatedAt",
			"#lastMessageId":   "lastMessageId",
			"#lastMessageBody": "lastMessageBody",
			"#lastMessageAt":   "lastMessageAt",
			"#lastActivityAt":  "lastActivityAt",
			"#unreadCount":     "unreadCount",
		},
		nil,
	)
}

func (r *DynamoRepository) UpdateConversationStatus(ctx context.Context, channelID, chatKey string, status model.ConversationStatus, updatedAt string) error {
	return r.db.Client.UpdateItem(
		ctx,
		model.ConversationsTable,
		map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: model.ConversationPK(channelID, chatKey)},
		},
		"SET #status = :status, #updatedAt = :updatedAt",
		map[string]types.AttributeValue{
			":status":    &types.AttributeValueMemberS{Value: string(status)},
			":updatedAt": &types.AttributeValueMemberS{Value: updatedAt},
		},
		map[string]string{
			"#status":    "status",
			"#updatedAt": "updatedAt",
		},
		nil,
	)
}

func (r *DynamoRepository) SetUnread(ctx context.Context, channelID, chatKey string, count int, updatedAt string) error {
	return r.db.Client.UpdateItem(
		ctx,
		model.ConversationsTable,
		map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: model.ConversationPK(channelID, chatKey)},
		},
		"SET #unreadCount = :unreadCount, #updatedAt = :updatedAt",
		map[string]types.AttributeValue{
			":unreadCount": &types.AttributeValueMemberN{Value: strconv.Itoa(count)},
			":updatedAt":   &types.AttributeValueMemberS{Value: updatedAt},
		},
		map[string]string{
			"#unreadCount": "unreadCount",
			"#updatedAt":   "updatedAt",
		},
		nil,
	)
}

func (r *DynamoRepository) ListConversations(ctx context.Context, channelID string, limit int) ([]model.ConversationItem, error) {
	scanForward := false
	items, err := r.db.Client.QueryItems(
		ctx,
		model.ConversationsTable,
		aws.String("byChannel"),
		"channelId = :channelId",
		map[string]types.AttributeValue{
			":channelId": &types.AttributeValueMemberS{Value: channelID},
		},
		nil,
		&scanForward,
	)
	if err != nil && !isIndexNotFound(err) {
		return nil, err
	}

	if (err != nil && isIndexNotFound(err)) || items == nil {
		items, err = r.db.Client.ScanItems(
			ctx,
			model.ConversationsTable,
			"channelId = :channelId",
			map[string]types.AttributeValue{
				":channelId": &types.AttributeValueMemberS{Value: channelID},
			},
			nil,
		)
		if err != nil {
			return nil, err
		}
	}

	conversations := make([]model.ConversationItem, 0, len(items))
	for _, item := range items {
		var conversation model.ConversationItem
		if err := attributevalue.UnmarshalMap(item, &conversation); err != nil {
			return nil, err
		}
		conversations = append(conversations, conversation)
	}

	sort.SliceStable(conversations, func(i, j int) bool {
		left, right := conversations[i], conversations[j]
		li, ri := left.LastMessageAt, right.LastMessageAt
		if li == 0 {
			li = left.LastActivityAt
		}
		if ri == 0 {
			ri = right.LastActivityAt
		}
		return li > ri
	})

	if limit > 0 && len(conversations) > limit {
		conversations = conversations[:limit]
	}

	return conversations, nil
}

func (r *DynamoRepository) queryByChatKey(ctx context.Context, chatKey string) ([]map[string]types.AttributeValue, error) {
	scanForward := true
	items, err := r.db.Client.QueryItems(
		ctx,
		model.MessagesTable,
		aws.String("byChatKey"),
		"chatKey = :chatKey",
		map[string]types.AttributeValue{
			":chatKey": &types.AttributeValueMemberS{Value: chatKey},
		},
		nil,
		&scanForward,
	)
	if err != nil && !isIndexNotFound(err) {
		return nil, err
	}

	if (err != nil && isIndexNotFound(err)) || items == nil {
		items, err = r.db.Client.ScanItems(
			ctx,
			model.MessagesTable,
			"chatKey = :chatKey",
			map[string]types.AttributeValue{
				":chatKey": &types.AttributeValueMemberS{Value: chatKey},
			},
			nil,
		)
		if err != nil {
			return nil, err
		}
	}
	return items, nil
}

func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "item not found")
}

func isIndexNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "index") && strings.Contains(msg, "not") && strings.Contains(msg, "found")
}

func formatMillis(v int64) string {
	return strconv.FormatInt(v, 10)
}
