package channel

import (
	"context"
	"errors"
	"strings"

	"whatsapp-inbox-backend/internal/database"
	"whatsapp-inbox-backend/internal/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var ErrNotFound = errors.New("channel repository: not found")

type Repository interface {
	CreateChannel(ctx context.Context, channel model.ChannelItem) error
	GetChannel(ctx context.Context, channelID string) (model.ChannelItem, error)
	ListChannelsByTenant(ctx context.Context, tenantID string) ([]model.ChannelItem, error)
	UpdateChannelStatus(ctx context.Context, channelID, status string) error
	UpdateWebhookSecret(ctx context.Context, channelID, secretHash string) error
}

type DynamoRepository struct {
	db *database.Database
}

func NewDynamoRepository(db *database.Database) Repository {
	return &DynamoRepository{db: db}
}

func (r *DynamoRepository) CreateChannel(ctx context.Context, channel model.ChannelItem) error {
	return r.db.Client.PutItem(ctx, model.ChannelsTable, channel)
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
		if isNotFoundError(err) {
			return model.ChannelItem{}, ErrNotFound
		}
		return model.ChannelItem{}, err
	}
	return channel, nil
}

func (r *DynamoRepository) ListChannelsByTenant(ctx context.Context, tenantID string) ([]model.ChannelItem, error) {
	items, err := r.db.Client.QueryItems(
		ctx,
		model.ChannelsTable,
		aws.String("byTenant"),
		"tenantId = :tenantId",
		map[string]types.AttributeValue{
			":tenantId": &types.AttributeValueMemberS{Value: tenantID},
		},
		nil,
		nil,
	)
	if err != nil {
		return nil, err
	}

	channels := make([]model.ChannelItem, 0, len(items))
	for _, item := range items {
		var channel model.ChannelItem
		if err := attributevalue.UnmarshalMap(item, &channel); err != nil {
			return nil, err
		}
		channels = append(channels, channel)
	}

	return channels, nil
}

func (r *DynamoRepository) UpdateChannelStatus(ctx context.Context, channelID, status string) error {
	return r.db.Client.UpdateItem(
		ctx,
		model.ChannelsTable,
		map[string]types.AttributeValue{
			"channelId": &types.AttributeValueMemberS{Value: channelID},
		},
		"SET #status = :status",
		map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: status},
		},
		map[string]string{
			"#status": "status",
		},
		nil,
	)
}

func (r *DynamoRepository) UpdateWebhookSecret(ctx context.Context, channelID, secretHash string) error {
	return r.db.Client.UpdateItem(
		ctx,
		model.ChannelsTable,
		map[string]types.AttributeValue{
			"channelId": &types.AttributeValueMemberS{Value: channelID},
		},
		"SET webhookSecretHash = :webhookSecretHash",
		map[string]types.AttributeValue{
			":webhookSecretHash": &types.AttributeValueMemberS{Value: secretHash},
		},
		nil,
		nil,
	)
}

func isNotFoundError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "item not found")
}
