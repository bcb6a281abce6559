package auth

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

var ErrNotFound = errors.New("auth repository: not found")

type Repository interface {
	CreateOperator(ctx context.Context, operator model.OperatorItem) error
	GetOperator(ctx context.Context, tenantID, operatorID string) (model.OperatorItem, error)
	ListOperatorsByEmail(ctx context.Context, email string) ([]model.OperatorItem, error)
	ListOperators(ctx context.Context, tenantID string) ([]model.OperatorItem, error)
}

type DynamoRepository struct {
	db *database.Database
}

func NewDynamoRepository(db *database.Database) Repository {
	return &DynamoRepository{db: db}
}

func (r *DynamoRepository) CreateOperator(ctx context.Context, operator model.OperatorItem) error {
	return r.db.Client.PutItem(ctx, model.OperatorsTable, operator)
}

func (r *DynamoRepository) GetOperator(ctx context.Context, tenantID, operatorID string) (model.OperatorItem, error) {
	var operator model.OperatorItem
	err := r.db.Client.GetItem(
		ctx,
		model.OperatorsTable,
		map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: model.TenantScopedPK(tenantID, operatorID)},
		},
		&operator,
	)
	if err != nil {
		if isNotFoundError(err) {
			return model.OperatorItem{}, ErrNotFound
		}
		return model.OperatorItem{}, err
	}

	return operator, nil
}

func (r *DynamoRepository) ListOperatorsByEmail(ctx context.Context, email string) ([]model.OperatorItem, error) {
	items, err := r.db.Client.QueryItems(
		ctx,
		model.OperatorsTable,
		aws.String("byEmail"),
		"email = :email",
		map[string]types.AttributeValue{
			":email": &types.AttributeValueMemberS{Value: email},
		},
		nil,
		nil,
	)
	if err != nil {
		return nil, err
	}

	return unmarshalOperators(items)
}

func (r *DynamoRepository) ListOperators(ctx context.Context, tenantID string) ([]model.OperatorItem, error) {
	items, err := r.db.Client.QueryItems(
		ctx,
		model.OperatorsTable,
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

	return unmarshalOperators(items)
}

func unmarshalOperators(items []map[string]types.AttributeValue) ([]model.OperatorItem, error) {
	operators := make([]model.OperatorItem, 0, len(items))
	for _, item := range items {
		var operator model.OperatorItem
		if err := attributevalue.UnmarshalMap(item, &operator); err != nil {
			return nil, err
		}
		operators = append(operators, operator)
	}
	return operators, nil
}

func isNotFoundError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "item not found")
}
