package channel

import (
	"context"
	"errors"
	"strings"
	"time"

	"whatsapp-inbox-backend/internal/database"
	"whatsapp-inbox-backend/internal/model"
	"whatsapp-inbox-backend/utils"

	"github.com/google/uuid"
)

type ErrorCode string

const (
	ErrorCodeValidation   ErrorCode = "validation_error"
	ErrorCodeUnauthorized ErrorCode = "unauthorized"
	ErrorCodeNotFound     ErrorCode = "not_found"
	ErrorCodeInternal     ErrorCode = "internal_error"
)

const (
	StatusActive   = "active"
	StatusPaused   = "paused"
	StatusDisabled = "disabled"
)

var allowedStatuses = map[string]bool{
	StatusActive:   true,
	StatusPaused:   true,
	StatusDisabled: true,
}

type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

type Identity struct {
	OperatorID string
	TenantID   string
}

type RegisterParams struct {
	Label string
}

// RegisterResult carries the plain webhook key exactly once. Only the bcrypt
// hash is stored, so a lost key can only be rotated, never recovered.
type RegisterResult struct {
	Channel    model.ChannelItem
	WebhookKey string
}

type Service struct {
	repo Repository
	now  func() time.Time
}

func New(db *database.Database) *Service {
	return &Service{
		repo: NewDynamoRepository(db),
		now:  time.Now,
	}
}

func NewWithRepository(repo Repository, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo: repo,
		now:  now,
	}
}

func (s *Service) Register(ctx context.Context, identity Identity, params RegisterParams) (RegisterResult, error) {
	if identity.TenantID == "" {
		return RegisterResult{}, newError(ErrorCodeUnauthorized, "invalid operator identity", nil)
	}

	label := strings.TrimSpace(params.Label)
	if label == "" {
		return RegisterResult{}, newError(ErrorCodeValidation, "channel label is required", nil)
	}

	webhookKey := utils.GenerateWebhookKey()
	hash, err := utils.HashWebhookKey(webhookKey)
	if err != nil {
		return RegisterResult{}, newError(ErrorCodeInternal, "failed to hash webhook key", err)
	}

	channel := model.ChannelItem{
		ChannelID:         uuid.NewString(),
		TenantID:          identity.TenantID,
		Label:             label,
		WebhookSecretHash: hash,
		Status:            StatusActive,
		CreatedAt:         s.now().UTC().Format(time.RFC3339),
	}

	if err := s.repo.CreateChannel(ctx, channel); err != nil {
		return RegisterResult{}, newError(ErrorCodeInternal, "failed to create channel", err)
	}

	return RegisterResult{
		Channel:    channel,
		WebhookKey: webhookKey,
	}, nil
}

func (s *Service) List(ctx context.Context, identity Identity) ([]model.ChannelItem, error) {
	if identity.TenantID == "" {
		return nil, newError(ErrorCodeUnauthorized, "invalid operator identity", nil)
	}

	channels, err := s.repo.ListChannelsByTenant(ctx, identity.TenantID)
	if err != nil {
		return nil, newError(ErrorCodeInternal, "failed to list channels", err)
	}
	return channels, nil
}

func (s *Service) Get(ctx context.Context, identity Identity, channelID string) (model.ChannelItem, error) {
	channel, err := s.ownedChannel(ctx, identity, channelID)
	if err != nil {
		return model.ChannelItem{}, err
	}
	return channel, nil
}

func (s *Service) UpdateStatus(ctx context.Context, identity Identity, channelID, status string) (model.ChannelItem, error) {
	if !allowedStatuses[status] {
		return model.ChannelItem{}, newError(ErrorCodeValidation, "invalid channel status", nil)
	}

	channel, err := s.ownedChannel(ctx, identity, channelID)
	if err != nil {
		return model.ChannelItem{}, err
	}

	if channel.Status != status {
		if err := s.repo.UpdateChannelStatus(ctx, channel.ChannelID, status); err != nil {
			return model.ChannelItem{}, newError(ErrorCodeInternal, "failed to update channel status", err)
		}
		channel.Status = status
	}

	return channel, nil
}

func (s *Service) RotateWebhookKey(ctx context.Context, identity Identity, channelID string) (RegisterResult, error) {
	channel, err := s.ownedChannel(ctx, identity, channelID)
	if err != nil {
		return RegisterResult{}, err
	}

	webhookKey := utils.GenerateWebhookKey()
	hash, err := utils.HashWebhookKey(webhookKey)
	if err != nil {
		return RegisterResult{}, newError(ErrorCodeInternal, "failed to hash webhook key", err)
	}

	if err := s.repo.UpdateWebhookSecret(ctx, channel.ChannelID, hash); err != nil {
		return RegisterResult{}, newError(ErrorCodeInternal, "failed to rotate webhook key", err)
	}
	channel.WebhookSecretHash = hash

	return RegisterResult{
		Channel:    channel,
		WebhookKey: webhookKey,
	}, nil
}

func (s *Service) ownedChannel(ctx context.Context, identity Identity, channelID string) (model.ChannelItem, error) {
	if identity.TenantID == "" {
		return model.ChannelItem{}, newError(ErrorCodeUnauthorized, "invalid operator identity", nil)
	}
	if strings.TrimSpace(channelID) == "" {
		return model.ChannelItem{}, newError(ErrorCodeValidation, "channel id is required", nil)
	}

	channel, err := s.repo.GetChannel(ctx, channelID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.ChannelItem{}, newError(ErrorCodeNotFound, "channel not found", err)
		}
		return model.ChannelItem{}, newError(ErrorCodeInternal, "failed to load channel", err)
	}
	if channel.TenantID != identity.TenantID {
		return model.ChannelItem{}, newError(ErrorCodeNotFound, "channel not found", nil)
	}

	return channel, nil
}
