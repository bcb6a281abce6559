package inbox

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	internaljwt "whatsapp-inbox-backend/internal/jwt"
	"whatsapp-inbox-backend/internal/model"
	"whatsapp-inbox-backend/internal/wire"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type ErrorCode string

const (
	ErrorCodeValidation   ErrorCode = "validation_error"
	ErrorCodeUnauthorized ErrorCode = "unauthorized"
	ErrorCodeNotFound     ErrorCode = "not_found"
	ErrorCodeConflict     ErrorCode = "conflict"
	ErrorCodeUpstream     ErrorCode = "upstream_error"
	ErrorCodeInternal     ErrorCode = "internal_error"
)

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

// Identity is the authenticated operator working the inbox.
type Identity struct {
	UserID   string
	TenantID string
	Email    string
}

// Sender delivers an outbound message to the provider gateway.
type Sender interface {
	Send(ctx context.Context, channelID string, message model.MessageItem) error
}

// EventPublisher fans events out to connected inbox clients.
type EventPublisher interface {
	PublishNewMessage(channelID string, message model.MessageItem) error
	PublishConversationUpdated(channelID string, summary ConversationSummary) error
	PublishTyping(channelID, chatKey string) error
}

type IngestResult struct {
	Message    model.MessageItem
	Duplicate  bool
	Reconciled bool
}

type SendResult struct {
	Message model.MessageItem
	Failed  bool
}

// AutoResponder drafts a reply from the chronological history. An empty
// reply means no answer could be produced.
type AutoResponder interface {
	Reply(ctx context.Context, history []model.MessageItem) (string, error)
}

type Service struct {
	repo       Repository
	aggregator *Aggregator
	sender     Sender
	publisher  EventPublisher
	responder  AutoResponder
	now        func() time.Time
}

func NewService(repo Repository, aggregator *Aggregator, sender Sender, publisher EventPublisher, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	if aggregator == nil {
		aggregator = NewAggregator(nil, now)
	}
	return &Service{
		repo:       repo,
		aggregator: aggregator,
		sender:     sender,
		publisher:  publisher,
		now:        now,
	}
}

func (s *Service) Aggregator() *Aggregator {
	return s.aggregator
}

// SetAutoResponder enables automated replies for conversations in the
// AI-handled state.
func (s *Service) SetAutoResponder(responder AutoResponder) {
	s.responder = responder
}

// VerifyWebhookKey authenticates a provider webhook call against the
// channel's stored key hash.
func (s *Service) VerifyWebhookKey(ctx context.Context, channelID, key string) (model.ChannelItem, error) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" || key == "" {
		return model.ChannelItem{}, newError(ErrorCodeUnauthorized, "channel id and webhook key are required", nil)
	}

	channel, err := s.repo.GetChannel(ctx, channelID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.ChannelItem{}, newError(ErrorCodeUnauthorized, "unknown channel", err)
		}
		return model.ChannelItem{}, newError(ErrorCodeInternal, "failed to load channel", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(channel.WebhookSecretHash), []byte(key)) != nil {
		return model.ChannelItem{}, newError(ErrorCodeUnauthorized, "invalid webhook key", nil)
	}
	return channel, nil
}

// IngestRaw parses and ingests one raw envelope payload. Payloads that can
// never parse come back as a wire.ParseError so queue consumers know not to
// requeue them.
func (s *Service) IngestRaw(ctx context.Context, channelID string, payload []byte) error {
	env, err := wire.ParseEnvelope(payload)
	if err != nil {
		return err
	}
	if _, err := s.IngestEnvelope(ctx, channelID, env); err != nil {
		var serviceErr *Error
		if errors.As(err, &serviceErr) && serviceErr.Code == ErrorCodeValidation {
			return &wire.ParseError{Err: err}
		}
		return err
	}
	return nil
}

// IngestEnvelope runs one provider envelope through normalization and folds
// the result into the store and the live aggregator. Re-delivered envelopes
// are detected by message id and dropped without double counting. Operator
// echoes are first matched against pending optimistic sends.
func (s *Service) IngestEnvelope(ctx context.Context, channelID string, env *wire.Envelope) (IngestResult, error) {
	message, err := wire.Normalize(channelID, env)
	if err != nil {
		return IngestResult{}, newError(ErrorCodeValidation, "envelope is not a message structure", err)
	}
	if message.ChatKey == "" {
		return IngestResult{}, newError(ErrorCodeValidation, "envelope has no chat key", nil)
	}
	if env.ClientID != "" {
		message.ClientID = env.ClientID
	}

	if message.Direction != model.DirectionContact {
		if reconciled, res := s.reconcileEcho(ctx, channelID, message); reconciled {
			return res, nil
		}
	}

	if _, err := s.repo.GetMessage(ctx, message.ChatKey, message.MessageID); err == nil {
		return IngestResult{Message: message, Duplicate: true}, nil
	} else if !errors.Is(err, ErrNotFound) {
		return IngestResult{}, newError(ErrorCodeInternal, "failed to check message", err)
	}

	if err := s.repo.PutMessage(ctx, message); err != nil {
		return IngestResult{}, newError(ErrorCodeInternal, "failed to store message", err)
	}

	if err := s.updateConversationRow(ctx, channelID, message, env.PushName); err != nil {
		return IngestResult{}, err
	}

	s.aggregator.ApplyMessage(message)
	if env.PushName != "" {
		label := env.PushName
		s.aggregator.ApplyPatch(ConversationPatch{ChatKey: message.ChatKey, CounterpartLabel: &label})
	}

	if s.publisher != nil {
		if err := s.publisher.PublishNewMessage(channelID, message); err != nil {
			return IngestResult{Message: message}, newError(ErrorCodeUpstream, "failed to publish message event", err)
		}
		s.publishSummary(channelID, message.ChatKey)
	}

	if message.Direction == model.DirectionContact {
		s.maybeAutoReply(ctx, channelID, message.ChatKey)
	}

	return IngestResult{Message: message}, nil
}

// maybeAutoReply answers an inbound message when the conversation is in the
// AI-handled state. A responder failure or an empty draft hands the
// conversation back to the waiting queue.
func (s *Service) maybeAutoReply(ctx context.Context, channelID, chatKey string) {
	if s.responder == nil {
		return
	}
	conversation, err := s.repo.GetConversation(ctx, channelID, chatKey)
	if err != nil || conversation.Status != model.ConversationStatusAIHandled {
		return
	}

	history, err := s.repo.ListMessages(ctx, chatKey, 20)
	if err != nil {
		log.Printf("[inbox] auto-reply history fetch for %s: %v", chatKey, err)
		return
	}

	reply, err := s.responder.Reply(ctx, history)
	if err != nil || reply == "" {
		if err != nil {
			log.Printf("[inbox] auto-reply for %s: %v", chatKey, err)
		}
		if statusErr := s.SetStatus(ctx, channelID, chatKey, model.ConversationStatusWaiting); statusErr != nil {
			log.Printf("[inbox] auto-reply handoff for %s: %v", chatKey, statusErr)
		}
		return
	}

	if _, err := s.SendMessage(ctx, channelID, chatKey, reply, model.KindText, model.DirectionAutomation); err != nil {
		log.Printf("[inbox] auto-reply send for %s: %v", chatKey, err)
	}
}

func (s *Service) reconcileEcho(ctx context.Context, channelID string, echo model.MessageItem) (bool, IngestResult) {
	clientID, matched := s.aggregator.ReconcileSend(echo.ChatKey, echo)
	if !matched {
		return false, IngestResult{}
	}

	// The optimistic row keeps its key; the echo refreshes the provider
	// side fields on it.
	updated := echo
	updated.ClientID = clientID
	updated.MessageID = clientID
	updated.PK = model.MessagePK(echo.ChatKey, clientID)
	updated.SendState = model.SendStateSent
	if err := s.repo.PutMessage(ctx, updated); err != nil {
		return true, IngestResult{Message: updated, Reconciled: true}
	}
	if s.publisher != nil {
		s.publishSummary(channelID, echo.ChatKey)
	}
	return true, IngestResult{Message: updated, Reconciled: true}
}

func (s *Service) updateConversationRow(ctx context.Context, channelID string, message model.MessageItem, pushName string) error {
	nowStr := s.now().UTC().Format(time.RFC3339)

	conversation, err := s.repo.GetConversation(ctx, channelID, message.ChatKey)
	if errors.Is(err, ErrNotFound) {
		conversation = model.ConversationItem{
			PK:               model.ConversationPK(channelID, message.ChatKey),
			ChannelID:        channelID,
			ChatKey:          message.ChatKey,
			CounterpartLabel: pushName,
			Status:           model.ConversationStatusWaiting,
			LastMessageID:    message.MessageID,
			LastMessageBody:  message.Body,
			LastMessageAt:    message.Timestamp,
			LastActivityAt:   message.Timestamp,
			CreatedAt:        nowStr,
			UpdatedAt:        nowStr,
		}
		if message.Direction == model.DirectionContact && !message.Read {
			conversation.UnreadCount = 1
		}
		if err := s.repo.PutConversation(ctx, conversation); err != nil {
			return newError(ErrorCodeInternal, "failed to create conversation", err)
		}
		return nil
	}
	if err != nil {
		return newError(ErrorCodeInternal, "failed to load conversation", err)
	}

	unread := conversation.UnreadCount
	if message.Direction == model.DirectionContact && !message.Read {
		unread++
	}

	// Last-message fields only move forward on the provider timestamp;
	// older rows still land in the store and still count as unread.
	if message.Timestamp >= conversation.LastMessageAt {
		if err := s.repo.UpdateConversationActivity(ctx, channelID, message.ChatKey, message, unread, nowStr); err != nil {
			return newError(ErrorCodeInternal, "failed to update conversation", err)
		}
		return nil
	}
	if unread != conversation.UnreadCount {
		if err := s.repo.SetUnread(ctx, channelID, message.ChatKey, unread, nowStr); err != nil {
			return newError(ErrorCodeInternal, "failed to update unread count", err)
		}
	}
	return nil
}

// Reload pulls the authoritative conversation snapshot for one channel and
// reconciles it into the aggregator. A failure keeps the held summaries and
// flags the aggregator unhealthy; retrying is up to the caller.
func (s *Service) Reload(ctx context.Context, channelID string) ([]ConversationSummary, error) {
	token := s.aggregator.BeginReload()

	rows, err := s.repo.ListConversations(ctx, channelID, 0)
	if err != nil {
		s.aggregator.FailReload(token, err)
		return s.aggregator.Conversations(), newError(ErrorCodeInternal, "failed to reload conversations", err)
	}

	s.aggregator.CompleteReload(token, rows)
	return s.aggregator.Conversations(), nil
}

func (s *Service) ListConversations(ctx context.Context, channelID string, limit int) ([]model.ConversationItem, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	conversations, err := s.repo.ListConversations(ctx, channelID, limit)
	if err != nil {
		return nil, newError(ErrorCodeInternal, "failed to list conversations", err)
	}
	return conversations, nil
}

func (s *Service) ListMessages(ctx context.Context, chatKey string, limit int) ([]model.MessageItem, error) {
	chatKey = strings.TrimSpace(chatKey)
	if chatKey == "" {
		return nil, newError(ErrorCodeValidation, "chatKey is required", nil)
	}
	if limit <= 0 || limit > 500 {
		limit = 200
	}

	messages, err := s.repo.ListMessages(ctx, chatKey, limit)
	if err != nil {
		return nil, newError(ErrorCodeInternal, "failed to list messages", err)
	}
	s.aggregator.SetMessages(chatKey, messages)
	return messages, nil
}

// MarkRead persists the read acknowledgement before zeroing the local
// counter, so a racing reload can never resurrect a count the store has
// already given up.
func (s *Service) MarkRead(ctx context.Context, channelID, chatKey string) error {
	chatKey = strings.TrimSpace(chatKey)
	if chatKey == "" {
		return newError(ErrorCodeValidation, "chatKey is required", nil)
	}

	nowStr := s.now().UTC().Format(time.RFC3339)
	if err := s.repo.MarkMessagesRead(ctx, chatKey); err != nil {
		return newError(ErrorCodeInternal, "failed to mark messages read", err)
	}
	if err := s.repo.SetUnread(ctx, channelID, chatKey, 0, nowStr); err != nil {
		return newError(ErrorCodeInternal, "failed to reset unread count", err)
	}

	s.aggregator.MarkRead(chatKey)
	if s.publisher != nil {
		s.publishSummary(channelID, chatKey)
	}
	return nil
}

func (s *Service) SetStatus(ctx context.Context, channelID, chatKey string, status model.ConversationStatus) error {
	if !model.ValidConversationStatus(status) {
		return newError(ErrorCodeValidation, "invalid conversation status", nil)
	}
	chatKey = strings.TrimSpace(chatKey)
	if chatKey == "" {
		return newError(ErrorCodeValidation, "chatKey is required", nil)
	}

	nowStr := s.now().UTC().Format(time.RFC3339)
	if err := s.repo.UpdateConversationStatus(ctx, channelID, chatKey, status, nowStr); err != nil {
		return newError(ErrorCodeInternal, "failed to update status", err)
	}

	s.aggregator.ApplyPatch(ConversationPatch{ChatKey: chatKey, Status: &status})
	if s.publisher != nil {
		s.publishSummary(channelID, chatKey)
	}
	return nil
}

// HandleTyping folds a transient typing signal in and fans it out; nothing
// is persisted.
func (s *Service) HandleTyping(channelID, chatKey string) {
	s.aggregator.ApplyTyping(chatKey)
	if s.publisher != nil {
		if err := s.publisher.PublishTyping(channelID, chatKey); err != nil {
			log.Printf("typing publish failed for %s: %v", chatKey, err)
		}
	}
}

// SendMessage inserts an optimistic operator message, then hands it to the
// provider gateway. On gateway failure the message flips to the failed
// sub-state and stays visible for retry.
func (s *Service) SendMessage(ctx context.Context, channelID, chatKey, body string, kind model.MessageKind, direction model.Direction) (SendResult, error) {
	chatKey = strings.TrimSpace(chatKey)
	if chatKey == "" {
		return SendResult{}, newError(ErrorCodeValidation, "chatKey is required", nil)
	}
	if strings.TrimSpace(body) == "" {
		return SendResult{}, newError(ErrorCodeValidation, "message body is required", nil)
	}
	if kind == "" {
		kind = model.KindText
	}
	if direction != model.DirectionOperator && direction != model.DirectionAutomation {
		direction = model.DirectionOperator
	}

	now := s.now().UTC()
	clientID := uuid.NewString()
	message := model.MessageItem{
		PK:        model.MessagePK(chatKey, clientID),
		ChannelID: channelID,
		ChatKey:   chatKey,
		MessageID: clientID,
		ClientID:  clientID,
		Direction: direction,
		Kind:      kind,
		Body:      body,
		Read:      true,
		SendState: model.SendStatePending,
		Timestamp: now.UnixMilli(),
		CreatedAt: now.Format(time.RFC3339),
	}

	if err := s.repo.PutMessage(ctx, message); err != nil {
		return SendResult{}, newError(ErrorCodeInternal, "failed to store message", err)
	}
	if err := s.updateConversationRow(ctx, channelID, message, ""); err != nil {
		return SendResult{}, err
	}
	s.aggregator.ApplyMessage(message)

	if s.sender == nil {
		return SendResult{Message: message}, nil
	}

	if err := s.sender.Send(ctx, channelID, message); err != nil {
		message.SendState = model.SendStateFailed
		if putErr := s.repo.PutMessage(ctx, message); putErr != nil {
			err = errors.Join(err, putErr)
		}
		s.aggregator.MarkSendFailed(chatKey, clientID)
		return SendResult{Message: message, Failed: true}, newError(ErrorCodeUpstream, "failed to hand message to gateway", err)
	}

	if s.publisher != nil {
		if err := s.publisher.PublishNewMessage(channelID, message); err == nil {
			s.publishSummary(channelID, chatKey)
		}
	}
	return SendResult{Message: message}, nil
}

func (s *Service) publishSummary(channelID, chatKey string) {
	summary, ok := s.aggregator.Conversation(chatKey)
	if !ok {
		return
	}
	_ = s.publisher.PublishConversationUpdated(channelID, summary)
}

func (s *Service) IdentityFromAuthorizationHeader(header string) (Identity, error) {
	authHeader := strings.TrimSpace(header)
	if authHeader == "" {
		return Identity{}, newError(ErrorCodeUnauthorized, "missing authorization header", nil)
	}

	if !strings.HasPrefix(authHeader, "Bearer ") {
		return Identity{}, newError(ErrorCodeUnauthorized, "invalid authorization header format", nil)
	}

	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return Identity{}, newError(ErrorCodeUnauthorized, "empty token", nil)
	}

	claims, err := internaljwt.ParseToken(token, internaljwt.RoleOperator)
	if err != nil {
		return Identity{}, newError(ErrorCodeUnauthorized, "invalid token", err)
	}

	userID, _ := claims["id"].(string)
	email, _ := claims["email"].(string)
	tenantID, _ := claims["tenantId"].(string)

	if userID == "" || tenantID == "" {
		return Identity{}, newError(ErrorCodeUnauthorized, "token missing identifiers", nil)
	}

	return Identity{
		UserID:   userID,
		TenantID: tenantID,
		Email:    email,
	}, nil
}
