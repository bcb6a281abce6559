package endpoints

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"whatsapp-inbox-backend/internal/api"
	"whatsapp-inbox-backend/internal/api/middleware"
	"whatsapp-inbox-backend/internal/dto"
	"whatsapp-inbox-backend/internal/inbox"
	internaljwt "whatsapp-inbox-backend/internal/jwt"
	"whatsapp-inbox-backend/internal/model"
	"whatsapp-inbox-backend/internal/queue"
	channelsvc "whatsapp-inbox-backend/internal/service/channel"
	"whatsapp-inbox-backend/utils"
)

type testInboxRepository struct {
	mu            sync.Mutex
	channels      map[string]model.ChannelItem
	messages      map[string]model.MessageItem
	chatMessages  map[string][]string
	conversations map[string]model.ConversationItem
}

func newTestInboxRepository() *testInboxRepository {
	return &testInboxRepository{
		channels:      make(map[string]model.ChannelItem),
		messages:      make(map[string]model.MessageItem),
		chatMessages:  make(map[string][]string),
		conversations: make(map[string]model.ConversationItem),
	}
}

func (m *testInboxRepository) GetChannel(ctx context.Context, channelID string) (model.ChannelItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	channel, ok := m.channels[channelID]
	if !ok {
		return model.ChannelItem{}, inbox.ErrNotFound
	}
	return channel, nil
}

func (m *testInboxRepository) PutMessage(ctx context.Context, message model.MessageItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, seen := m.messages[message.PK]; !seen {
		m.chatMessages[message.ChatKey] = append(m.chatMessages[message.ChatKey], message.PK)
	}
	m.messages[message.PK] = message
	return nil
}

func (m *testInboxRepository) GetMessage(ctx context.Context, chatKey, messageID string) (model.MessageItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	message, ok := m.messages[model.MessagePK(chatKey, messageID)]
	if !ok {
		return model.MessageItem{}, inbox.ErrNotFound
	}
	return message, nil
}

func (m *testInboxRepository) ListMessages(ctx context.Context, chatKey string, limit int) ([]model.MessageItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.MessageItem, 0, len(m.chatMessages[chatKey]))
	for _, pk := range m.chatMessages[chatKey] {
		out = append(out, m.messages[pk])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *testInboxRepository) CountUnread(ctx context.Context, chatKey string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, pk := range m.chatMessages[chatKey] {
		message := m.messages[pk]
		if message.Direction == model.DirectionContact && !message.Read {
			count++
		}
	}
	return count, nil
}

func (m *testInboxRepository) MarkMessagesRead(ctx context.Context, chatKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pk := range m.chatMessages[chatKey] {
		message := m.messages[pk]
		message.Read = true
		m.messages[pk] = message
	}
	return nil
}

func (m *testInboxRepository) GetConversation(ctx context.Context, channelID, chatKey string) (model.ConversationItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conversation, ok := m.conversations[model.ConversationPK(channelID, chatKey)]
	if !ok {
		return model.ConversationItem{}, inbox.ErrNotFound
	}
	return conversation, nil
}

func (m *testInboxRepository) PutConversation(ctx context.Context, conversation model.ConversationItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[conversation.PK] = conversation
	return nil
}

func (m *testInboxRepository) UpdateConversationActivity(ctx context.Context, channelID, chatKey string, last model.MessageItem, unreadCount int, updatedAt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pk := model.ConversationPK(channelID, chatKey)
	conversation, ok := m.conversations[pk]
	if !ok {
		return inbox.ErrNotFound
	}
	conversation.LastMessageID = last.MessageID
	conversation.LastMessageBody = last.Body
	conversation.LastMessageAt = last.Timestamp
	conversation.LastActivityAt = last.Timestamp
	conversation.UnreadCount = unreadCount
	conversation.UpdatedAt = updatedAt
	m.conversations[pk] = conversation
	return nil
}

func (m *testInboxRepository) UpdateConversationStatus(ctx context.Context, channelID, chatKey string, status model.ConversationStatus, updatedAt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pk := model.ConversationPK(channelID, chatKey)
	conversation, ok := m.conversations[pk]
	if !ok {
		return inbox.ErrNotFound
	}
	conversation.Status = status
	conversation.UpdatedAt = updatedAt
	m.conversations[pk] = conversation
	return nil
}

func (m *testInboxRepository) SetUnread(ctx context.Context, channelID, chatKey string, count int, updatedAt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pk := model.ConversationPK(channelID, chatKey)
	conversation, ok := m.conversations[pk]
	if !ok {
		return inbox.ErrNotFound
	}
	conversation.UnreadCount = count
	conversation.UpdatedAt = updatedAt
	m.conversations[pk] = conversation
	return nil
}

func (m *testInboxRepository) ListConversations(ctx context.Context, channelID string, limit int) ([]model.ConversationItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ConversationItem, 0)
	for _, conversation := range m.conversations {
		if conversation.ChannelID == channelID {
			out = append(out, conversation)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivityAt > out[j].LastActivityAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type testChannelRepository struct {
	inner *testInboxRepository
}

func (m *testChannelRepository) CreateChannel(ctx context.Context, channel model.ChannelItem) error {
	m.inner.mu.Lock()
	defer m.inner.mu.Unlock()
	m.inner.channels[channel.ChannelID] = channel
	return nil
}

func (m *testChannelRepository) GetChannel(ctx context.Context, channelID string) (model.ChannelItem, error) {
	channel, err := m.inner.GetChannel(ctx, channelID)
	if err != nil {
		return model.ChannelItem{}, channelsvc.ErrNotFound
	}
	return channel, nil
}

func (m *testChannelRepository) ListChannelsByTenant(ctx context.Context, tenantID string) ([]model.ChannelItem, error) {
	m.inner.mu.Lock()
	defer m.inner.mu.Unlock()
	out := make([]model.ChannelItem, 0)
	for _, channel := range m.inner.channels {
		if channel.TenantID == tenantID {
			out = append(out, channel)
		}
	}
	return out, nil
}

func (m *testChannelRepository) UpdateChannelStatus(ctx context.Context, channelID, status string) error {
	m.inner.mu.Lock()
	defer m.inner.mu.Unlock()
	channel, ok := m.inner.channels[channelID]
	if !ok {
		return channelsvc.ErrNotFound
	}
	channel.Status = status
	m.inner.channels[channelID] = channel
	return nil
}

func (m *testChannelRepository) UpdateWebhookSecret(ctx context.Context, channelID, secretHash string) error {
	m.inner.mu.Lock()
	defer m.inner.mu.Unlock()
	channel, ok := m.inner.channels[channelID]
	if !ok {
		return channelsvc.ErrNotFound
	}
	channel.WebhookSecretHash = secretHash
	m.inner.channels[channelID] = channel
	return nil
}

type nopPushChannel struct{}

func (nopPushChannel) Join(chatKey string) error  { return nil }
func (nopPushChannel) Leave(chatKey string) error { return nil }

type nopPublisher struct{}

func (nopPublisher) PublishNewMessage(channelID string, message model.MessageItem) error { return nil }
func (nopPublisher) PublishConversationUpdated(channelID string, summary inbox.ConversationSummary) error {
	return nil
}
func (nopPublisher) PublishTyping(channelID, chatKey string) error { return nil }

type nopSender struct{}

func (nopSender) Send(ctx context.Context, channelID string, message model.MessageItem) error {
	return nil
}

type inboxFixture struct {
	handler http.Handler
	repo    *testInboxRepository
	channel model.ChannelItem
	key     string
	headers map[string]string
	cleanup func()
}

func setupInboxFixture(t *testing.T) *inboxFixture {
	t.Helper()
	setupTestJWT(t)

	repo := newTestInboxRepository()

	webhookKey := "wainbox_TESTKEY"
	hash, err := utils.HashWebhookKey(webhookKey)
	if err != nil {
		t.Fatalf("hash webhook key: %v", err)
	}
	channel := model.ChannelItem{
		ChannelID:         "chan-1",
		TenantID:          "tenant-1",
		Label:             "Support line",
		WebhookSecretHash: hash,
		Status:            "active",
		CreatedAt:         fixedTime().Format(time.RFC3339),
	}
	repo.channels[channel.ChannelID] = channel

	aggregator := inbox.NewAggregator(nopPushChannel{}, fixedTime)
	service := inbox.NewService(repo, aggregator, nopSender{}, nopPublisher{}, fixedTime)
	channels := channelsvc.NewWithRepository(&testChannelRepository{inner: repo}, fixedTime)

	queueManager := queue.NewRequestQueueManager(10, 1)
	server := api.NewAPIServer(":0", queueManager, nil, nil)

	inboxEndpoints := NewInboxEndpoints(service, channels, nil, "/api")
	webhookEndpoints := NewWebhookEndpoints(service, "/api")

	mux := http.NewServeMux()
	mux.HandleFunc("/api/inbox/", server.MakeHTTPHandleFunc(inboxEndpoints.Inbox, middleware.ValidateOperatorJWT))
	mux.HandleFunc("/api/webhooks/wa/", server.MakeHTTPHandleFunc(webhookEndpoints.Webhook))

	token, err := internaljwt.CreateToken(internaljwt.Operator{
		Id:       "op-1",
		Email:    "owner@example.com",
		TenantId: "tenant-1",
	}, internaljwt.RoleOperator, time.Now().Add(time.Hour).Unix())
	if err != nil {
		t.Fatalf("create token: %v", err)
	}

	return &inboxFixture{
		handler: mux,
		repo:    repo,
		channel: channel,
		key:     webhookKey,
		headers: map[string]string{"Authorization": "Bearer " + token},
		cleanup: func() { queueManager.Shutdown() },
	}
}

func (f *inboxFixture) ingest(t *testing.T, id, chatKey, body string, ts int64) dto.WebhookAckResponse {
	t.Helper()
	payload := map[string]interface{}{
		"id":               id,
		"chatKey":          chatKey,
		"fromMe":           false,
		"messageTimestamp": ts,
		"message":          map[string]interface{}{"conversation": body},
	}
	return doJSONRequest[dto.WebhookAckResponse](
		t, f.handler, http.MethodPost,
		"/api/webhooks/wa/"+f.channel.ChannelID,
		payload,
		map[string]string{webhookKeyHeader: f.key},
		http.StatusOK,
	)
}

func TestWebhookIngestCreatesConversation(t *testing.T) {
	f := setupInboxFixture(t)
	defer f.cleanup()

	ack := f.ingest(t, "wa-1", "48555000111@s.whatsapp.net", "hello", 1_700_000_000)
	if ack.Duplicate {
		t.Fatal("first envelope must not be a duplicate")
	}
	if ack.MessageID != "wa-1" {
		t.Fatalf("expected message wa-1, got %s", ack.MessageID)
	}

	resp := doJSONRequest[dto.ListConversationsResponse](
		t, f.handler, http.MethodGet,
		fmt.Sprintf("/api/inbox/%s/conversations", f.channel.ChannelID),
		nil, f.headers, http.StatusOK,
	)
	if len(resp.Conversations) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(resp.Conversations))
	}
	conv := resp.Conversations[0]
	if conv.UnreadCount != 1 {
		t.Errorf("expected unread 1, got %d", conv.UnreadCount)
	}
	if conv.LastMessage == nil || conv.LastMessage.Body != "hello" {
		t.Errorf("unexpected last message %+v", conv.LastMessage)
	}
}

func TestWebhookRejectsBadKey(t *testing.T) {
	f := setupInboxFixture(t)
	defer f.cleanup()

	payload := map[string]interface{}{
		"id":               "wa-1",
		"chatKey":          "48555000111@s.whatsapp.net",
		"fromMe":           false,
		"messageTimestamp": 1_700_000_000,
		"message":          map[string]interface{}{"conversation": "hello"},
	}
	doJSONRequest[api.ApiError](
		t, f.handler, http.MethodPost,
		"/api/webhooks/wa/"+f.channel.ChannelID,
		payload,
		map[string]string{webhookKeyHeader: "wrong"},
		http.StatusUnauthorized,
	)
}

func TestWebhookDuplicateEnvelopeAcked(t *testing.T) {
	f := setupInboxFixture(t)
	defer f.cleanup()

	f.ingest(t, "wa-1", "48555000111@s.whatsapp.net", "hello", 1_700_000_000)
	ack := f.ingest(t, "wa-1", "48555000111@s.whatsapp.net", "hello", 1_700_000_000)
	if !ack.Duplicate {
		t.Fatal("second identical envelope must be flagged duplicate")
	}
}

func TestInboxSendAndMarkRead(t *testing.T) {
	f := setupInboxFixture(t)
	defer f.cleanup()

	chatKey := "48555000111@s.whatsapp.net"
	f.ingest(t, "wa-1", chatKey, "hello", 1_700_000_000)

	sendResp := doJSONRequest[dto.SendMessageResponse](
		t, f.handler, http.MethodPost,
		fmt.Sprintf("/api/inbox/%s/conversations/%s/messages", f.channel.ChannelID, chatKey),
		dto.SendMessageRequest{Body: "hi, how can we help?"},
		f.headers, http.StatusCreated,
	)
	if sendResp.Message.Direction != string(model.DirectionOperator) {
		t.Errorf("expected operator direction, got %s", sendResp.Message.Direction)
	}
	if sendResp.Message.ClientID == "" {
		t.Error("expected correlation id on optimistic send")
	}

	doJSONRequest[dto.MarkReadResponse](
		t, f.handler, http.MethodPost,
		fmt.Sprintf("/api/inbox/%s/conversations/%s/read", f.channel.ChannelID, chatKey),
		nil, f.headers, http.StatusOK,
	)

	listResp := doJSONRequest[dto.ListConversationsResponse](
		t, f.handler, http.MethodGet,
		fmt.Sprintf("/api/inbox/%s/conversations", f.channel.ChannelID),
		nil, f.headers, http.StatusOK,
	)
	if len(listResp.Conversations) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(listResp.Conversations))
	}
	if listResp.Conversations[0].UnreadCount != 0 {
		t.Errorf("expected unread 0 after mark read, got %d", listResp.Conversations[0].UnreadCount)
	}

	messages := doJSONRequest[dto.ListMessagesResponse](
		t, f.handler, http.MethodGet,
		fmt.Sprintf("/api/inbox/%s/conversations/%s/messages", f.channel.ChannelID, chatKey),
		nil, f.headers, http.StatusOK,
	)
	if len(messages.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages.Messages))
	}
}

func TestInboxStatusTransition(t *testing.T) {
	f := setupInboxFixture(t)
	defer f.cleanup()

	chatKey := "48555000111@s.whatsapp.net"
	f.ingest(t, "wa-1", chatKey, "hello", 1_700_000_000)

	statusResp := doJSONRequest[dto.ConversationStatusResponse](
		t, f.handler, http.MethodPatch,
		fmt.Sprintf("/api/inbox/%s/conversations/%s/status", f.channel.ChannelID, chatKey),
		dto.UpdateConversationStatusRequest{Status: "in_progress"},
		f.headers, http.StatusOK,
	)
	if statusResp.Status != "in_progress" {
		t.Fatalf("unexpected status %s", statusResp.Status)
	}

	doJSONRequest[api.ApiError](
		t, f.handler, http.MethodPatch,
		fmt.Sprintf("/api/inbox/%s/conversations/%s/status", f.channel.ChannelID, chatKey),
		dto.UpdateConversationStatusRequest{Status: "archived"},
		f.headers, http.StatusBadRequest,
	)
}

func TestInboxScopedToOwningTenant(t *testing.T) {
	f := setupInboxFixture(t)
	defer f.cleanup()

	token, err := internaljwt.CreateToken(internaljwt.Operator{
		Id:       "op-2",
		Email:    "other@example.com",
		TenantId: "tenant-2",
	}, internaljwt.RoleOperator, time.Now().Add(time.Hour).Unix())
	if err != nil {
		t.Fatalf("create token: %v", err)
	}

	doJSONRequest[api.ApiError](
		t, f.handler, http.MethodGet,
		fmt.Sprintf("/api/inbox/%s/conversations", f.channel.ChannelID),
		nil,
		map[string]string{"Authorization": "Bearer " + token},
		http.StatusNotFound,
	)
}
