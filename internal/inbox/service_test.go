package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"whatsapp-inbox-backend/internal/model"
	"whatsapp-inbox-backend/internal/wire"

	"golang.org/x/crypto/bcrypt"
)

type memoryRepository struct {
	mu            sync.Mutex
	channels      map[string]model.ChannelItem
	messages      map[string]model.MessageItem
	conversations map[string]model.ConversationItem

	failList bool
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		channels:      make(map[string]model.ChannelItem),
		messages:      make(map[string]model.MessageItem),
		conversations: make(map[string]model.ConversationItem),
	}
}

func (m *memoryRepository) GetChannel(ctx context.Context, channelID string) (model.ChannelItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	channel, ok := m.channels[channelID]
	if !ok {
		return model.ChannelItem{}, ErrNotFound
	}
	return channel, nil
}

func (m *memoryRepository) PutMessage(ctx context.Context, message model.MessageItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[message.PK] = message
	return nil
}

func (m *memoryRepository) GetMessage(ctx context.Context, chatKey, messageID string) (model.MessageItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	message, ok := m.messages[model.MessagePK(chatKey, messageID)]
	if !ok {
		return model.MessageItem{}, ErrNotFound
	}
	return message, nil
}

func (m *memoryRepository) chatMessages(chatKey string) []model.MessageItem {
	var out []model.MessageItem
	for _, message := range m.messages {
		if message.ChatKey == chatKey {
			out = append(out, message)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})
	return out
}

func (m *memoryRepository) ListMessages(ctx context.Context, chatKey string, limit int) ([]model.MessageItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.chatMessages(chatKey)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memoryRepository) CountUnread(ctx context.Context, chatKey string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, message := range m.chatMessages(chatKey) {
		if message.Direction == model.DirectionContact && !message.Read {
			count++
		}
	}
	return count, nil
}

func (m *memoryRepository) MarkMessagesRead(ctx context.Context, chatKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for pk, message := range m.messages {
		if message.ChatKey == chatKey && message.Direction == model.DirectionContact && !message.Read {
			message.Read = true
			m.messages[pk] = message
		}
	}
	return nil
}

func (m *memoryRepository) GetConversation(ctx context.Context, channelID, chatKey string) (model.ConversationItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conversation, ok := m.conversations[model.ConversationPK(channelID, chatKey)]
	if !ok {
		return model.ConversationItem{}, ErrNotFound
	}
	return conversation, nil
}

func (m *memoryRepository) PutConversation(ctx context.Context, conversation model.ConversationItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[conversation.PK] = conversation
	return nil
}

func (m *memoryRepository) UpdateConversationActivity(ctx context.Context, channelID, chatKey string, last model.MessageItem, unreadCount int, updatedAt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pk := model.ConversationPK(channelID, chatKey)
	conversation, ok := m.conversations[pk]
	if !ok {
		return ErrNotFound
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

func (m *memoryRepository) UpdateConversationStatus(ctx context.Context, channelID, chatKey string, status model.ConversationStatus, updatedAt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pk := model.ConversationPK(channelID, chatKey)
	conversation, ok := m.conversations[pk]
	if !ok {
		return ErrNotFound
	}
	conversation.Status = status
	conversation.UpdatedAt = updatedAt
	m.conversations[pk] = conversation
	return nil
}

func (m *memoryRepository) SetUnread(ctx context.Context, channelID, chatKey string, count int, updatedAt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pk := model.ConversationPK(channelID, chatKey)
	conversation, ok := m.conversations[pk]
	if !ok {
		return ErrNotFound
	}
	conversation.UnreadCount = count
	conversation.UpdatedAt = updatedAt
	m.conversations[pk] = conversation
	return nil
}

func (m *memoryRepository) ListConversations(ctx context.Context, channelID string, limit int) ([]model.ConversationItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failList {
		return nil, errors.New("store is down")
	}
	var out []model.ConversationItem
	for _, conversation := range m.conversations {
		if conversation.ChannelID == channelID {
			out = append(out, conversation)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastActivityAt > out[j].LastActivityAt
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type stubSender struct {
	sent []model.MessageItem
	err  error
}

func (s *stubSender) Send(ctx context.Context, channelID string, message model.MessageItem) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, message)
	return nil
}

type recordingPublisher struct {
	messages   []model.MessageItem
	summaries  []ConversationSummary
	typing     []string
	failTyping bool
}

func (p *recordingPublisher) PublishNewMessage(channelID string, message model.MessageItem) error {
	p.messages = append(p.messages, message)
	return nil
}

func (p *recordingPublisher) PublishConversationUpdated(channelID string, summary ConversationSummary) error {
	p.summaries = append(p.summaries, summary)
	return nil
}

func (p *recordingPublisher) PublishTyping(channelID, chatKey string) error {
	if p.failTyping {
		return errors.New("redis unavailable")
	}
	p.typing = append(p.typing, chatKey)
	return nil
}

func newTestService(repo Repository, sender Sender) (*Service, *fakeClock, *recordingPublisher) {
	clock := newFakeClock()
	publisher := &recordingPublisher{}
	agg := NewAggregator(nil, clock.Now)
	return NewService(repo, agg, sender, publisher, clock.Now), clock, publisher
}

func textEnvelope(id, chatKey, body string, ts int64, fromMe bool) *wire.Envelope {
	payload := map[string]interface{}{
		"id":               id,
		"chatKey":          chatKey,
		"fromMe":           fromMe,
		"messageTimestamp": ts,
		"message": map[string]interface{}{
			"conversation": body,
		},
	}
	raw, _ := json.Marshal(payload)
	env, _ := wire.ParseEnvelope(raw)
	return env
}

func TestIngestEnvelopeCreatesConversation(t *testing.T) {
	repo := newMemoryRepository()
	service, _, publisher := newTestService(repo, nil)
	ctx := context.Background()

	res, err := service.IngestEnvelope(ctx, "channel-1", textEnvelope("m1", "48500100200@s.whatsapp.net", "czesc", 1700000000, false))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Duplicate {
		t.Error("first delivery must not be a duplicate")
	}

	conversation, err := repo.GetConversation(ctx, "channel-1", "48500100200@s.whatsapp.net")
	if err != nil {
		t.Fatalf("expected conversation row: %v", err)
	}
	if conversation.Status != model.ConversationStatusWaiting {
		t.Errorf("expected waiting status, got %s", conversation.Status)
	}
	if conversation.UnreadCount != 1 {
		t.Errorf("expected unread 1, got %d", conversation.UnreadCount)
	}
	if conversation.LastMessageBody != "czesc" {
		t.Errorf("expected last message body, got %q", conversation.LastMessageBody)
	}
	if len(publisher.messages) != 1 {
		t.Errorf("expected one published message event, got %d", len(publisher.messages))
	}
}

func TestIngestEnvelopeDeduplicates(t *testing.T) {
	repo := newMemoryRepository()
	service, _, _ := newTestService(repo, nil)
	ctx := context.Background()
	env := textEnvelope("m1", "chat@s.whatsapp.net", "hej", 1700000000, false)

	if _, err := service.IngestEnvelope(ctx, "channel-1", env); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res, err := service.IngestEnvelope(ctx, "channel-1", env)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Duplicate {
		t.Error("re-delivery must be flagged as duplicate")
	}

	conversation, _ := repo.GetConversation(ctx, "channel-1", "chat@s.whatsapp.net")
	if conversation.UnreadCount != 1 {
		t.Errorf("duplicate must not double count, got %d", conversation.UnreadCount)
	}
}

func TestIngestOutOfOrderKeepsNewestLastMessage(t *testing.T) {
	repo := newMemoryRepository()
	service, _, _ := newTestService(repo, nil)
	ctx := context.Background()

	if _, err := service.IngestEnvelope(ctx, "channel-1", textEnvelope("m2", "chat@s.whatsapp.net", "newer", 1700000500, false)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := service.IngestEnvelope(ctx, "channel-1", textEnvelope("m1", "chat@s.whatsapp.net", "older", 1700000000, false)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	conversation, _ := repo.GetConversation(ctx, "channel-1", "chat@s.whatsapp.net")
	if conversation.LastMessageBody != "newer" {
		t.Errorf("older message must not replace the newer row, got %q", conversation.LastMessageBody)
	}
	if conversation.UnreadCount != 2 {
		t.Errorf("older message still counts as unread, got %d", conversation.UnreadCount)
	}

	messages, _ := repo.ListMessages(ctx, "chat@s.whatsapp.net", 0)
	if len(messages) != 2 {
		t.Errorf("both messages must land in the store, got %d", len(messages))
	}
}

func TestMarkReadPersistsBeforeZeroing(t *testing.T) {
	repo := newMemoryRepository()
	service, _, _ := newTestService(repo, nil)
	ctx := context.Background()

	service.IngestEnvelope(ctx, "channel-1", textEnvelope("m1", "chat@s.whatsapp.net", "a", 1700000000, false))
	service.IngestEnvelope(ctx, "channel-1", textEnvelope("m2", "chat@s.whatsapp.net", "b", 1700000100, false))

	if err := service.MarkRead(ctx, "channel-1", "chat@s.whatsapp.net"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	count, _ := repo.CountUnread(ctx, "chat@s.whatsapp.net")
	if count != 0 {
		t.Errorf("store replay must yield zero unread, got %d", count)
	}
	conversation, _ := repo.GetConversation(ctx, "channel-1", "chat@s.whatsapp.net")
	if conversation.UnreadCount != 0 {
		t.Errorf("conversation row must be zeroed, got %d", conversation.UnreadCount)
	}
	summary, _ := service.Aggregator().Conversation("chat@s.whatsapp.net")
	if summary.UnreadCount != 0 {
		t.Errorf("local counter must be zeroed, got %d", summary.UnreadCount)
	}
}

func TestReloadFailureIsSticky(t *testing.T) {
	repo := newMemoryRepository()
	service, _, _ := newTestService(repo, nil)
	ctx := context.Background()

	service.IngestEnvelope(ctx, "channel-1", textEnvelope("m1", "chat@s.whatsapp.net", "a", 1700000000, false))

	repo.failList = true
	held, err := service.Reload(ctx, "channel-1")
	if err == nil {
		t.Fatal("expected reload error")
	}
	if len(held) != 1 {
		t.Errorf("held summaries must survive the failure, got %d", len(held))
	}
	if service.Aggregator().Healthy() {
		t.Error("expected unhealthy aggregator after failed reload")
	}

	repo.failList = false
	if _, err := service.Reload(ctx, "channel-1"); err != nil {
		t.Fatalf("retry must succeed: %v", err)
	}
	if !service.Aggregator().Healthy() {
		t.Error("successful retry must clear the error state")
	}
}

func TestSendMessageOptimisticThenEcho(t *testing.T) {
	repo := newMemoryRepository()
	sender := &stubSender{}
	service, _, _ := newTestService(repo, sender)
	ctx := context.Background()
	chatKey := "chat@s.whatsapp.net"

	service.IngestEnvelope(ctx, "channel-1", textEnvelope("m1", chatKey, "hej", 1700000000, false))
	service.ListMessages(ctx, chatKey, 0)

	res, err := service.SendMessage(ctx, "channel-1", chatKey, "odpowiedz", model.KindText, model.DirectionOperator)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Message.SendState != model.SendStatePending {
		t.Errorf("expected pending state before the echo, got %s", res.Message.SendState)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one gateway hand-off, got %d", len(sender.sent))
	}

	echo := textEnvelope("provider-77", chatKey, "odpowiedz", 1700000200, true)
	echo.ClientID = res.Message.ClientID
	ingestRes, err := service.IngestEnvelope(ctx, "channel-1", echo)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ingestRes.Reconciled {
		t.Fatal("echo must reconcile the optimistic message")
	}

	stored, err := repo.GetMessage(ctx, chatKey, res.Message.ClientID)
	if err != nil {
		t.Fatalf("reconciled row must keep its key: %v", err)
	}
	if stored.SendState != model.SendStateSent {
		t.Errorf("expected sent state, got %s", stored.SendState)
	}

	messages := service.Aggregator().Messages(chatKey)
	if len(messages) != 2 {
		t.Errorf("echo must not duplicate the optimistic message, got %d", len(messages))
	}
}

func TestSendMessageGatewayFailure(t *testing.T) {
	repo := newMemoryRepository()
	sender := &stubSender{err: errors.New("gateway refused")}
	service, _, _ := newTestService(repo, sender)
	ctx := context.Background()
	chatKey := "chat@s.whatsapp.net"

	service.ListMessages(ctx, chatKey, 0)
	res, err := service.SendMessage(ctx, "channel-1", chatKey, "hello", model.KindText, model.DirectionOperator)
	if err == nil {
		t.Fatal("expected gateway error")
	}
	var serviceErr *Error
	if !errors.As(err, &serviceErr) || serviceErr.Code != ErrorCodeUpstream {
		t.Errorf("expected upstream error code, got %v", err)
	}
	if !res.Failed {
		t.Error("result must flag the failure")
	}

	stored, getErr := repo.GetMessage(ctx, chatKey, res.Message.ClientID)
	if getErr != nil {
		t.Fatalf("failed message must stay in the store: %v", getErr)
	}
	if stored.SendState != model.SendStateFailed {
		t.Errorf("expected failed state, got %s", stored.SendState)
	}
}

func TestSetStatusValidatesAndPersists(t *testing.T) {
	repo := newMemoryRepository()
	service, _, _ := newTestService(repo, nil)
	ctx := context.Background()
	chatKey := "chat@s.whatsapp.net"

	service.IngestEnvelope(ctx, "channel-1", textEnvelope("m1", chatKey, "a", 1700000000, false))

	if err := service.SetStatus(ctx, "channel-1", chatKey, model.ConversationStatus("bogus")); err == nil {
		t.Fatal("expected validation error for unknown status")
	}

	if err := service.SetStatus(ctx, "channel-1", chatKey, model.ConversationStatusClosed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	conversation, _ := repo.GetConversation(ctx, "channel-1", chatKey)
	if conversation.Status != model.ConversationStatusClosed {
		t.Errorf("expected closed, got %s", conversation.Status)
	}
	summary, _ := service.Aggregator().Conversation(chatKey)
	if summary.Status != model.ConversationStatusClosed {
		t.Errorf("summary must follow, got %s", summary.Status)
	}
}

func TestVerifyWebhookKey(t *testing.T) {
	repo := newMemoryRepository()
	hash, err := bcrypt.GenerateFromPassword([]byte("wainbox_SECRET"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	repo.channels["channel-1"] = model.ChannelItem{
		ChannelID:         "channel-1",
		TenantID:          "tenant-1",
		WebhookSecretHash: string(hash),
	}
	service, _, _ := newTestService(repo, nil)
	ctx := context.Background()

	if _, err := service.VerifyWebhookKey(ctx, "channel-1", "wainbox_SECRET"); err != nil {
		t.Fatalf("expected valid key to pass: %v", err)
	}

	if _, err := service.VerifyWebhookKey(ctx, "channel-1", "wrong"); err == nil {
		t.Fatal("expected invalid key to fail")
	}
	if _, err := service.VerifyWebhookKey(ctx, "ghost", "wainbox_SECRET"); err == nil {
		t.Fatal("expected unknown channel to fail")
	}

	var serviceErr *Error
	_, err = service.VerifyWebhookKey(ctx, "channel-1", "wrong")
	if !errors.As(err, &serviceErr) || serviceErr.Code != ErrorCodeUnauthorized {
		t.Errorf("expected unauthorized code, got %v", err)
	}
}

func TestIngestEnvelopeRejectsNil(t *testing.T) {
	repo := newMemoryRepository()
	service, _, _ := newTestService(repo, nil)

	if _, err := service.IngestEnvelope(context.Background(), "channel-1", nil); err == nil {
		t.Fatal("expected error for nil envelope")
	}
}

type stubResponder struct {
	reply string
	err   error
}

func (s *stubResponder) Reply(ctx context.Context, history []model.MessageItem) (string, error) {
	return s.reply, s.err
}

func TestAutoReplyAnswersAIHandledConversation(t *testing.T) {
	repo := newMemoryRepository()
	sender := &stubSender{}
	service, _, _ := newTestService(repo, sender)
	service.SetAutoResponder(&stubResponder{reply: "automated answer"})
	ctx := context.Background()
	chatKey := "chat@s.whatsapp.net"

	service.IngestEnvelope(ctx, "channel-1", textEnvelope("m1", chatKey, "hello", 1700000000, false))
	if err := service.SetStatus(ctx, "channel-1", chatKey, model.ConversationStatusAIHandled); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	service.IngestEnvelope(ctx, "channel-1", textEnvelope("m2", chatKey, "are you there?", 1700000100, false))

	if len(sender.sent) != 1 {
		t.Fatalf("expected one automated send, got %d", len(sender.sent))
	}
	if sender.sent[0].Direction != model.DirectionAutomation {
		t.Errorf("expected automation direction, got %s", sender.sent[0].Direction)
	}
	if sender.sent[0].Body != "automated answer" {
		t.Errorf("unexpected reply body %q", sender.sent[0].Body)
	}
}

func TestAutoReplyFailureHandsBackToWaiting(t *testing.T) {
	repo := newMemoryRepository()
	service, _, _ := newTestService(repo, &stubSender{})
	service.SetAutoResponder(&stubResponder{err: errors.New("model unavailable")})
	ctx := context.Background()
	chatKey := "chat@s.whatsapp.net"

	service.IngestEnvelope(ctx, "channel-1", textEnvelope("m1", chatKey, "hello", 1700000000, false))
	service.SetStatus(ctx, "channel-1", chatKey, model.ConversationStatusAIHandled)

	service.IngestEnvelope(ctx, "channel-1", textEnvelope("m2", chatKey, "anyone?", 1700000100, false))

	conversation, _ := repo.GetConversation(ctx, "channel-1", chatKey)
	if conversation.Status != model.ConversationStatusWaiting {
		t.Errorf("responder failure must hand back to waiting, got %s", conversation.Status)
	}
}

func TestHandleTypingFansOut(t *testing.T) {
	repo := newMemoryRepository()
	service, clock, publisher := newTestService(repo, nil)
	ctx := context.Background()
	chatKey := "chat@s.whatsapp.net"

	service.IngestEnvelope(ctx, "channel-1", textEnvelope("m1", chatKey, "a", 1700000000, false))
	service.HandleTyping("channel-1", chatKey)

	summary, _ := service.Aggregator().Conversation(chatKey)
	if !summary.Typing {
		t.Error("expected typing indicator up")
	}
	if len(publisher.typing) != 1 {
		t.Errorf("expected one typing fan-out, got %d", len(publisher.typing))
	}

	clock.Advance(DefaultTypingWindow + time.Millisecond)
	summary, _ = service.Aggregator().Conversation(chatKey)
	if summary.Typing {
		t.Error("typing indicator must expire")
	}
}

func TestHandleTypingSurvivesPublishFailure(t *testing.T) {
	repo := newMemoryRepository()
	service, _, publisher := newTestService(repo, nil)
	publisher.failTyping = true
	ctx := context.Background()
	chatKey := "chat@s.whatsapp.net"

	service.IngestEnvelope(ctx, "channel-1", textEnvelope("m1", chatKey, "a", 1700000000, false))
	service.HandleTyping("channel-1", chatKey)

	summary, _ := service.Aggregator().Conversation(chatKey)
	if !summary.Typing {
		t.Error("local typing indicator must hold even when fan-out fails")
	}
}
