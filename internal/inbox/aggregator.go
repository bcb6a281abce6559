package inbox

import (
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"whatsapp-inbox-backend/internal/model"
)

// DefaultTypingWindow is how long a typing indicator stays up without a
// renewal from the push channel.
const DefaultTypingWindow = 3 * time.Second

// PushChannel is the conversation-room side of the socket connection. Join
// and Leave must tolerate duplicate joins and joins racing an earlier leave.
type PushChannel interface {
	Join(chatKey string) error
	Leave(chatKey string) error
}

// ConversationSummary is the display-ready state of one conversation as the
// aggregator currently knows it.
type ConversationSummary struct {
	ChatKey          string                   `json:"chatKey"`
	CounterpartLabel string                   `json:"counterpartLabel"`
	LastMessage      *model.MessageItem       `json:"lastMessage,omitempty"`
	UnreadCount      int                      `json:"unreadCount"`
	Status           model.ConversationStatus `json:"status"`
	Typing           bool                     `json:"typing"`
	TypingUntil      time.Time                `json:"typingUntil,omitempty"`
	LastActivityAt   int64                    `json:"lastActivityAt"`
}

// ConversationPatch is a conversation-level event that may arrive without an
// underlying message: status changes, label updates, server-side read
// receipts. Nil fields are left untouched.
type ConversationPatch struct {
	ChatKey          string
	Status           *model.ConversationStatus
	CounterpartLabel *string
	UnreadCount      *int
}

// ReloadToken tags an in-flight bulk reload with the context generation it
// was issued for and the moment it was issued. Both are compared when the
// reload completes.
type ReloadToken struct {
	Generation int
	IssuedAt   time.Time
}

type conversationState struct {
	summary     ConversationSummary
	readAt      time.Time
	typingTimer *time.Timer
}

// Aggregator maintains the live conversation summaries for one channel
// context. All mutation entry points take one mutex, which gives push
// events, read actions and reload completions the atomic-handler semantics
// the merge rules assume; interleaving across sources stays arbitrary.
type Aggregator struct {
	mu           sync.Mutex
	convs        map[string]*conversationState
	messages     map[string][]model.MessageItem
	generation   int
	lastErr      error
	now          func() time.Time
	typingWindow time.Duration

	channel PushChannel
	joined  map[string]int

	convListeners []func()
	msgListeners  map[string][]func()
}

func NewAggregator(channel PushChannel, now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	return &Aggregator{
		convs:        make(map[string]*conversationState),
		messages:     make(map[string][]model.MessageItem),
		now:          now,
		typingWindow: DefaultTypingWindow,
		channel:      channel,
		joined:       make(map[string]int),
		msgListeners: make(map[string][]func()),
	}
}

// SetTypingWindow overrides the typing indicator expiry window.
func (a *Aggregator) SetTypingWindow(window time.Duration) {
	if window <= 0 {
		return
	}
	a.mu.Lock()
	a.typingWindow = window
	a.mu.Unlock()
}

// SwitchContext clears all state and invalidates every in-flight reload
// issued for the previous channel context.
func (a *Aggregator) SwitchContext() {
	a.mu.Lock()
	for _, state := range a.convs {
		if state.typingTimer != nil {
			state.typingTimer.Stop()
		}
	}
	a.convs = make(map[string]*conversationState)
	a.messages = make(map[string][]model.MessageItem)
	a.joined = make(map[string]int)
	a.generation++
	a.lastErr = nil
	a.mu.Unlock()
	a.notifyConversations()
}

// ApplyMessage folds one canonical message into the summary set. First
// message for an unseen chatKey creates the conversation; for a known one
// the lastMessage only moves forward on the provider timestamp, ties going
// to the arriving event so same-instant messages honor arrival order.
func (a *Aggregator) ApplyMessage(msg model.MessageItem) {
	if msg.ChatKey == "" {
		log.Printf("[inbox] dropping message %s without chatKey", msg.MessageID)
		return
	}

	a.mu.Lock()
	state, ok := a.convs[msg.ChatKey]
	if !ok {
		state = &conversationState{
			summary: ConversationSummary{
				ChatKey:          msg.ChatKey,
				CounterpartLabel: counterpartFromKey(msg.ChatKey),
				Status:           model.ConversationStatusWaiting,
			},
		}
		a.convs[msg.ChatKey] = state
	}

	if state.summary.LastMessage == nil || msg.Timestamp >= state.summary.LastMessage.Timestamp {
		copied := msg
		state.summary.LastMessage = &copied
		if msg.Timestamp > state.summary.LastActivityAt {
			state.summary.LastActivityAt = msg.Timestamp
		}
	}
	if msg.Direction == model.DirectionContact && !msg.Read {
		state.summary.UnreadCount++
	}

	if cache, cached := a.messages[msg.ChatKey]; cached {
		a.messages[msg.ChatKey] = upsertMessage(cache, msg)
	}
	a.mu.Unlock()

	a.notifyConversations()
	a.notifyMessages(msg.ChatKey)
}

// ApplyPatch shallow-merges a conversation-level event. A patch for an
// unknown chatKey carries too little to synthesize a conversation from, so
// it is logged and dropped without touching anything.
func (a *Aggregator) ApplyPatch(patch ConversationPatch) {
	a.mu.Lock()
	state, ok := a.convs[patch.ChatKey]
	if !ok {
		a.mu.Unlock()
		log.Printf("[inbox] ignoring patch for unknown conversation %q", patch.ChatKey)
		return
	}
	if patch.Status != nil && model.ValidConversationStatus(*patch.Status) {
		state.summary.Status = *patch.Status
	}
	if patch.CounterpartLabel != nil && *patch.CounterpartLabel != "" {
		state.summary.CounterpartLabel = *patch.CounterpartLabel
	}
	if patch.UnreadCount != nil {
		state.summary.UnreadCount = *patch.UnreadCount
	}
	a.mu.Unlock()
	a.notifyConversations()
}

// MarkRead zeroes the unread counter optimistically and stamps the moment,
// so a reload issued before this action cannot resurrect the old count. The
// store write happens in the service before this is called.
func (a *Aggregator) MarkRead(chatKey string) {
	a.mu.Lock()
	state, ok := a.convs[chatKey]
	if ok {
		state.summary.UnreadCount = 0
		state.readAt = a.now()
	}
	a.mu.Unlock()
	if ok {
		a.notifyConversations()
	}
}

// ApplyTyping raises the typing indicator for the fixed window; a renewal
// restarts the clock. Expiry is purely local.
func (a *Aggregator) ApplyTyping(chatKey string) {
	a.mu.Lock()
	state, ok := a.convs[chatKey]
	if !ok {
		a.mu.Unlock()
		log.Printf("[inbox] ignoring typing event for unknown conversation %q", chatKey)
		return
	}
	state.summary.TypingUntil = a.now().Add(a.typingWindow)
	if state.typingTimer != nil {
		state.typingTimer.Stop()
	}
	state.typingTimer = time.AfterFunc(a.typingWindow, func() {
		a.expireTyping(chatKey)
	})
	a.mu.Unlock()
	a.notifyConversations()
}

func (a *Aggregator) expireTyping(chatKey string) {
	a.mu.Lock()
	state, ok := a.convs[chatKey]
	changed := false
	if ok && !state.summary.TypingUntil.IsZero() && !a.now().Before(state.summary.TypingUntil) {
		state.summary.TypingUntil = time.Time{}
		changed = true
	}
	a.mu.Unlock()
	if changed {
		a.notifyConversations()
	}
}

// BeginReload stamps an about-to-be-issued bulk reload.
func (a *Aggregator) BeginReload() ReloadToken {
	a.mu.Lock()
	defer a.mu.Unlock()
	return ReloadToken{Generation: a.generation, IssuedAt: a.now()}
}

// CompleteReload folds an authoritative store snapshot in. A row fully
// replaces the local summary unless a push update moved the conversation
// past the snapshot: the same ≥-timestamp rule as ApplyMessage decides,
// per conversation. Unread counts from a snapshot older than a local read
// action are ignored. A stale-generation result is discarded whole.
func (a *Aggregator) CompleteReload(token ReloadToken, rows []model.ConversationItem) {
	a.mu.Lock()
	if token.Generation != a.generation {
		a.mu.Unlock()
		log.Printf("[inbox] discarding reload for a switched context")
		return
	}
	a.lastErr = nil

	for _, row := range rows {
		if row.ChatKey == "" {
			log.Printf("[inbox] ignoring reload row without chatKey (pk %q)", row.PK)
			continue
		}
		state, ok := a.convs[row.ChatKey]
		if !ok {
			state = &conversationState{}
			a.convs[row.ChatKey] = state
		}

		localNewer := state.summary.LastMessage != nil &&
			state.summary.LastMessage.Timestamp > row.LastMessageAt

		next := ConversationSummary{
			ChatKey:          row.ChatKey,
			CounterpartLabel: row.CounterpartLabel,
			Status:           row.Status,
			UnreadCount:      row.UnreadCount,
			LastActivityAt:   row.LastActivityAt,
			TypingUntil:      state.summary.TypingUntil,
		}
		if next.CounterpartLabel == "" {
			next.CounterpartLabel = counterpartFromKey(row.ChatKey)
		}
		if row.LastMessageID != "" {
			next.LastMessage = &model.MessageItem{
				PK:        model.MessagePK(row.ChatKey, row.LastMessageID),
				ChannelID: row.ChannelID,
				ChatKey:   row.ChatKey,
				MessageID: row.LastMessageID,
				Body:      row.LastMessageBody,
				Timestamp: row.LastMessageAt,
			}
		}

		if localNewer {
			// Push events moved this conversation past the snapshot while
			// the reload was in flight; keep the fresher message state.
			next.LastMessage = state.summary.LastMessage
			next.UnreadCount = state.summary.UnreadCount
			if state.summary.LastActivityAt > next.LastActivityAt {
				next.LastActivityAt = state.summary.LastActivityAt
			}
		} else if state.readAt.After(token.IssuedAt) {
			// The snapshot predates a local read action (scenario: markRead
			// racing a lagging server); the optimistic zero stands.
			next.UnreadCount = 0
		}

		state.summary = next
	}
	a.mu.Unlock()
	a.notifyConversations()
}

// FailReload records a reload failure as sticky observable state. Held
// summaries stay untouched; retry is up to the caller.
func (a *Aggregator) FailReload(token ReloadToken, err error) {
	a.mu.Lock()
	if token.Generation == a.generation {
		a.lastErr = err
	}
	a.mu.Unlock()
}

// Healthy reports false while the last reload for the current context
// failed and has not been retried successfully.
func (a *Aggregator) Healthy() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr == nil
}

func (a *Aggregator) LastError() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

// Conversations returns the summaries sorted for display: last message time
// descending, falling back to the store's last-activity stamp for
// conversations with no messages yet.
func (a *Aggregator) Conversations() []ConversationSummary {
	a.mu.Lock()
	now := a.now()
	out := make([]ConversationSummary, 0, len(a.convs))
	for _, state := range a.convs {
		summary := state.summary
		summary.Typing = !summary.TypingUntil.IsZero() && summary.TypingUntil.After(now)
		if summary.LastMessage != nil {
			copied := *summary.LastMessage
			summary.LastMessage = &copied
		}
		out = append(out, summary)
	}
	a.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return sortStamp(out[i]) > sortStamp(out[j])
	})
	return out
}

// Conversation returns one summary by chatKey.
func (a *Aggregator) Conversation(chatKey string) (ConversationSummary, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	state, ok := a.convs[chatKey]
	if !ok {
		return ConversationSummary{}, false
	}
	summary := state.summary
	summary.Typing = !summary.TypingUntil.IsZero() && summary.TypingUntil.After(a.now())
	if summary.LastMessage != nil {
		copied := *summary.LastMessage
		summary.LastMessage = &copied
	}
	return summary, true
}

// SetMessages primes the per-chat message cache from a store fetch.
func (a *Aggregator) SetMessages(chatKey string, msgs []model.MessageItem) {
	sorted := append([]model.MessageItem(nil), msgs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})
	a.mu.Lock()
	a.messages[chatKey] = sorted
	a.mu.Unlock()
	a.notifyMessages(chatKey)
}

// Messages returns the cached chronological messages for one chat.
func (a *Aggregator) Messages(chatKey string) []model.MessageItem {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]model.MessageItem(nil), a.messages[chatKey]...)
}

// ReconcileSend resolves an optimistic outbound message against the
// authoritative echo, matching on the client correlation id first and
// falling back to a close body/time match for gateways that strip it.
func (a *Aggregator) ReconcileSend(chatKey string, echo model.MessageItem) (string, bool) {
	a.mu.Lock()
	cache := a.messages[chatKey]
	clientID := ""
	for i := range cache {
		if cache[i].SendState != model.SendStatePending || cache[i].Direction == model.DirectionContact {
			continue
		}
		if echo.ClientID != "" && cache[i].ClientID == echo.ClientID {
			clientID = cache[i].ClientID
		} else if echo.ClientID == "" && cache[i].Body == echo.Body &&
			absMillis(cache[i].Timestamp-echo.Timestamp) <= 60_000 {
			clientID = cache[i].ClientID
		}
		if clientID != "" {
			echo.ClientID = clientID
			echo.MessageID = clientID
			echo.PK = model.MessagePK(chatKey, clientID)
			echo.SendState = model.SendStateSent
			cache[i] = echo
			break
		}
	}
	a.messages[chatKey] = cache

	if clientID == "" {
		a.mu.Unlock()
		return "", false
	}

	if state, ok := a.convs[chatKey]; ok {
		if state.summary.LastMessage != nil && state.summary.LastMessage.ClientID == clientID {
			copied := echo
			state.summary.LastMessage = &copied
		}
	}
	a.mu.Unlock()
	a.notifyMessages(chatKey)
	a.notifyConversations()
	return clientID, true
}

// MarkSendFailed flips an optimistic message into the failed sub-state so
// the UI can offer a retry; the message is never removed.
func (a *Aggregator) MarkSendFailed(chatKey, clientID string) {
	a.mu.Lock()
	cache := a.messages[chatKey]
	for i := range cache {
		if cache[i].ClientID == clientID {
			cache[i].SendState = model.SendStateFailed
			break
		}
	}
	if state, ok := a.convs[chatKey]; ok {
		if state.summary.LastMessage != nil && state.summary.LastMessage.ClientID == clientID {
			state.summary.LastMessage.SendState = model.SendStateFailed
		}
	}
	a.mu.Unlock()
	a.notifyMessages(chatKey)
	a.notifyConversations()
}

// SelectConversation joins the conversation room, ref-counted so repeated
// selections and select-before-previous-leave-finished stay harmless.
func (a *Aggregator) SelectConversation(chatKey string) {
	a.mu.Lock()
	a.joined[chatKey]++
	first := a.joined[chatKey] == 1
	a.mu.Unlock()

	if first && a.channel != nil {
		if err := a.channel.Join(chatKey); err != nil {
			log.Printf("[inbox] join %s: %v", chatKey, err)
		}
	}
}

func (a *Aggregator) DeselectConversation(chatKey string) {
	a.mu.Lock()
	if a.joined[chatKey] > 0 {
		a.joined[chatKey]--
	}
	last := a.joined[chatKey] == 0
	a.mu.Unlock()

	if last && a.channel != nil {
		if err := a.channel.Leave(chatKey); err != nil {
			log.Printf("[inbox] leave %s: %v", chatKey, err)
		}
	}
}

// OnConversationsChanged registers a callback fired after any summary
// mutation. Callbacks run outside the aggregator lock.
func (a *Aggregator) OnConversationsChanged(fn func()) {
	a.mu.Lock()
	a.convListeners = append(a.convListeners, fn)
	a.mu.Unlock()
}

func (a *Aggregator) OnMessagesChanged(chatKey string, fn func()) {
	a.mu.Lock()
	a.msgListeners[chatKey] = append(a.msgListeners[chatKey], fn)
	a.mu.Unlock()
}

func (a *Aggregator) notifyConversations() {
	a.mu.Lock()
	listeners := append([]func(){}, a.convListeners...)
	a.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

func (a *Aggregator) notifyMessages(chatKey string) {
	a.mu.Lock()
	listeners := append([]func(){}, a.msgListeners[chatKey]...)
	a.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

func sortStamp(s ConversationSummary) int64 {
	if s.LastMessage != nil {
		return s.LastMessage.Timestamp
	}
	return s.LastActivityAt
}

func upsertMessage(cache []model.MessageItem, msg model.MessageItem) []model.MessageItem {
	for i := range cache {
		if cache[i].MessageID == msg.MessageID {
			cache[i] = msg
			return cache
		}
	}
	cache = append(cache, msg)
	sort.SliceStable(cache, func(i, j int) bool {
		return cache[i].Timestamp < cache[j].Timestamp
	})
	return cache
}

// counterpartFromKey derives a display fallback from the address part of a
// chat key like "48500100200@s.whatsapp.net".
func counterpartFromKey(chatKey string) string {
	if at := strings.Index(chatKey, "@"); at > 0 {
		return chatKey[:at]
	}
	return chatKey
}

func absMillis(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
