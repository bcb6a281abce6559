package websocket

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"whatsapp-inbox-backend/internal/env"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
)

var (
	upgrader    websocket.Upgrader
	redisClient *redis.Client
)

func init() {
	upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	redisClient = redis.NewClient(&redis.Options{
		Addr:     env.Get("CHAT_REDIS_URL"),
		Password: env.Get("CHAT_REDIS_PASS"),
		DB:       0,
	})
}

// CommandSink receives commands parsed off client sockets: typing signals
// and read acknowledgements.
type CommandSink interface {
	HandleCommand(channelID string, cmd ClientCommand)
}

type Handler struct {
	hub         *Hub
	redisClient *redis.Client
	commands    CommandSink
}

func NewHandler(h *Hub, commands CommandSink) *Handler {
	return &Handler{
		hub:         h,
		redisClient: redisClient,
		commands:    commands,
	}
}

func (h *Handler) subscribeToChannelRoom(channelID string) {
	if _, exists := h.hub.Rooms[channelID]; !exists {
		log.Printf("Channel room %s not found for subscription", channelID)
		return
	}

	log.Printf("Subscribing to Redis channel: %s", channelID)
	subscriber := h.redisClient.Subscribe(context.Background(), channelID)
	defer subscriber.Close()

	ch := subscriber.Channel()
	for msg := range ch {
		var event Event
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			log.Printf("Unparseable event on channel '%s': %v", channelID, err)
			continue
		}
		h.hub.Broadcast <- &broadcast{roomID: channelID, event: &event}
	}
	log.Printf("Unsubscribed from Redis channel: %s", channelID)
}

// CreateRoom opens the room for one channel and bridges its redis stream
// into the hub.
func (h *Handler) CreateRoom(channelID string) {
	if _, exists := h.hub.Rooms[channelID]; exists {
		return
	}

	room := &Room{
		Id:      channelID,
		Clients: make(map[string]*WSClient),
	}

	h.hub.Rooms[channelID] = room
	setRooms(len(h.hub.Rooms))

	go h.subscribeToChannelRoom(channelID)
}

// JoinRoom upgrades the request and attaches the operator to the channel
// room. The first event on the socket is a connection.status frame.
func (h *Handler) JoinRoom(w http.ResponseWriter, r *http.Request, channelID, operatorID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if conn == nil {
		http.Error(w, "Error conn", http.StatusBadRequest)
		return
	}

	cl := &WSClient{
		Conn:     conn,
		Message:  make(chan *Event, 10),
		ID:       operatorID,
		RoomID:   channelID,
		done:     make(chan struct{}),
		isClosed: false,
	}

	h.hub.Register <- cl

	cl.Message <- &Event{
		Type:      EventConnectionStatus,
		ChannelID: channelID,
		Timestamp: time.Now().Unix(),
	}

	go cl.keepAlive()
	go cl.writeMessage()
	go cl.readMessage(h.hub, h.commands)
}

func (h *Handler) GetRooms(w http.ResponseWriter, r *http.Request) {
	rooms := make([]RoomRes, 0)

	for _, room := range h.hub.Rooms {
		rooms = append(rooms, RoomRes{
			ID: room.Id,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(rooms)
}

func (h *Handler) SubscribeToRedisChannels() {
	for _, room := range h.hub.Rooms {
		go h.subscribeToChannelRoom(room.Id)
	}
}
