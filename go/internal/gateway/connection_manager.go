// Package gateway lets browser peers join rooms over a websocket. The
// gateway holds no game state: it relays room subjects to and from sockets.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/wordparty/go/internal/broadcast"
	"github.com/mcdev12/wordparty/go/internal/presence"
	"github.com/mcdev12/wordparty/go/internal/room"
	"github.com/mcdev12/wordparty/go/internal/transport"
)

// Channel names a room subject inside a websocket frame.
type Channel string

const (
	ChannelEvents   Channel = "events"
	ChannelPresence Channel = "presence"
)

// Frame is the websocket wire format in both directions.
type Frame struct {
	Channel Channel         `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// ConnectionConfig holds websocket limits and timeouts.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default websocket settings.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  16 * 1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// roomHub is the set of sockets attached to one room and the bus
// subscriptions feeding them.
type roomHub struct {
	conns map[*Connection]bool
	subs  []transport.Subscription
}

type roomMessage struct {
	code  string
	frame []byte
}

// ConnectionManager tracks sockets per room and relays between them and the
// bus.
type ConnectionManager struct {
	bus transport.Bus

	rooms map[string]*roomHub
	mu    sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan roomMessage
}

// Connection is one websocket client attached to a room.
type Connection struct {
	ID       string
	RoomCode string
	Conn     *websocket.Conn
	Send     chan []byte
	Manager  *ConnectionManager

	ConnectedAt time.Time
}

// NewConnectionManager creates a manager relaying through bus.
func NewConnectionManager(bus transport.Bus, config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		bus:   bus,
		rooms: make(map[string]*roomHub),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan roomMessage, 1000),
	}
}

// Start fans bus traffic out to sockets until ctx is cancelled.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			cm.closeAll()
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP request to a websocket attached to a
// room.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, code string) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade websocket connection")
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		RoomCode:    code,
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBufferSize),
		Manager:     cm,
		ConnectedAt: time.Now(),
	}

	if err := cm.registerConnection(connection); err != nil {
		conn.Close()
		return err
	}

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("room", code).
		Str("remote_addr", r.RemoteAddr).
		Msg("websocket connection established")
	return nil
}

// registerConnection adds a socket to its room, subscribing the room's
// subjects when it is the first one.
func (cm *ConnectionManager) registerConnection(conn *Connection) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	hub, ok := cm.rooms[conn.RoomCode]
	if !ok {
		subs, err := cm.subscribeRoom(conn.RoomCode)
		if err != nil {
			return err
		}
		hub = &roomHub{conns: make(map[*Connection]bool), subs: subs}
		cm.rooms[conn.RoomCode] = hub
	}
	hub.conns[conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("room", conn.RoomCode).
		Int("total_connections", len(hub.conns)).
		Msg("connection registered")
	return nil
}

func (cm *ConnectionManager) subscribeRoom(code string) ([]transport.Subscription, error) {
	channels := []struct {
		channel Channel
		subject string
	}{
		{ChannelEvents, room.EventsSubject(code)},
		{ChannelPresence, room.PresenceSubject(code)},
	}

	var subs []transport.Subscription
	for _, c := range channels {
		channel := c.channel
		sub, err := cm.bus.Subscribe(c.subject, func(data []byte) {
			cm.enqueue(code, channel, data)
		})
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return nil, fmt.Errorf("subscribe %s: %w", c.subject, err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (cm *ConnectionManager) enqueue(code string, channel Channel, data []byte) {
	if !json.Valid(data) {
		log.Warn().Str("room", code).Str("channel", string(channel)).Msg("dropping non-json bus message")
		return
	}
	frame, err := json.Marshal(Frame{Channel: channel, Data: data})
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal frame")
		return
	}
	select {
	case cm.broadcastCh <- roomMessage{code: code, frame: frame}:
	default:
		log.Warn().Str("room", code).Msg("broadcast channel full, dropping message")
	}
}

// unregisterConnection removes a socket, releasing the room's subscriptions
// when it was the last one.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	hub, ok := cm.rooms[conn.RoomCode]
	if !ok {
		return
	}
	if _, ok := hub.conns[conn]; !ok {
		return
	}
	delete(hub.conns, conn)
	close(conn.Send)

	if len(hub.conns) == 0 {
		for _, sub := range hub.subs {
			if err := sub.Unsubscribe(); err != nil {
				log.Warn().Err(err).Str("room", conn.RoomCode).Msg("failed to unsubscribe room")
			}
		}
		delete(cm.rooms, conn.RoomCode)
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("room", conn.RoomCode).
		Msg("connection unregistered")
}

// handleBroadcast sends a frame to every socket in its room. Sends happen
// under the read lock so no socket's channel can be closed mid-send.
func (cm *ConnectionManager) handleBroadcast(message roomMessage) {
	cm.mu.RLock()
	hub, ok := cm.rooms[message.code]
	if !ok {
		cm.mu.RUnlock()
		return
	}
	sent := 0
	var slow []*Connection
	for conn := range hub.conns {
		select {
		case conn.Send <- message.frame:
			sent++
		default:
			slow = append(slow, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range slow {
		log.Warn().
			Str("connection_id", conn.ID).
			Str("room", conn.RoomCode).
			Msg("connection send buffer full, closing connection")
		cm.unregisterConnection(conn)
		conn.Conn.Close()
	}

	log.Debug().
		Str("room", message.code).
		Int("connections", sent).
		Msg("frame relayed")
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	var all []*Connection
	for _, hub := range cm.rooms {
		for conn := range hub.conns {
			all = append(all, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range all {
		cm.unregisterConnection(conn)
	}
}

// Stats reports connection counts per room.
func (cm *ConnectionManager) Stats() map[string]int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	out := make(map[string]int, len(cm.rooms))
	for code, hub := range cm.rooms {
		out[code] = len(hub.conns)
	}
	return out
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to websocket")
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected websocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage validates a frame from the browser and publishes it
// on the matching room subject. Invalid frames are dropped.
func (c *Connection) handleClientMessage(message []byte) {
	var frame Frame
	if err := json.Unmarshal(message, &frame); err != nil {
		log.Warn().Err(err).Str("connection_id", c.ID).Msg("dropping malformed frame")
		return
	}

	var subject string
	switch frame.Channel {
	case ChannelEvents:
		env, _, err := broadcast.Decode(frame.Data)
		if err != nil {
			log.Warn().Err(err).Str("connection_id", c.ID).Str("type", string(env.Type)).Msg("dropping invalid event frame")
			return
		}
		subject = room.EventsSubject(c.RoomCode)
	case ChannelPresence:
		if err := validBeacon(frame.Data); err != nil {
			log.Warn().Err(err).Str("connection_id", c.ID).Msg("dropping invalid presence frame")
			return
		}
		subject = room.PresenceSubject(c.RoomCode)
	default:
		log.Warn().Str("connection_id", c.ID).Str("channel", string(frame.Channel)).Msg("dropping frame for unknown channel")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.Manager.config.WriteTimeout)
	defer cancel()
	if err := c.Manager.bus.Publish(ctx, subject, frame.Data); err != nil {
		log.Warn().Err(err).Str("connection_id", c.ID).Str("subject", subject).Msg("failed to publish client frame")
	}
}

func validBeacon(data []byte) error {
	var b presence.Beacon
	if err := json.Unmarshal(data, &b); err != nil {
		return err
	}
	if b.PlayerID == "" {
		return fmt.Errorf("beacon without player id")
	}
	switch b.Kind {
	case presence.BeaconJoin, presence.BeaconHeartbeat, presence.BeaconLeave:
		return nil
	}
	return fmt.Errorf("unknown beacon kind %q", b.Kind)
}
