package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// DefaultGatewayURL is the Discord gateway endpoint.
const DefaultGatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"

// Gateway intents: message events, reaction events, and message content.
const gatewayIntents = 1<<9 | 1<<10 | 1<<15

// Gateway opcodes.
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatAck   = 11
)

// GatewayConfig configures the inbound Discord gateway connection.
type GatewayConfig struct {
	Token string

	// ChannelID restricts inbound events to the monitored channel. Empty
	// means events from any channel are handled.
	ChannelID string

	// URL overrides the gateway endpoint, mainly for tests.
	URL string

	// OnReady runs once per established session, after identify. Used for
	// the hello message.
	OnReady func(ctx context.Context)
}

// Gateway maintains a websocket session with Discord and forwards replies and
// reactions on the bot's own messages to the handler.
type Gateway struct {
	cfg     GatewayConfig
	handler Handler
	log     zerolog.Logger

	seq       atomic.Int64
	botUserID atomic.Value // string
}

// NewGateway creates a gateway feeding inbound events to handler.
func NewGateway(cfg GatewayConfig, handler Handler, logger zerolog.Logger) *Gateway {
	if cfg.URL == "" {
		cfg.URL = DefaultGatewayURL
	}
	return &Gateway{
		cfg:     cfg,
		handler: handler,
		log:     logger.With().Str("component", "discord-gateway").Logger(),
	}
}

// Run connects to the gateway and reconnects with backoff until the context
// is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = time.Minute
	bo.MaxElapsedTime = 0

	for {
		err := g.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		wait := bo.NextBackOff()
		g.log.Warn().Err(err).Dur("retry_in", wait).Msg("Gateway session ended, reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

type gatewayPayload struct {
	Op int             `json:"op"`
	T  string          `json:"t,omitempty"`
	S  *int64          `json:"s,omitempty"`
	D  json.RawMessage `json:"d,omitempty"`
}

// session runs one websocket connection: hello, identify, heartbeats, and the
// dispatch loop. It returns when the connection drops or the server asks for
// a reconnect.
func (g *Gateway) session(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, g.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dialing gateway: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(1 << 20)

	var hello gatewayPayload
	if err := wsjson.Read(ctx, conn, &hello); err != nil {
		return fmt.Errorf("reading hello: %w", err)
	}
	if hello.Op != opHello {
		return fmt.Errorf("expected hello, got opcode %d", hello.Op)
	}
	var helloData struct {
		HeartbeatInterval int64 `json:"heartbeat_interval"`
	}
	if err := json.Unmarshal(hello.D, &helloData); err != nil {
		return fmt.Errorf("decoding hello: %w", err)
	}

	identify := map[string]any{
		"token":   g.cfg.Token,
		"intents": gatewayIntents,
		"properties": map[string]string{
			"os":      "linux",
			"browser": "guardian-angel",
			"device":  "guardian-angel",
		},
	}
	if err := wsjson.Write(ctx, conn, gatewayPayload{Op: opIdentify, D: mustRaw(identify)}); err != nil {
		return fmt.Errorf("sending identify: %w", err)
	}

	heartbeatErr := make(chan error, 1)
	go g.heartbeat(ctx, conn, time.Duration(helloData.HeartbeatInterval)*time.Millisecond, heartbeatErr)

	for {
		select {
		case err := <-heartbeatErr:
			return err
		default:
		}

		var p gatewayPayload
		if err := wsjson.Read(ctx, conn, &p); err != nil {
			return fmt.Errorf("reading gateway payload: %w", err)
		}
		if p.S != nil {
			g.seq.Store(*p.S)
		}

		switch p.Op {
		case opDispatch:
			g.handleDispatch(ctx, p.T, p.D)
		case opHeartbeat:
			if err := g.sendHeartbeat(ctx, conn); err != nil {
				return err
			}
		case opReconnect:
			return errors.New("server requested reconnect")
		case opInvalidSession:
			return errors.New("session invalidated")
		case opHeartbeatAck:
			// Fine.
		}
	}
}

func (g *Gateway) heartbeat(ctx context.Context, conn *websocket.Conn, interval time.Duration, errc chan<- error) {
	if interval <= 0 {
		interval = 41250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.sendHeartbeat(ctx, conn); err != nil {
				select {
				case errc <- err:
				default:
				}
				return
			}
		}
	}
}

func (g *Gateway) sendHeartbeat(ctx context.Context, conn *websocket.Conn) error {
	seq := g.seq.Load()
	var d json.RawMessage
	if seq > 0 {
		d = mustRaw(seq)
	} else {
		d = json.RawMessage("null")
	}
	return wsjson.Write(ctx, conn, gatewayPayload{Op: opHeartbeat, D: d})
}

type gatewayAuthor struct {
	ID string `json:"id"`
}

type gatewayMessage struct {
	ID                string         `json:"id"`
	ChannelID         string         `json:"channel_id"`
	Content           string         `json:"content"`
	Author            gatewayAuthor  `json:"author"`
	ReferencedMessage *gatewayMessage `json:"referenced_message"`
}

type gatewayReaction struct {
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
	Emoji     struct {
		Name string `json:"name"`
	} `json:"emoji"`
}

// handleDispatch routes one dispatch event. Malformed or irrelevant events
// are dropped; only replies and reactions on our own messages reach the
// handler.
func (g *Gateway) handleDispatch(ctx context.Context, event string, data json.RawMessage) {
	switch event {
	case "READY":
		var ready struct {
			User gatewayAuthor `json:"user"`
		}
		if err := json.Unmarshal(data, &ready); err != nil {
			g.log.Error().Err(err).Msg("Decoding READY failed")
			return
		}
		g.botUserID.Store(ready.User.ID)
		g.log.Info().Str("bot_user", ready.User.ID).Msg("Gateway session ready")
		if g.cfg.OnReady != nil {
			go g.cfg.OnReady(ctx)
		}

	case "MESSAGE_CREATE":
		var msg gatewayMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			g.log.Error().Err(err).Msg("Decoding message event failed")
			return
		}
		if !g.relevantChannel(msg.ChannelID) || g.ownUser(msg.Author.ID) {
			return
		}
		// Only replies to our own messages matter.
		if msg.ReferencedMessage == nil || !g.ownUser(msg.ReferencedMessage.Author.ID) {
			return
		}
		g.handler.OnReply(ctx, Reply{
			MessageID: msg.ReferencedMessage.ID,
			AuthorID:  msg.Author.ID,
			Content:   msg.Content,
		})

	case "MESSAGE_REACTION_ADD":
		var r gatewayReaction
		if err := json.Unmarshal(data, &r); err != nil {
			g.log.Error().Err(err).Msg("Decoding reaction event failed")
			return
		}
		if !g.relevantChannel(r.ChannelID) || g.ownUser(r.UserID) {
			return
		}
		g.handler.OnReaction(ctx, Reaction{
			MessageID: r.MessageID,
			AuthorID:  r.UserID,
			Emoji:     r.Emoji.Name,
		})
	}
}

func (g *Gateway) relevantChannel(id string) bool {
	return g.cfg.ChannelID == "" || g.cfg.ChannelID == id
}

func (g *Gateway) ownUser(id string) bool {
	bot, _ := g.botUserID.Load().(string)
	return bot != "" && bot == id
}

func mustRaw(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
