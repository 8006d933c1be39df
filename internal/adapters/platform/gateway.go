package platform

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dkeye/tempvoice/internal/core"
	"github.com/dkeye/tempvoice/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrBackpressure = errors.New("backpressure")

const (
	frameVoiceState = "voice_state_update"
	framePing       = "ping"
	framePong       = "pong"
	frameHello      = "hello"
)

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type GatewayConfig struct {
	URL   string
	Token string
	// ReconnectMin and ReconnectMax bound the exponential reconnect delay.
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// Gateway reads voice-state events from the platform's websocket gateway
// and hands them to the handler one at a time, in arrival order.
type Gateway struct {
	cfg     GatewayConfig
	handler core.VoiceStateHandler
	dialer  *websocket.Dialer
}

func NewGateway(cfg GatewayConfig, handler core.VoiceStateHandler) *Gateway {
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = 500 * time.Millisecond
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = time.Minute
	}
	return &Gateway{
		cfg:     cfg,
		handler: handler,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Run keeps a gateway session open until ctx is cancelled, reconnecting
// with exponential backoff. The delay resets after every session that
// managed to connect.
func (g *Gateway) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.cfg.ReconnectMin
	b.MaxInterval = g.cfg.ReconnectMax

	for {
		connected, err := g.session(ctx)
		if ctx.Err() != nil {
			log.Info().Str("module", "gateway").Msg("gateway stopped")
			return nil
		}
		if connected {
			b.Reset()
		}
		wait := b.NextBackOff()
		log.Warn().Err(err).Str("module", "gateway").Dur("retry_in", wait).Msg("gateway session ended")

		select {
		case <-ctx.Done():
			log.Info().Str("module", "gateway").Msg("gateway stopped")
			return nil
		case <-time.After(wait):
		}
	}
}

type gatewayConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *gatewayConn) TrySend(b []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- b:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *gatewayConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
}

// session runs one connection to completion and reports whether the dial succeeded.
func (g *Gateway) session(ctx context.Context) (bool, error) {
	header := http.Header{}
	if g.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+g.cfg.Token)
	}
	ws, _, err := g.dialer.DialContext(ctx, g.cfg.URL, header)
	if err != nil {
		return false, err
	}
	log.Info().Str("module", "gateway").Str("url", g.cfg.URL).Msg("gateway connected")

	c := &gatewayConn{conn: ws, send: make(chan []byte, 32)}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go g.writePump(ctx, c)
	go func() {
		// Unblocks ReadMessage on shutdown.
		<-ctx.Done()
		c.Close()
	}()

	return true, g.readPump(ctx, c)
}

func (g *Gateway) writePump(ctx context.Context, c *gatewayConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "gateway").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "gateway").Msg("writePump write error")
				return
			}
		}
	}
}

func (g *Gateway) readPump(ctx context.Context, c *gatewayConn) error {
	defer c.Close()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		g.handleFrame(ctx, c, data)
	}
}

func (g *Gateway) handleFrame(ctx context.Context, c *gatewayConn, data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		log.Error().Err(err).Str("module", "gateway").Msg("bad json")
		return
	}

	switch f.Type {
	case frameVoiceState:
		var ev domain.VoiceStateEvent
		if err := json.Unmarshal(f.Data, &ev); err != nil {
			log.Error().Err(err).Str("module", "gateway").Msg("bad voice_state_update payload")
			return
		}
		if ev.CommunityID == "" || ev.MemberID == "" {
			log.Warn().Str("module", "gateway").Msg("voice_state_update without community or member")
			return
		}
		g.handler.HandleVoiceState(ctx, ev)
	case framePing:
		g.sendJSON(c, frame{Type: framePong})
	case frameHello:
		log.Debug().Str("module", "gateway").Msg("gateway hello")
	default:
		log.Debug().Str("module", "gateway").Str("type", f.Type).Msg("ignoring frame")
	}
}

func (g *Gateway) sendJSON(c *gatewayConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "gateway").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "gateway").Msg("sendJSON")
	}
}
