package qq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Gateway opcodes.
const (
	opDispatch     = 0
	opHeartbeat    = 1
	opIdentify     = 2
	opHello        = 10
	opHeartbeatAck = 11
)

// C2C and direct message intent bits.
const intentC2CMessages = 1 << 25

const reconnectDelay = 5 * time.Second

type gatewayPayload struct {
	Op   int             `json:"op"`
	Seq  int64           `json:"s,omitempty"`
	Type string          `json:"t,omitempty"`
	Data json.RawMessage `json:"d,omitempty"`
}

// runGateway keeps a websocket session to the QQ gateway alive, identifying
// on connect and reconnecting with a fixed delay on any failure. Dispatched
// C2C message events are forwarded to handle.
func (a *Adapter) runGateway(ctx context.Context, handle func(context.Context, c2cMessageEvent)) {
	for {
		if err := a.gatewaySession(ctx, handle); err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logger.Warn("qq gateway session ended, reconnecting",
				slog.String("err", err.Error()),
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (a *Adapter) gatewaySession(ctx context.Context, handle func(context.Context, c2cMessageEvent)) error {
	url, err := a.api.gatewayURL(ctx)
	if err != nil {
		return fmt.Errorf("resolving gateway url: %w", err)
	}

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dialing gateway: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(1 << 22)

	var hello gatewayPayload
	if err := wsjson.Read(ctx, conn, &hello); err != nil {
		return fmt.Errorf("reading hello: %w", err)
	}
	if hello.Op != opHello {
		return fmt.Errorf("expected hello, got op %d", hello.Op)
	}

	var helloData struct {
		HeartbeatInterval int `json:"heartbeat_interval"`
	}
	if err := json.Unmarshal(hello.Data, &helloData); err != nil {
		return fmt.Errorf("parsing hello: %w", err)
	}
	if helloData.HeartbeatInterval <= 0 {
		helloData.HeartbeatInterval = 45000
	}

	token, err := a.api.accessToken(ctx)
	if err != nil {
		return fmt.Errorf("identify token: %w", err)
	}

	identify := map[string]any{
		"op": opIdentify,
		"d": map[string]any{
			"token":   "QQBot " + token,
			"intents": intentC2CMessages,
			"shard":   []int{0, 1},
		},
	}
	if err := wsjson.Write(ctx, conn, identify); err != nil {
		return fmt.Errorf("sending identify: %w", err)
	}

	a.logger.Info("qq gateway connected")

	var lastSeq int64
	heartbeat := time.NewTicker(time.Duration(helloData.HeartbeatInterval) * time.Millisecond)
	defer heartbeat.Stop()

	readErr := make(chan error, 1)
	events := make(chan gatewayPayload, 16)
	go func() {
		for {
			var p gatewayPayload
			if err := wsjson.Read(ctx, conn, &p); err != nil {
				readErr <- err
				return
			}
			events <- p
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return fmt.Errorf("gateway read: %w", err)
		case <-heartbeat.C:
			hb := gatewayPayload{Op: opHeartbeat, Seq: lastSeq}
			if err := wsjson.Write(ctx, conn, hb); err != nil {
				return fmt.Errorf("sending heartbeat: %w", err)
			}
		case p := <-events:
			if p.Seq > 0 {
				lastSeq = p.Seq
			}
			switch p.Op {
			case opDispatch:
				if p.Type != "C2C_MESSAGE_CREATE" && p.Type != "DIRECT_MESSAGE_CREATE" {
					continue
				}
				var ev c2cMessageEvent
				if err := json.Unmarshal(p.Data, &ev); err != nil {
					a.logger.Warn("qq: unparseable message event", slog.String("err", err.Error()))
					continue
				}
				go handle(ctx, ev)
			case opHeartbeatAck:
				// expected, nothing to do
			}
		}
	}
}
