package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"

	"github.com/dgnsrekt/haptic_agent/internal/hub"
	"github.com/dgnsrekt/haptic_agent/internal/protocol"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// wsRequest is the inbound session frame: a hub request plus an
// optional correlation id echoed back in the reply.
type wsRequest struct {
	ID int64 `json:"id,omitempty"`
	protocol.Request
}

// wsReply answers one wsRequest.
type wsReply struct {
	ID int64 `json:"id,omitempty"`
	protocol.Response
}

// wsPush is an unsolicited state broadcast.
type wsPush struct {
	Type  string               `json:"type"`
	State protocol.StateUpdate `json:"state"`
}

const sessionSendBuf = 64

// sessionHandler upgrades the connection and runs one hub session:
// inbound frames are dispatched, and every hub broadcast is pushed.
// All writes go through a single goroutine.
func sessionHandler(d Dispatcher, broker *hub.Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			slog.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		// The request context dies with the handler; the hijacked
		// connection outlives it.
		go runSession(context.Background(), conn, d, broker)
	}
}

func runSession(ctx context.Context, conn net.Conn, d Dispatcher, broker *hub.Broker) {
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	subID, updates := broker.Subscribe()
	defer broker.Unsubscribe(subID)

	send := make(chan []byte, sessionSendBuf)

	// Single writer.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case data, ok := <-send:
				if !ok {
					return
				}
				if err := wsutil.WriteServerText(conn, data); err != nil {
					slog.Debug("session write failed", "error", err)
					cancel()
					return
				}
			}
		}
	}()

	// Broadcast pump.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case upd, ok := <-updates:
				if !ok {
					return
				}
				data, err := json.Marshal(wsPush{Type: "state_update", State: upd})
				if err != nil {
					continue
				}
				select {
				case send <- data:
				default:
				}
			}
		}
	}()

	// Reader drives the session lifetime.
	for {
		data, err := wsutil.ReadClientText(conn)
		if err != nil {
			slog.Debug("session closed", "error", err)
			return
		}

		var req wsRequest
		if err := json.Unmarshal(data, &req); err != nil {
			reply, _ := json.Marshal(wsReply{Response: protocol.ErrorResponse("malformed request")})
			select {
			case send <- reply:
			default:
			}
			continue
		}

		resp := d.Dispatch(ctx, req.Request)
		reply, err := json.Marshal(wsReply{ID: req.ID, Response: resp})
		if err != nil {
			reply, _ = json.Marshal(wsReply{ID: req.ID, Response: protocol.ErrorResponse("internal error")})
		}
		select {
		case send <- reply:
		case <-ctx.Done():
			return
		}
	}
}
