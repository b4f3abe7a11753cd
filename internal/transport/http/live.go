// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/adiadia/live-scoreboard/internal/domain"
	"github.com/adiadia/live-scoreboard/internal/subscription"
	"github.com/google/uuid"
	"golang.org/x/net/websocket"
)

const (
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	frameAck         = "ack"
	frameError       = "error"

	maxDecodeErrorsPerConn = 5
)

// wsClientFrame is a control frame sent by the observer.
type wsClientFrame struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	EventID   string `json:"event_id"`
}

// wsFrame is a server frame.
type wsFrame struct {
	Type      string              `json:"type"`
	RequestID string              `json:"request_id,omitempty"`
	EventID   *uuid.UUID          `json:"event_id,omitempty"`
	Version   *domain.Version     `json:"version,omitempty"`
	Event     *domain.EventRecord `json:"event,omitempty"`
	Error     *wsError            `json:"error,omitempty"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// wsPeer serializes writes from the read loop and the send loop.
type wsPeer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func (p *wsPeer) writeFrame(f wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enc.Encode(f)
}

type liveHandler struct {
	registry  *subscription.Registry
	snapshots subscription.Snapshotter
	queueSize int
	logger    *slog.Logger
}

func (h *liveHandler) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	if h.registry == nil || h.snapshots == nil {
		http.Error(w, "live channel not configured", http.StatusServiceUnavailable)
		return
	}

	websocket.Handler(func(ws *websocket.Conn) {
		h.handleWSConn(r.Context(), ws)
	}).ServeHTTP(w, r)
}

func (h *liveHandler) handleWSConn(ctx context.Context, ws *websocket.Conn) {
	conn := subscription.NewConn(h.queueSize)
	h.registry.Track(conn)
	defer h.registry.DropConnection(conn)
	defer func() {
		_ = ws.Close()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	peer := &wsPeer{enc: json.NewEncoder(ws)}

	sendDone := make(chan struct{})
	go func() {
		defer close(sendDone)
		h.sendLoop(ctx, conn, peer)
		// unblock the read loop if the send side failed first
		_ = ws.Close()
	}()

	h.readLoop(ctx, ws, conn, peer)

	cancel()
	conn.Close()
	<-sendDone
}

func (h *liveHandler) readLoop(ctx context.Context, ws *websocket.Conn, conn *subscription.Conn, peer *wsPeer) {
	decoder := json.NewDecoder(ws)
	decodeErrors := 0

	for {
		var frame wsClientFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return
			}
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if !errors.As(err, &syntaxErr) && !errors.As(err, &typeErr) {
				h.logger.Debug("websocket read failed", "conn_id", conn.ID, "error", err)
				return
			}
			decodeErrors++
			_ = writeWSError(peer, "", "INVALID_ARGUMENT", "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			// the decoder cannot resync after a syntax error
			if syntaxErr != nil {
				return
			}
			continue
		}
		decodeErrors = 0

		if frame.Type != frameSubscribe && frame.Type != frameUnsubscribe {
			_ = writeWSError(peer, frame.RequestID, "INVALID_ARGUMENT", "unsupported frame type")
			continue
		}
		eventID, err := uuid.Parse(frame.EventID)
		if err != nil {
			_ = writeWSError(peer, frame.RequestID, "INVALID_ARGUMENT", "event_id must be a UUID")
			continue
		}

		switch frame.Type {
		case frameSubscribe:
			if _, err := h.registry.Subscribe(ctx, conn, eventID, h.snapshots); err != nil {
				code, msg := wsErrorFor(err)
				_ = writeWSError(peer, frame.RequestID, code, msg)
				continue
			}
			_ = peer.writeFrame(wsFrame{Type: frameAck, RequestID: frame.RequestID, EventID: &eventID})
		case frameUnsubscribe:
			h.registry.Unsubscribe(conn, eventID)
			_ = peer.writeFrame(wsFrame{Type: frameAck, RequestID: frame.RequestID, EventID: &eventID})
		}
	}
}

// sendLoop drains the connection's outbound queue onto the socket.
func (h *liveHandler) sendLoop(ctx context.Context, conn *subscription.Conn, peer *wsPeer) {
	for {
		msg, err := conn.Next(ctx)
		if err != nil {
			return
		}
		if err := peer.writeFrame(frameFromMessage(msg)); err != nil {
			h.logger.Debug("websocket write failed", "conn_id", conn.ID, "error", err)
			return
		}
	}
}

func frameFromMessage(msg subscription.Message) wsFrame {
	eventID := msg.EventID
	version := msg.Version
	return wsFrame{
		Type:    string(msg.Type),
		EventID: &eventID,
		Version: &version,
		Event:   msg.Event,
	}
}

func writeWSError(peer *wsPeer, requestID, code, message string) error {
	return peer.writeFrame(wsFrame{
		Type:      frameError,
		RequestID: requestID,
		Error:     &wsError{Code: code, Message: message},
	})
}

func wsErrorFor(err error) (string, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "NOT_FOUND", "event not found"
	case errors.Is(err, subscription.ErrConnClosed):
		return "UNAVAILABLE", "connection closing"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "UNAVAILABLE", "subscription interrupted"
	default:
		return "INTERNAL", "subscription failed"
	}
}

// ---------------- SSE ----------------

func (h *liveHandler) serveSSE(w http.ResponseWriter, r *http.Request) {
	id, ok := eventIDParam(w, r)
	if !ok {
		return
	}
	if h.registry == nil || h.snapshots == nil {
		http.Error(w, "live channel not configured", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	conn := subscription.NewConn(h.queueSize)
	h.registry.Track(conn)
	defer h.registry.DropConnection(conn)

	if _, err := h.registry.Subscribe(r.Context(), conn, id, h.snapshots); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "event not found", http.StatusNotFound)
			return
		}
		h.logger.Error("sse subscribe failed", "event_id", id, "error", err)
		http.Error(w, "failed to stream event", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		msg, err := conn.Next(r.Context())
		if err != nil {
			return
		}

		name := "state"
		var payload any = msg.Event
		if msg.Type == subscription.MessageRemoved {
			name = "removed"
			payload = map[string]any{"event_id": msg.EventID, "version": msg.Version}
		}

		data, err := json.Marshal(payload)
		if err != nil {
			h.logger.Error("sse encode failed", "event_id", id, "error", err)
			return
		}
		if _, err := fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", name, msg.Version, data); err != nil {
			return
		}
		flusher.Flush()

		if msg.Type == subscription.MessageRemoved {
			return
		}
	}
}
