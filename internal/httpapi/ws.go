package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/runcoach/internal/protocol"
)

const (
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
)

func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	clientID, ok := resolveClientID(w, r.URL.Query().Get("client_id"), r.Header.Get(clientIDHeader))
	if !ok {
		return
	}
	if s.deps.Turns == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "chat not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 16)
	outbound := make(chan any, 256)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		s.runConnection(ctx, clientID, inbound, outbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.ObserveWS("outbound", string(t))
				}
			}
		}
	}()

	send(ctx, outbound, protocol.SystemEvent{
		Type:     protocol.TypeSystemEvent,
		ClientID: clientID,
		Code:     "connected",
	})

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			send(ctx, outbound, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				ClientID:  clientID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			})
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.ObserveWS("inbound", string(t))
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
}

// runConnection handles one client's messages in order, so turns on a single
// connection never overlap.
func (s *Server) runConnection(ctx context.Context, clientID string, inbound <-chan any, outbound chan<- any) {
	for msg := range inbound {
		switch m := msg.(type) {
		case protocol.ClientMessage:
			if m.ClientID != "" && m.ClientID != clientID {
				send(ctx, outbound, protocol.ErrorEvent{
					Type:     protocol.TypeErrorEvent,
					ClientID: clientID,
					Code:     "client_mismatch",
					Source:   "gateway",
					Detail:   "client_id does not match the connection",
				})
				continue
			}
			s.runTurn(ctx, clientID, m.Text, outbound)
		case protocol.ClientControl:
			switch m.Action {
			case protocol.ActionPing:
				send(ctx, outbound, protocol.SystemEvent{Type: protocol.TypeSystemEvent, ClientID: clientID, Code: "pong"})
			case protocol.ActionReset:
				if s.deps.Sessions == nil {
					continue
				}
				res, err := s.deps.Sessions.Reset(ctx, clientID)
				if err != nil {
					send(ctx, outbound, protocol.ErrorEvent{
						Type:      protocol.TypeErrorEvent,
						ClientID:  clientID,
						Code:      "reset_failed",
						Source:    "session",
						Retryable: true,
						Detail:    err.Error(),
					})
					continue
				}
				send(ctx, outbound, protocol.SystemEvent{
					Type:     protocol.TypeSystemEvent,
					ClientID: clientID,
					Code:     "session_reset",
					Detail:   resetDetail(res.MessagesDeleted, res.PlansDeleted),
				})
			}
		}
	}
}

func (s *Server) runTurn(ctx context.Context, clientID, text string, outbound chan<- any) {
	turnID := uuid.NewString()
	res, err := s.deps.Turns.HandleTurnStream(ctx, clientID, text, func(delta string) error {
		if !send(ctx, outbound, protocol.AssistantTextDelta{
			Type:      protocol.TypeAssistantTextDelta,
			ClientID:  clientID,
			TurnID:    turnID,
			TextDelta: delta,
		}) {
			return ctx.Err()
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.log.Error().Err(err).Str("client_id", clientID).Msg("websocket turn failed")
		send(ctx, outbound, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			ClientID:  clientID,
			Code:      "turn_failed",
			Source:    "coach",
			Retryable: true,
			Detail:    err.Error(),
		})
		return
	}
	send(ctx, outbound, protocol.AssistantTurnEnd{
		Type:        protocol.TypeAssistantTurnEnd,
		ClientID:    clientID,
		TurnID:      turnID,
		Reply:       res.Reply,
		PlanUpdated: res.PlanUpdated,
		Version:     res.Version,
		Plan:        res.Plan,
	})
}

// send queues msg unless the connection is closing.
func send(ctx context.Context, outbound chan<- any, msg any) bool {
	select {
	case <-ctx.Done():
		return false
	case outbound <- msg:
		return true
	}
}

func resetDetail(messages, plans int64) string {
	return fmt.Sprintf("%d messages, %d plans deleted", messages, plans)
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientMessage:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.AssistantTextDelta:
		return m.Type, true
	case protocol.AssistantTurnEnd:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
