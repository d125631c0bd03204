// Costboard Gateway - realtime presence and event fan-out for Costboard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/costboard/gateway

package websocket

import (
	"github.com/goccy/go-json"

	"github.com/costboard/gateway/internal/gateway"
	"github.com/costboard/gateway/internal/metrics"
	"github.com/costboard/gateway/internal/validation"
)

// Inbound command types. Join, leave and typing are chat-channel commands;
// mark_read belongs to the notifications channel; ping is accepted on both.
const (
	cmdJoin     = "join"
	cmdLeave    = "leave"
	cmdTyping   = "typing"
	cmdMarkRead = "mark_read"
	cmdPing     = "ping"
)

// command is the single inbound frame shape: a type tag plus a
// type-specific data document.
type command struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type roomCommand struct {
	Kind string `json:"kind" validate:"required,oneof=project discussion"`
	ID   string `json:"id" validate:"required,max=128"`
}

func (rc roomCommand) key() gateway.RoomKey {
	return gateway.RoomKey{Kind: gateway.RoomKind(rc.Kind), ID: rc.ID}
}

type typingCommand struct {
	Kind     string `json:"kind" validate:"required,oneof=project discussion"`
	ID       string `json:"id" validate:"required,max=128"`
	IsTyping bool   `json:"isTyping"`
}

type markReadCommand struct {
	NotificationID string `json:"notificationId" validate:"required,max=128"`
}

// handleCommand decodes and dispatches one inbound frame. All commands for
// a connection run sequentially on its read pump, which keeps per-connection
// ordering trivial. Errors are reported back as error events; the
// connection itself stays open.
func (c *Client) handleCommand(data []byte) {
	var cmd command
	if err := json.Unmarshal(data, &cmd); err != nil {
		metrics.WSErrors.WithLabelValues("decode").Inc()
		c.sendError("BAD_FRAME", "malformed command frame")
		return
	}
	metrics.WSMessagesReceived.WithLabelValues(cmd.Type).Inc()

	switch cmd.Type {
	case cmdPing:
		// Application-level ping for clients that cannot observe protocol
		// pings. Answered directly, no gateway involvement.
		c.TrySend(&gateway.Envelope{Event: "pong"})

	case cmdJoin:
		var rc roomCommand
		if !c.decode(cmd.Data, &rc) {
			return
		}
		if !c.requireEndpoint(gateway.EndpointChat, cmd.Type) {
			return
		}
		if err := c.gw.Join(c, rc.key()); err != nil {
			c.sendError("JOIN_FAILED", err.Error())
		}

	case cmdLeave:
		var rc roomCommand
		if !c.decode(cmd.Data, &rc) {
			return
		}
		if !c.requireEndpoint(gateway.EndpointChat, cmd.Type) {
			return
		}
		if err := c.gw.Leave(c, rc.key()); err != nil {
			c.sendError("LEAVE_FAILED", err.Error())
		}

	case cmdTyping:
		var tc typingCommand
		if !c.decode(cmd.Data, &tc) {
			return
		}
		if !c.requireEndpoint(gateway.EndpointChat, cmd.Type) {
			return
		}
		if !c.typing.Allow() {
			metrics.TypingThrottled.Inc()
			return
		}
		c.gw.Typing(c, gateway.RoomKey{Kind: gateway.RoomKind(tc.Kind), ID: tc.ID}, c.identity.Name, tc.IsTyping)

	case cmdMarkRead:
		var mc markReadCommand
		if !c.decode(cmd.Data, &mc) {
			return
		}
		if !c.requireEndpoint(gateway.EndpointNotifications, cmd.Type) {
			return
		}
		c.gw.MarkRead(c, mc.NotificationID)

	default:
		c.sendError("UNKNOWN_COMMAND", "unknown command type "+cmd.Type)
	}
}

// decode unmarshals and validates a command payload, reporting failures to
// the client. Returns false when the payload was rejected.
func (c *Client) decode(data []byte, dst any) bool {
	if err := json.Unmarshal(data, dst); err != nil {
		metrics.WSErrors.WithLabelValues("decode").Inc()
		c.sendError("BAD_FRAME", "malformed command payload")
		return false
	}
	if verr := validation.ValidateStruct(dst); verr != nil {
		apiErr := verr.ToAPIError()
		c.sendError(apiErr.Code, apiErr.Message)
		return false
	}
	return true
}

// requireEndpoint rejects commands issued on the wrong channel.
func (c *Client) requireEndpoint(endpoint, cmdType string) bool {
	if c.endpoint != endpoint {
		c.sendError("WRONG_CHANNEL", cmdType+" is not available on the "+c.endpoint+" channel")
		return false
	}
	return true
}

func (c *Client) sendError(code, message string) {
	c.TrySend(&gateway.Envelope{
		Event: gateway.EventError,
		Data:  gateway.ErrorPayload{Code: code, Message: message},
	})
}
