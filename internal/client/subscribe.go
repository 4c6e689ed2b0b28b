package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/pmchat/internal/models"
)

// graphql-transport-ws protocol message types
const (
	gqlConnectionInit      = "connection_init"
	gqlConnectionAck       = "connection_ack"
	gqlSubscribe           = "subscribe"
	gqlNext                = "next"
	gqlError               = "error"
	gqlComplete            = "complete"
	gqlConnectionKeepAlive = "ka"
	gqlPing                = "ping"
	gqlPong                = "pong"
)

// wsMessage represents a graphql-transport-ws protocol message.
type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// wsSubscribePayload is the payload for subscribe messages.
type wsSubscribePayload struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

func (c *Client) wsEndpoint() (string, error) {
	endpoint := c.endpoint
	endpoint = strings.Replace(endpoint, "http://", "ws://", 1)
	endpoint = strings.Replace(endpoint, "https://", "wss://", 1)

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	return u.String(), nil
}

// SubscribeConversation delivers the canonical message history of a
// conversation every time the server reports a change. It blocks until ctx is
// cancelled, the server completes the subscription, or an error occurs.
// Returning an error from onUpdate ends the subscription with that error.
func (c *Client) SubscribeConversation(ctx context.Context, conversationID string, onUpdate func([]models.Message) error) error {
	const subscriptionQuery = `
		subscription ConversationUpdated($id: ID!) {
			aiConversationUpdated(id: $id) {
				messages { id role content createdAt }
			}
		}
	`

	endpoint, err := c.wsEndpoint()
	if err != nil {
		return err
	}
	opName, err := c.operationName(subscriptionQuery)
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		Subprotocols:     []string{"graphql-transport-ws"},
	}
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, _, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("websocket connect: %w: %w", ErrTransient, err)
	}

	var mu sync.Mutex
	closed := false
	closeConn := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			conn.Close()
		}
	}
	defer closeConn()

	// Cancellation unblocks ReadJSON by closing the connection.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	var initPayload json.RawMessage
	if c.token != "" {
		initPayload, _ = json.Marshal(map[string]string{"authorization": "Bearer " + c.token})
	}
	if err := conn.WriteJSON(wsMessage{Type: gqlConnectionInit, Payload: initPayload}); err != nil {
		return fmt.Errorf("send connection_init: %w", err)
	}

	var ack wsMessage
	if err := conn.ReadJSON(&ack); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("read connection_ack: %w", err)
	}
	if ack.Type != gqlConnectionAck {
		return fmt.Errorf("expected connection_ack, got %s", ack.Type)
	}

	subscriptionID := uuid.NewString()
	payload, _ := json.Marshal(wsSubscribePayload{
		Query:         subscriptionQuery,
		OperationName: opName,
		Variables:     map[string]any{"id": conversationID},
	})
	if err := conn.WriteJSON(wsMessage{ID: subscriptionID, Type: gqlSubscribe, Payload: payload}); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}
	c.logger.Debug("subscribed to conversation", "conversation_id", conversationID, "subscription_id", subscriptionID)

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read message: %w: %w", ErrTransient, err)
		}

		switch msg.Type {
		case gqlNext:
			var data struct {
				Data struct {
					Updated struct {
						Messages []wireMessage `json:"messages"`
					} `json:"aiConversationUpdated"`
				} `json:"data"`
				Errors []graphQLError `json:"errors"`
			}
			if err := json.Unmarshal(msg.Payload, &data); err != nil {
				return fmt.Errorf("unmarshal next payload: %w", err)
			}
			if len(data.Errors) > 0 {
				return fmt.Errorf("subscription error: %s", data.Errors[0].Message)
			}
			if err := onUpdate(messages(data.Data.Updated.Messages)); err != nil {
				return err
			}

		case gqlError:
			var errs []graphQLError
			if err := json.Unmarshal(msg.Payload, &errs); err != nil || len(errs) == 0 {
				return fmt.Errorf("subscription error: %s", string(msg.Payload))
			}
			return fmt.Errorf("subscription error: %s", errs[0].Message)

		case gqlComplete:
			return nil

		case gqlPing:
			mu.Lock()
			err := conn.WriteJSON(wsMessage{Type: gqlPong})
			mu.Unlock()
			if err != nil {
				return fmt.Errorf("send pong: %w", err)
			}

		case gqlConnectionKeepAlive:
			continue

		default:
			continue
		}
	}
}
