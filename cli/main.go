// Package main provides a terminal client for the chat WebSocket server.
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xiaot623/gogo/chatroom/internal/protocol"
)

// Client represents a WebSocket client.
type Client struct {
	conn *websocket.Conn
	done chan struct{}
}

// NewClient creates a new client and connects to the server.
func NewClient(addr string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	return &Client{
		conn: conn,
		done: make(chan struct{}),
	}, nil
}

// Close sends a normal close frame and closes the connection.
func (c *Client) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.conn.Close()
}

// Join sends the identity frame.
func (c *Client) Join(clientID, sessionID, password, userPassword string) error {
	msg := protocol.JoinMessage{
		BaseMessage: protocol.BaseMessage{
			Type:      protocol.TypeJoin,
			Timestamp: protocol.Now(),
		},
		ClientID:     clientID,
		SessionID:    sessionID,
		Password:     password,
		UserPassword: userPassword,
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write join: %w", err)
	}
	return nil
}

// Send sends a chat message.
func (c *Client) Send(text string) error {
	msg := protocol.ChatMessage{
		BaseMessage: protocol.BaseMessage{
			Type:      protocol.TypeMessage,
			Timestamp: protocol.Now(),
		},
		Message: text,
	}
	return c.conn.WriteJSON(msg)
}

// ReadMessages prints frames from the server until the connection closes.
func (c *Client) ReadMessages(out io.Writer) {
	defer close(c.done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			switch {
			case errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure:
				fmt.Fprintln(out, "\nConnection closed")
			case errors.As(err, &closeErr):
				fmt.Fprintf(out, "\nDisconnected: %s\n", closeErr.Text)
			default:
				log.Printf("Read error: %v", err)
			}
			return
		}

		var msg protocol.ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Unmarshal error: %v", err)
			continue
		}
		fmt.Fprintln(out, "\n"+formatFrame(msg))
	}
}

// Done is closed once the server side of the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func formatFrame(msg protocol.ServerMessage) string {
	ts := msg.Timestamp
	if t, err := time.Parse(time.RFC3339Nano, msg.Timestamp); err == nil {
		ts = t.Local().Format("15:04:05")
	}
	switch msg.Type {
	case protocol.TypeMessage:
		return fmt.Sprintf("[%s] %s: %s", ts, msg.ClientID, msg.Message)
	case protocol.TypeSessionEnd:
		return fmt.Sprintf("[%s] *** %s ***", ts, msg.Message)
	default:
		return fmt.Sprintf("[%s] * %s", ts, msg.Message)
	}
}

func buildURL(addr, sessionID string) (string, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return "", err
	}
	if sessionID != "" {
		q := u.Query()
		q.Set("session_id", sessionID)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func main() {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket server address")
	clientID := flag.String("client", "", "Client ID to join as")
	sessionID := flag.String("session", "", "Session to join (defaults to the current session)")
	password := flag.String("password", "", "Session password")
	userPassword := flag.String("user-password", "", "Per-user password")
	flag.Parse()

	log.SetFlags(log.Ltime)

	if strings.TrimSpace(*clientID) == "" {
		log.Fatal("-client is required")
	}

	target, err := buildURL(*addr, *sessionID)
	if err != nil {
		log.Fatalf("Invalid address: %v", err)
	}

	fmt.Printf("Connecting to %s...\n", target)

	client, err := NewClient(target)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	if err := client.Join(*clientID, *sessionID, *password, *userPassword); err != nil {
		log.Fatalf("Join failed: %v", err)
	}

	fmt.Println("\nType a message and press Enter to send.")
	fmt.Println("Commands: /quit to exit")

	go client.ReadMessages(os.Stdout)

	// Handle Ctrl+C
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-interrupt:
			fmt.Println("\nInterrupted")
			return
		case <-client.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			input := strings.TrimSpace(line)
			if input == "" {
				continue
			}
			if input == "/quit" {
				fmt.Println("Bye!")
				return
			}
			if err := client.Send(input); err != nil {
				log.Printf("Send error: %v", err)
			}
		}
	}
}
