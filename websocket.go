package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Websocket feeds push a session banner, an address line and a domain frame
// right after connect; three messages carry everything worth keeping.
const wsMessageCount = 3

func fetchWebsocket(ctx context.Context, src *Source, config *Config) ([]byte, error) {
	timeout := config.HTTPTimeout
	if src.Timeout > 0 {
		timeout = src.Timeout
	}

	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.DialContext(ctx, src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", src.URL, err)
	}
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("set read deadline: %w", err)
	}

	messages := make([]string, 0, wsMessageCount)
	for i := 0; i < wsMessageCount; i++ {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read message %d: %w", i+1, err)
		}
		messages = append(messages, string(msg))
	}
	return []byte(strings.Join(messages, "\n")), nil
}
