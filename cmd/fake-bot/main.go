// ABOUTME: Minimal fake bot client for E2E testing: connects over the socket channel and echoes.
// ABOUTME: Usage: fake-bot [-addr localhost:8080] [-key fake-bot-key]

package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"

	"github.com/dialogmesh/botbridge/internal/api"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "botbridge server address")
	apiKey := flag.String("key", "fake-bot-key", "API key to connect with")
	token := flag.String("token", "", "bearer token (takes precedence over -key)")
	flag.Parse()

	if err := run(*addr, *apiKey, *token); err != nil {
		log.Fatal(err)
	}
}

func run(addr, apiKey, token string) error {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	} else {
		header.Set("X-API-Key", apiKey)
	}

	url := fmt.Sprintf("ws://%s/ws", addr)
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", url, err)
	}
	defer conn.Close()

	green := color.New(color.FgGreen)
	green.Fprintf(os.Stderr, "connected to %s\n", url)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read error: %w", err)
		}

		req, err := api.DecodeRequest(payload)
		if err != nil {
			log.Printf("discarding malformed request: %v", err)
			continue
		}

		if req.Configuration {
			log.Printf("answering configuration probe [%s]", req.RequestID)
			if err := send(conn, configurationReply(req.RequestID)); err != nil {
				log.Printf("send error: %v", err)
			}
			continue
		}
		if req.BotRequest == nil {
			continue
		}

		log.Printf("received request [%s]: %s", req.RequestID, req.BotRequest.Text)

		// Two partial answers, then the terminal one.
		parts := echoReplies(req.RequestID, req.BotRequest.Text)
		for _, part := range parts {
			if err := send(conn, part); err != nil {
				log.Printf("send error: %v", err)
				break
			}
			time.Sleep(50 * time.Millisecond)
		}
	}
}

func send(conn *websocket.Conn, resp *api.ResponseData) error {
	payload, err := api.Marshal(resp)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func configurationReply(requestID string) *api.ResponseData {
	return &api.ResponseData{
		RequestID: requestID,
		BotConfiguration: &api.ClientConfiguration{
			ProtocolVersion: api.MinStreamingProtocol,
			Streaming:       true,
			Stories: []api.StoryConfiguration{
				{StoryID: "echo", MainIntent: "echo"},
			},
		},
		Context: api.ResponseContext{Date: time.Now().UTC(), Last: true},
	}
}

func echoReplies(requestID, text string) []*api.ResponseData {
	part := func(msg string, last bool) *api.ResponseData {
		return &api.ResponseData{
			RequestID: requestID,
			BotResponse: &api.BotResponse{
				StoryID:  "echo",
				Messages: []api.Message{{Text: msg}},
			},
			Context: api.ResponseContext{Date: time.Now().UTC(), Last: last},
		}
	}
	return []*api.ResponseData{
		part("thinking about: "+text, false),
		part("almost there...", false),
		part("echo: "+text, true),
	}
}
