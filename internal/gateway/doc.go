// Package gateway orchestrates the botbridge server components.
//
// # Overview
//
// The gateway package is the central coordinator of the botbridge server. It
// owns the bot registration store, the socket channel for inbound bot client
// connections, the response correlator, and one bridge per registered bot.
//
// # HTTP API
//
// The gateway exposes HTTP endpoints in api.go:
//
//   - POST /api/talk - Deliver a user request to a bot (SSE streaming response)
//   - GET /api/configuration - Last known (or freshly probed) bot configuration
//   - GET /api/bots - List registered bots
//   - POST /api/bots - Register or update a bot
//   - DELETE /api/bots/{api_key} - Remove a bot registration
//   - GET /ws - Websocket endpoint for inbound bot clients
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check
//
// # SSE Streaming
//
// Bot responses are streamed back to the /api/talk caller as Server-Sent
// Events:
//
//	event: message
//	data: {"requestId": "...", "botResponse": {...}, "context": {"date": "...", "last": true}}
//
//	event: done
//	data: {}
//
// Event types: message, done, error.
//
// # Lifecycle
//
// Start the gateway:
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	go gw.Run(ctx)
//
// Graceful shutdown:
//
//	cancel()
//
// # Key Files
//
//   - gateway.go: Gateway struct, initialization, Run/Shutdown
//   - api.go: HTTP handlers and SSE streaming
package gateway
