// ABOUTME: Wire model exchanged between the bridge and externally hosted bot logic.
// ABOUTME: RequestData/ResponseData envelopes plus the client's configuration descriptor.

package api

import "time"

// MinStreamingProtocol is the first protocol version able to stream partial
// responses over a held-open connection. Clients reporting an older version
// also predate the healthcheck endpoint, so reachability probing is disabled
// for them (see the webhook gateway).
const MinStreamingProtocol = 3

// RequestData is the envelope pushed to the client over either transport.
// Exactly one of BotRequest or Configuration is set: a user dialog turn, or a
// configuration probe asking the client to describe itself.
type RequestData struct {
	RequestID     string       `json:"requestId"`
	BotRequest    *UserRequest `json:"botRequest,omitempty"`
	Configuration bool         `json:"configuration,omitempty"`
}

// UserRequest carries one dialog turn. The conversational content model is
// owned by the dialog engine; this is only the narrow boundary shape.
type UserRequest struct {
	UserID   string `json:"userId"`
	Language string `json:"language,omitempty"`
	Text     string `json:"text"`
	StoryID  string `json:"storyId,omitempty"`
	Intent   string `json:"intent,omitempty"`
}

// ResponseData is the envelope received back from the client. A response
// carries a bot answer, a configuration, or an error message - possibly a
// configuration piggybacked on an answer.
type ResponseData struct {
	RequestID        string               `json:"requestId"`
	BotResponse      *BotResponse         `json:"botResponse,omitempty"`
	BotConfiguration *ClientConfiguration `json:"botConfiguration,omitempty"`
	ErrorMessage     string               `json:"errorMessage,omitempty"`
	Context          ResponseContext      `json:"context"`
}

// ResponseContext orders and terminates multi-part responses.
// A missing "last" field on the wire means more parts may follow.
type ResponseContext struct {
	Date time.Time `json:"date"`
	Last bool      `json:"last,omitempty"`
}

// Terminal reports whether no further responses will arrive for this request.
func (r *ResponseData) Terminal() bool {
	return r != nil && r.Context.Last
}

// BotResponse is the client's answer to one user request.
type BotResponse struct {
	StoryID  string    `json:"storyId,omitempty"`
	Step     string    `json:"step,omitempty"`
	Messages []Message `json:"messages,omitempty"`
}

// Message is a single bot message. Only plain text is modeled here; richer
// content types belong to the dialog engine.
type Message struct {
	Text string `json:"text"`
}

// ClientConfiguration is the client's self-reported descriptor. It is
// compared by value: a configuration that differs from the cached one
// triggers a configuration-changed notification to the dialog engine.
type ClientConfiguration struct {
	ProtocolVersion int                  `json:"protocolVersion"`
	Streaming       bool                 `json:"streaming,omitempty"`
	Stories         []StoryConfiguration `json:"stories,omitempty"`
}

// StoryConfiguration declares one story the client can handle.
type StoryConfiguration struct {
	StoryID    string `json:"storyId"`
	MainIntent string `json:"mainIntent,omitempty"`
}

// NewUserRequestData wraps a user dialog turn in a request envelope.
func NewUserRequestData(requestID string, req *UserRequest) *RequestData {
	return &RequestData{RequestID: requestID, BotRequest: req}
}

// NewConfigurationProbe builds a configuration probe envelope.
func NewConfigurationProbe(requestID string) *RequestData {
	return &RequestData{RequestID: requestID, Configuration: true}
}
