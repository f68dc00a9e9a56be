// Package correlate decouples "a response arrived on some I/O goroutine"
// from "a caller is waiting for it".
//
// # Model
//
// Each in-flight request owns a Mailbox registered under its request id.
// Responses for that id are delivered concurrently from webhook streams or
// socket pushes; a single waiter drains them in context-date order, exactly
// once each, until a response flagged terminal arrives.
//
// # Lifecycle
//
//	mb := registry.Register(requestID)
//	// push the request down some transport...
//	registry.WaitForResponse(mb, func(resp *api.ResponseData) { ... })
//
// A mailbox nobody drains expires after the wait timeout plus a grace
// period; late deliveries to an expired or unknown id report false and the
// transport layer decides the fallback. Registering the same id twice
// silently replaces the prior mailbox.
//
// The registry holds no transport knowledge and no persistent state: a
// process restart loses all in-flight correlation.
package correlate
