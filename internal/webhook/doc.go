// Package webhook owns outbound HTTP interaction with one hosted bot client.
//
// Three operations cover the whole surface:
//
//   - Call: POST {base}/send, one request in, at most one response out.
//   - CallStreamed: POST {base}/webhook/sse, one request in, a stream of
//     partial responses out, closed by the first terminal one.
//   - IsReachable: the debounced probe deciding whether the webhook is the
//     transport for the next request, opportunistically refreshing the
//     client's self-reported configuration on the way.
//
// Reachability checking stops permanently once a client reports a protocol
// version that predates streaming support; such clients are assumed
// reachable without further probing.
package webhook
