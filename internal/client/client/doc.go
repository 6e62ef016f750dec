// Package client is the transport engine of the chatkeeper client core.
//
// # Overview
//
// The package provides:
//  1. GRPCClient, which executes named queries and mutations against the
//     conversation service. Requests and results travel as generic
//     protobuf Structs; the access token of the session is injected by a
//     unary interceptor.
//  2. Realtime, which owns the websocket link used for live subscriptions:
//     connect, forced reconnect and a silent reset that rebuilds the link
//     after a drop and notifies registered reset hooks.
//  3. WithAuthRetry, the call-site wrapper that refreshes credentials and
//     retries exactly once after an unauthorized failure.
//
// # Error Handling
//
// Remote and network failures are returned as *TransportError. Its Kind
// tells network, remote and unauthorized failures apart, and it unwraps to
// the sentinels ErrUnavailable and ErrUnauthorized so callers can use
// errors.Is. A missing auth token is common.ErrPrecondition, never a
// TransportError.
package client
