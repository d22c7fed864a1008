// Package rpc implements the request/response protocol two script contexts
// use to coordinate over an asynchronous, origin-addressed message channel.
// Messages are JSON envelopes with a single well-known namespace key:
//
//	{ "solid-auth-client": { "id": "...", "method": "...", "args": [...] } }
//	{ "solid-auth-client": { "id": "...", "ret": ... } }
//
// A Client posts requests to a Port and matches responses by id. A Server
// answers requests arriving on a Port, but only those from the origin it was
// constructed with; everything else is dropped. Handlers compose: a server's
// handler may decline a method, letting another layered handler answer it.
//
// Ports are the transport boundary. Pipe provides an in-process pair for two
// contexts in one process; WebSocketPort carries the same envelopes between
// real processes with the peer origin pinned at handshake time.
package rpc
