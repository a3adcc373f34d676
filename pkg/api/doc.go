// Package api is the HTTP facade over the manager: a gorilla/mux
// router for the REST surface plus a WebSocket push channel fed by
// the event hub.
//
// Handlers validate and decode at the boundary, delegate to the
// manager, and convert its types into response views. Errors map to
// HTTP statuses through errdefs; every request is counted and timed
// for Prometheus.
//
// # Push channel
//
// GET /ws upgrades to a WebSocket. Each connection is one hub
// subscriber with two goroutines: the reader applies
// subscribe/unsubscribe/ping messages and tears the connection down,
// the writer owns all writes, draining hub events, protocol replies,
// and keepalive pings. Clients that stop reading are disconnected by
// the write deadline.
package api
