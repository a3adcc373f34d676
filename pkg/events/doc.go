// Package events provides the in-memory hub behind the push API.
//
// The hub fans two kinds of events out to subscribers: server_status
// (a status transition, with startedAt and update stage) and
// server_update (a server was created, updated, or deleted).
//
// # Delivery
//
// Publishers enqueue onto a central buffered channel; one distribution
// goroutine drains it, so every subscriber sees events in publish
// order. Each subscriber owns a buffered channel and a scope: a set of
// server IDs, or all servers. Status events respect the scope;
// membership events reach everyone so clients can keep their server
// lists current without subscribing to anything.
//
// A subscriber that stops draining its channel loses events rather
// than stalling the hub or its peers.
package events
