// Package rcon implements the Source RCON protocol used by game
// servers like Minecraft and V Rising for remote administration.
//
// # Wire Format
//
// Every packet is little-endian:
//
//	int32 size    (bytes remaining after this field)
//	int32 id      (request/response correlation)
//	int32 type    (3 auth, 2 command, 0 response)
//	payload       (ASCII body)
//	0x00 0x00     (terminator pair)
//
// Authentication sends the password in a type-3 packet; the server
// answers with a type-2 packet whose id mirrors the request, or -1
// when the password is rejected.
//
// # Shutdown Commands
//
// Servers routinely close the socket while executing a shutdown
// command instead of answering it. After a successful auth the client
// treats a peer close as success so graceful-stop flows do not report
// a spurious error.
package rcon
