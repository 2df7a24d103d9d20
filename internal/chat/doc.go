// Package chat implements the line-oriented broadcast chat server.
//
// A Server accepts connections and runs one Session per connection. A session
// reads the join line, registers itself in the Registry, and from then on turns
// every inbound line into a broadcast to all other joined members. The
// Broadcaster writes to a snapshot of the Registry and evicts members whose
// writes fail; the evicted session notices its transport closing and emits the
// single leave notice on its way out.
//
// Wire format (newline-delimited UTF-8, invalid bytes replaced with U+FFFD):
//
//	client -> server   /join <name>     first line only
//	client -> server   /quit
//	client -> server   <text>
//	server -> client   [HH:MM] <name>: <text>
//	server -> client   *** <name> joined the chat ***
//	server -> client   *** <name> left the chat ***
package chat
