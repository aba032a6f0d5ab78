// Package protocol defines the JSON vocabulary exchanged over the chat WebSocket.
//
// Every socket frame carries exactly one JSON object with a "type" field.
//
// Message Types (Client → Server):
//   - chat: Send a chat message
//
// Message Types (Server → Client):
//   - connected: Connection acknowledged
//   - thinking: Transient status shown before generation starts
//   - thinking_done: Generation is about to start
//   - stream: Incremental reply fragment
//   - reset: Discard the partial reply for the request, a fresh one follows
//   - done: Complete reply text, terminal
//   - error: Request failed, terminal
//
// Every server event may carry a request_id correlating it with the chat
// request that produced it. Frames without one are still valid.
//
// Example Usage:
//
//	data, _ := protocol.Encode(protocol.Stream("Hi ").WithRequest(reqID))
//	ev, err := protocol.DecodeEvent(data)
package protocol
