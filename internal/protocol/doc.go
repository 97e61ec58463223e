// Package protocol defines the JSON wire format shared by the exchange server
// and the load harness.
//
// Every frame is a flat JSON object keyed by "action":
//   - subscribe / buy / sell flow from client to server
//   - auth_confirmed / subscribe_ok / info flow from server to client
//
// Credentials never travel in a frame. They ride in the Sec-WebSocket-Protocol
// header as "token, <secret>" and are checked before the upgrade completes.
package protocol
