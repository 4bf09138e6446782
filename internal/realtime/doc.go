// Package realtime implements the live connection layer of Mundo Tango:
// WebSocket connection management, per-user presence, room membership,
// notification dispatch, and the inbound event handlers for chat and
// friendship flows.
package realtime
