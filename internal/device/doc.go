// Package device defines the device connectivity model shared by every
// transport: peer descriptors, the tagged connection state, the Transport and
// Channel capability interfaces, and the error taxonomy.
//
// Two transports implement the interfaces:
//   - go-ble: short-range radio (GATT service/characteristic, notifications)
//   - wsnet: local-network fallback (persistent WebSocket channel)
//
// The connection manager in pkg/connection is written against these
// interfaces only and never needs to know which transport is active.
package device
