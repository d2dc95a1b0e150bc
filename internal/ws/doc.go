// Package ws carries real-time status updates over websockets.
//
// Server side:
//   - Hub: the subscribers of one entity channel ("<entityType>/<entityId>")
//   - HubManager: creates hubs on first subscribe and drops them when empty
//   - Handler: upgrades requests, sends initial_status, runs the read/write pumps
//   - Service: publishes committed status changes to the affected channels
//
// Client side:
//   - Connection: owns one live socket, exposes its ReadyState, the last
//     inbound frame and Send. It never queues, retries or reconnects.
package ws
