// Package broadcast fans wall events out to connected WebSocket clients.
//
// A Registry tracks live producer and subscriber connections. Each Client owns a
// writer goroutine fed by a bounded queue, so a slow or dead client is detached
// instead of stalling the others. The Hub serializes an event once per broadcast
// and enqueues the same frame everywhere.
package broadcast
