// Package eventlog is the append-only event log of the substation registry.
//
// Every registry mutation that adds or removes a device, or changes its
// connection status, produces exactly one Entry through Pipeline.Append,
// which is the only writer path.
//
// # Architecture
//
//	 Registry / heartbeat / API
//	            │ Append
//	            ▼
//	┌────────────────────────────┐
//	│ Pipeline (one mutex)       │  assigns ID + timestamp
//	│  - memory ring (Query)     │
//	│  - Sink (SQLite)           │──► best-effort, degraded on failure
//	└────────────────────────────┘
//	            │ subscribers (after unlock)
//	            ▼
//	   websocket hub, MQTT, metrics
//
// # Ordering
//
// IDs increase by one per entry and timestamps never go backwards, both
// assigned under the same lock, so entries are totally ordered by
// (timestamp, id) in commit order.
//
// # Degraded mode
//
// A failing sink never fails Append. The entry is kept in memory, a
// warning is logged once per outage and SinkFailures is incremented.
// Queries answered by the sink include such entries for as long as memory
// still holds them.
package eventlog
