// Package ied provides the IED registry for Substation Core.
//
// The registry is the authoritative catalogue of the Intelligent Electronic
// Devices on a substation network. It owns device lifecycle, the connection
// state machine and per-device communication configuration, and answers
// search queries for the REST API and the CLI.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────────────┐
//	│                             IED Registry                             │
//	│                                                                      │
//	│  ┌──────────────────┐   ┌──────────────────┐   ┌──────────────────┐  │
//	│  │     Registry     │   │    Repository    │   │    Validation    │  │
//	│  │  (registry.go)   │──▶│ (repository.go)  │   │ (validation.go)  │  │
//	│  │                  │   │                  │   │                  │  │
//	│  │ • CRUD ops       │   │ • SQLite queries │   │ • IPv4, names    │  │
//	│  │ • State machine  │   │ • JSON columns   │   │ • GOOSE / MMS    │  │
//	│  │ • Config store   │   │ • Issued ids     │   │ • Hierarchy      │  │
//	│  └──────────────────┘   └──────────────────┘   └──────────────────┘  │
//	│           │                                                          │
//	└───────────│──────────────────────────────────────────────────────────┘
//	            ▼
//	┌──────────────────────┐   ┌──────────────────────┐
//	│  eventlog.Pipeline   │   │  Status listeners    │
//	│  (audit entries)     │   │  (telemetry, ws)     │
//	└──────────────────────┘   └──────────────────────┘
//
// # Concurrency
//
// Each device has its own lock. Mutations copy the device, change the
// copy, persist it and swap it in, so readers always see a complete
// device and never block. Log entries for a device are appended while its
// lock is held, which keeps the log in commit order.
//
// # Usage
//
//	repo := ied.NewSQLiteRepository(db.DB)
//	registry := ied.NewRegistry(repo, pipeline, ied.DefaultRegistryConfig())
//	registry.SetLogger(log)
//
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	dev, err := registry.AddDevice(ctx, ied.NewDevice{Name: "Feeder 1", IP: "10.0.0.21"})
//	if err != nil {
//	    return err
//	}
//	registry.Transition(ctx, dev.ID, ied.EventHandshakeOK)
//
// # Errors
//
// Every error wraps one of ErrValidation, ErrNotFound or ErrConflict.
// ErrInvalidTransition is a kind of ErrConflict.
package ied
