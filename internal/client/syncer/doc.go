// Package syncer keeps the local cache consistent with the conversation
// service.
//
// The Orchestrator runs the periodic reconciliation cycle. The Manager owns
// the conversation index and the live subscriptions of every active
// conversation; the cycle's diff step heals whatever the live path missed.
package syncer
