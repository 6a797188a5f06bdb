// Package metrics provides interfaces and implementations for
// collecting conformance-run metrics: commands issued, submissions,
// notifications observed and scenario outcomes.
package metrics

import (
	"context"
	"time"
)

// Collector defines the interface for recording toolkit metrics.
type Collector interface {
	// Protocol traffic
	CommandSent(proto string, command string)
	AuthAttempt(proto string, success bool)

	// Message flow
	MessageSubmitted(recipients int, sizeBytes int64)
	NotificationObserved(mailbox string, waited time.Duration)

	// Scenario outcomes
	ScenarioCompleted(name string, success bool, elapsed time.Duration)
}

// Server defines the interface for a metrics HTTP server.
type Server interface {
	// Start begins serving metrics. It blocks until the context is
	// canceled or an error occurs.
	Start(ctx context.Context) error

	// Shutdown gracefully stops the metrics server.
	Shutdown(ctx context.Context) error
}
