package metrics

import "time"

// NoopCollector implements Collector with no-ops, for runs where
// metrics collection is disabled.
type NoopCollector struct{}

// NewNoopCollector creates a new no-op collector.
func NewNoopCollector() *NoopCollector { return &NoopCollector{} }

func (n *NoopCollector) CommandSent(proto string, command string)                       {}
func (n *NoopCollector) AuthAttempt(proto string, success bool)                         {}
func (n *NoopCollector) MessageSubmitted(recipients int, sizeBytes int64)               {}
func (n *NoopCollector) NotificationObserved(mailbox string, waited time.Duration)      {}
func (n *NoopCollector) ScenarioCompleted(name string, success bool, d time.Duration)   {}
