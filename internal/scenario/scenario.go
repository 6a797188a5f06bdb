// Package scenario contains the conformance scenarios the toolkit runs
// against a mail server: delivery, multi-recipient fan-out, IDLE
// notification, authentication policy and mailbox management. Each
// scenario drives the hand-rolled protocol clients and reports
// per-recipient outcomes rather than one collapsed pass/fail bit.
package scenario

import (
	"fmt"
	"time"

	"github.com/mailprobe/mailprobe/internal/metrics"
)

// Params carries everything a scenario needs to run.
type Params struct {
	Host           string
	IMAPPort       int
	SubmissionPort int

	Recipients     int
	Messages       int
	PasswordLength int
	Timeout        time.Duration

	Metrics metrics.Collector
}

// Scenario is one independently runnable conformance check.
type Scenario struct {
	Name        string
	Description string
	Run         func(p *Params) *Result
}

// RecipientResult is the outcome for one recipient mailbox.
type RecipientResult struct {
	Address  string
	Delivered bool
	Notified bool
	Elapsed  time.Duration
	Err      error
}

// Result is a completed scenario run.
type Result struct {
	Scenario   string
	Passed     bool
	Elapsed    time.Duration
	Recipients []RecipientResult
	Err        error
}

func (r *Result) fail(err error) *Result {
	r.Passed = false
	r.Err = err
	return r
}

var registry []Scenario

func register(s Scenario) {
	registry = append(registry, s)
}

// All returns every registered scenario in registration order.
func All() []Scenario {
	out := make([]Scenario, len(registry))
	copy(out, registry)
	return out
}

// Lookup finds a scenario by name.
func Lookup(name string) (Scenario, error) {
	for _, s := range registry {
		if s.Name == name {
			return s, nil
		}
	}
	return Scenario{}, fmt.Errorf("unknown scenario %q (have %v)", name, Names())
}

// Names lists the registered scenario names.
func Names() []string {
	names := make([]string, len(registry))
	for i, s := range registry {
		names[i] = s.Name
	}
	return names
}

// Execute runs one scenario, stamping its duration and recording the
// outcome with the metrics collector.
func Execute(s Scenario, p *Params) *Result {
	if p.Metrics == nil {
		p.Metrics = metrics.NewNoopCollector()
	}
	start := time.Now()
	res := s.Run(p)
	res.Scenario = s.Name
	res.Elapsed = time.Since(start)
	p.Metrics.ScenarioCompleted(s.Name, res.Passed, res.Elapsed)
	return res
}
