package mailprobe

import (
	"strings"
	"sync"
	"time"
)

// NotificationEvent is the single event a watched connection emits once
// its IDLE session ends: whether a mailbox-change push was observed,
// the raw lines seen, and how long it took.
type NotificationEvent struct {
	Label    string
	Mailbox  string
	Observed bool
	Lines    []string
	Elapsed  time.Duration
	Err      error
}

type watch struct {
	label   string
	client  *IMAPClient
	mailbox string
	ch      chan NotificationEvent
}

// NotificationWaiter runs one IDLE session per watched connection and
// merges their results into one ordered event stream. Each connection's
// read path is owned by exactly one goroutine for the duration of its
// IDLE session; the only shared structure is the merged channel.
type NotificationWaiter struct {
	watches []*watch
	events  chan NotificationEvent
	started bool
}

// NewNotificationWaiter creates an empty waiter.
func NewNotificationWaiter() *NotificationWaiter {
	return &NotificationWaiter{}
}

// Watch registers a connection to monitor. label identifies the
// connection in events (typically the recipient address). Must be
// called before Start.
func (w *NotificationWaiter) Watch(label string, client *IMAPClient, mailbox string) {
	w.watches = append(w.watches, &watch{
		label:   label,
		client:  client,
		mailbox: mailbox,
		// one event per connection, exactly once
		ch: make(chan NotificationEvent, 1),
	})
}

// Start selects each watched mailbox and enters IDLE on the calling
// goroutine, then hands each connection's read path to a dedicated
// goroutine that polls in IdlePollSlice slices until an EXISTS push or
// deadline, ends the IDLE session, and emits its event. Setup errors
// are returned before any goroutine is spawned.
func (w *NotificationWaiter) Start(deadline time.Duration) error {
	if w.started {
		return &ProtocolError{Proto: "imap", Detail: "waiter already started"}
	}

	for _, wt := range w.watches {
		if _, err := wt.client.Select(wt.mailbox); err != nil {
			return err
		}
		if err := wt.client.IdleStart(); err != nil {
			return err
		}
	}
	w.started = true

	var wg sync.WaitGroup
	for _, wt := range w.watches {
		wg.Add(1)
		go func(wt *watch) {
			defer wg.Done()
			wt.ch <- w.runIdle(wt, deadline)
			close(wt.ch)
		}(wt)
	}

	// Merge the per-connection channels into one stream.
	w.events = make(chan NotificationEvent, len(w.watches))
	go func() {
		var merge sync.WaitGroup
		for _, wt := range w.watches {
			merge.Add(1)
			go func(ch <-chan NotificationEvent) {
				defer merge.Done()
				for ev := range ch {
					w.events <- ev
				}
			}(wt.ch)
		}
		merge.Wait()
		wg.Wait()
		close(w.events)
	}()

	return nil
}

// runIdle is the per-connection IDLE loop. It owns the connection's
// read path until IdleDone returns.
func (w *NotificationWaiter) runIdle(wt *watch, deadline time.Duration) NotificationEvent {
	ev := NotificationEvent{Label: wt.label, Mailbox: wt.mailbox}
	start := time.Now()

	end := start.Add(deadline)
	for !ev.Observed {
		remaining := time.Until(end)
		if remaining <= 0 {
			break
		}
		slice := IdlePollSlice
		if remaining < slice {
			slice = remaining
		}

		lines, err := wt.client.IdleWait(slice)
		ev.Lines = append(ev.Lines, lines...)
		if err != nil {
			ev.Err = err
			ev.Elapsed = time.Since(start)
			return ev
		}
		for _, line := range lines {
			if strings.Contains(line, "EXISTS") {
				ev.Observed = true
				break
			}
		}
	}
	ev.Elapsed = time.Since(start)

	if err := wt.client.IdleDone(); err != nil && ev.Err == nil {
		ev.Err = err
	}
	return ev
}

// Events returns the merged event stream. It is closed after every
// watched connection has emitted exactly one event.
func (w *NotificationWaiter) Events() <-chan NotificationEvent {
	return w.events
}

// Collect drains the merged stream and returns all events.
func (w *NotificationWaiter) Collect() []NotificationEvent {
	var evs []NotificationEvent
	for ev := range w.events {
		evs = append(evs, ev)
	}
	return evs
}
