package scenario

import (
	"fmt"

	"github.com/rs/xid"

	"github.com/mailprobe/mailprobe"
)

func init() {
	register(Scenario{
		Name:        "idle",
		Description: "N recipients in IDLE all observe an EXISTS push for one submission, then end their sessions cleanly",
		Run:         runIdle,
	})
}

func runIdle(p *Params) *Result {
	res := &Result{Passed: true}

	password := newPassword(p)
	accounts := newAccounts(p, p.Recipients+1)
	sender, recipients := accounts[0], accounts[1:]

	if err := provisionAll(p, accounts, password); err != nil {
		return res.fail(err)
	}

	// One authenticated connection per recipient, each to be parked in
	// IDLE by the waiter.
	clients := make(map[string]*mailprobe.IMAPClient, len(recipients))
	defer func() {
		for _, c := range clients {
			_ = c.Logout()
		}
	}()

	waiter := mailprobe.NewNotificationWaiter()
	for _, rcpt := range recipients {
		c, err := provision(p, rcpt, password)
		if err != nil {
			return res.fail(err)
		}
		clients[rcpt] = c
		waiter.Watch(rcpt, c, "INBOX")
	}

	if err := waiter.Start(p.Timeout); err != nil {
		return res.fail(err)
	}

	subject := fmt.Sprintf("conformance idle %s", xid.New().String()[:8])
	msg, err := buildEncrypted(sender, recipients, subject)
	if err != nil {
		return res.fail(err)
	}
	if err := submit(p, sender, password, recipients, msg); err != nil {
		return res.fail(err)
	}

	failed := 0
	for _, ev := range waiter.Collect() {
		rr := RecipientResult{Address: ev.Label, Notified: ev.Observed, Elapsed: ev.Elapsed, Err: ev.Err}
		if ev.Observed && ev.Err == nil {
			p.Metrics.NotificationObserved(ev.Label, ev.Elapsed)
			// The push already told us the message is there; confirm
			// with a regular SELECT now that IDLE has ended.
			if exists, err := clients[ev.Label].Select("INBOX"); err != nil {
				rr.Err = err
			} else if exists < 1 {
				rr.Err = fmt.Errorf("EXISTS push seen but INBOX is empty")
			} else {
				rr.Delivered = true
			}
		} else if ev.Err == nil {
			rr.Err = &mailprobe.DeliveryTimeout{Mailbox: ev.Label, Waited: p.Timeout}
		}
		if rr.Err != nil || !rr.Notified {
			failed++
		}
		res.Recipients = append(res.Recipients, rr)
	}

	if failed > 0 {
		return res.fail(fmt.Errorf("%d of %d IDLE sessions missed the notification", failed, len(recipients)))
	}
	return res
}
