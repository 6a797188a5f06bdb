package scenario

import (
	"fmt"
	"time"

	"github.com/rs/xid"
)

func init() {
	register(Scenario{
		Name:        "multirecipient",
		Description: "one MAIL FROM, N RCPT TO, one DATA: every recipient independently receives exactly one copy",
		Run:         runMultirecipient,
	})
}

func runMultirecipient(p *Params) *Result {
	res := &Result{Passed: true}

	password := newPassword(p)
	accounts := newAccounts(p, p.Recipients+1)
	sender, recipients := accounts[0], accounts[1:]

	if err := provisionAll(p, accounts, password); err != nil {
		return res.fail(err)
	}

	for n := 1; n <= p.Messages; n++ {
		subject := fmt.Sprintf("conformance multirecipient %s #%d", xid.New().String()[:8], n)
		msg, err := buildEncrypted(sender, recipients, subject)
		if err != nil {
			return res.fail(err)
		}
		if err := submit(p, sender, password, recipients, msg); err != nil {
			return res.fail(fmt.Errorf("submission %d: %w", n, err))
		}

		// Each recipient is checked on its own connection; delivery
		// order across mailboxes is not assumed.
		res.Recipients = res.Recipients[:0]
		failed := 0
		for _, rcpt := range recipients {
			rr := checkRecipient(p, rcpt, password, n)
			if rr.Err != nil {
				failed++
			}
			res.Recipients = append(res.Recipients, rr)
		}
		if failed > 0 {
			return res.fail(fmt.Errorf("%d of %d recipients missing delivery %d", failed, len(recipients), n))
		}
	}
	return res
}

// checkRecipient logs in as one recipient and verifies its INBOX holds
// exactly want messages.
func checkRecipient(p *Params, addr, password string, want int) RecipientResult {
	rr := RecipientResult{Address: addr}
	start := time.Now()

	c, err := provision(p, addr, password)
	if err != nil {
		rr.Err = err
		return rr
	}
	defer func() { _ = c.Logout() }()

	exists, err := waitForDelivery(c, "INBOX", want, p.Timeout)
	rr.Elapsed = time.Since(start)
	if err != nil {
		rr.Err = err
		return rr
	}
	if exists != want {
		rr.Err = fmt.Errorf("INBOX holds %d messages, want exactly %d", exists, want)
		return rr
	}
	rr.Delivered = true
	return rr
}
