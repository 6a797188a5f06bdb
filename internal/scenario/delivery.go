package scenario

import (
	"fmt"

	"github.com/rs/xid"
)

func init() {
	register(Scenario{
		Name:        "delivery",
		Description: "one sender, one recipient: first-login provisioning, encrypted submission, delivery and header verification",
		Run:         runDelivery,
	})
}

func runDelivery(p *Params) *Result {
	res := &Result{Passed: true}

	password := newPassword(p)
	accounts := newAccounts(p, 2)
	sender, recipient := accounts[0], accounts[1]

	if err := provisionAll(p, accounts, password); err != nil {
		return res.fail(err)
	}

	rc, err := provision(p, recipient, password)
	if err != nil {
		return res.fail(err)
	}
	defer func() { _ = rc.Logout() }()

	rr := RecipientResult{Address: recipient}
	for n := 1; n <= p.Messages; n++ {
		subject := fmt.Sprintf("conformance delivery %s #%d", xid.New().String()[:8], n)

		msg, err := buildEncrypted(sender, []string{recipient}, subject)
		if err != nil {
			return res.fail(err)
		}
		if err := submit(p, sender, password, []string{recipient}, msg); err != nil {
			return res.fail(fmt.Errorf("submission %d: %w", n, err))
		}

		exists, err := waitForDelivery(rc, "INBOX", n, p.Timeout)
		if err != nil {
			rr.Err = err
			res.Recipients = append(res.Recipients, rr)
			return res.fail(err)
		}
		if exists != n {
			err := fmt.Errorf("INBOX reports %d messages after %d submissions", exists, n)
			rr.Err = err
			res.Recipients = append(res.Recipients, rr)
			return res.fail(err)
		}
		if err := verifySubject(rc, exists, subject); err != nil {
			rr.Err = err
			res.Recipients = append(res.Recipients, rr)
			return res.fail(err)
		}
	}
	rr.Delivered = true
	res.Recipients = append(res.Recipients, rr)
	return res
}
