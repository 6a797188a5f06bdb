package scenario

import (
	"fmt"
	"strings"

	"github.com/rs/xid"
)

func init() {
	register(Scenario{
		Name:        "mailboxes",
		Description: "CREATE/LIST/SELECT/DELETE round-trip on a fresh account",
		Run:         runMailboxes,
	})
}

func runMailboxes(p *Params) *Result {
	res := &Result{Passed: true}

	password := newPassword(p)
	addr := newAccounts(p, 1)[0]

	c, err := provision(p, addr, password)
	if err != nil {
		return res.fail(err)
	}
	defer func() { _ = c.Logout() }()

	name := "Probe-" + strings.ToUpper(xid.New().String()[:8])

	if _, err := c.Create(name); err != nil {
		return res.fail(err)
	}

	listing, err := c.List("", "*")
	if err != nil {
		return res.fail(err)
	}
	if !strings.Contains(listing, name) {
		return res.fail(fmt.Errorf("LIST does not show created mailbox %q: %q", name, listing))
	}

	exists, err := c.Select(name)
	if err != nil {
		return res.fail(err)
	}
	if exists != 0 {
		return res.fail(fmt.Errorf("fresh mailbox %q reports %d messages", name, exists))
	}

	// Reselect INBOX so the deletion target is not the open mailbox.
	if _, err := c.Select("INBOX"); err != nil {
		return res.fail(err)
	}
	if _, err := c.Delete(name); err != nil {
		return res.fail(err)
	}

	listing, err = c.List("", "*")
	if err != nil {
		return res.fail(err)
	}
	if strings.Contains(listing, name) {
		return res.fail(fmt.Errorf("LIST still shows deleted mailbox %q: %q", name, listing))
	}

	res.Recipients = append(res.Recipients, RecipientResult{Address: addr, Delivered: true})
	return res
}
