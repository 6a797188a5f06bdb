package scenario

import (
	"errors"
	"fmt"

	"github.com/rs/xid"

	"github.com/mailprobe/mailprobe"
)

func init() {
	register(Scenario{
		Name:        "policy",
		Description: "a message without the multipart/encrypted OpenPGP structure is rejected by the server's policy",
		Run:         runPolicy,
	})
}

func runPolicy(p *Params) *Result {
	res := &Result{Passed: true}

	password := newPassword(p)
	accounts := newAccounts(p, 2)
	sender, recipient := accounts[0], accounts[1]

	if err := provisionAll(p, accounts, password); err != nil {
		return res.fail(err)
	}

	subject := fmt.Sprintf("conformance policy %s", xid.New().String()[:8])
	msg, err := mailprobe.PlaintextMessage(sender, []string{recipient}, subject, "this body is not encrypted")
	if err != nil {
		return res.fail(err)
	}

	// Here the rejection IS the assertion: an accepted plaintext
	// submission means the encrypted-only policy is not enforced.
	err = submit(p, sender, password, []string{recipient}, msg)
	if err == nil {
		return res.fail(fmt.Errorf("server accepted a plaintext message; encrypted-only policy not enforced"))
	}
	var rej *mailprobe.SmtpRejected
	if !errors.As(err, &rej) {
		return res.fail(fmt.Errorf("expected an SMTP policy rejection, got: %w", err))
	}

	res.Recipients = append(res.Recipients, RecipientResult{Address: recipient, Delivered: false})
	return res
}
