package scenario

import (
	"errors"
	"fmt"

	"github.com/mailprobe/mailprobe"
)

func init() {
	register(Scenario{
		Name:        "auth",
		Description: "rejected first login provisions nothing; established accounts reject other passwords",
		Run:         runAuth,
	})
}

// loginOnce attempts a single LOGIN and reports whether it was accepted.
func loginOnce(p *Params, addr, password string) (bool, error) {
	c, err := mailprobe.NewIMAP(p.Host, p.IMAPPort)
	if err != nil {
		return false, err
	}
	defer func() { _ = c.Logout() }()

	err = c.Login(addr, password)
	if err == nil {
		p.Metrics.AuthAttempt("imap", true)
		return true, nil
	}
	p.Metrics.AuthAttempt("imap", false)
	var authErr *mailprobe.AuthenticationError
	if errors.As(err, &authErr) {
		return false, nil
	}
	return false, err
}

func runAuth(p *Params) *Result {
	res := &Result{Passed: true}

	addr := newAccounts(p, 1)[0]
	good := newPassword(p)
	other := newPassword(p)

	// A password below the server's minimum must be rejected even for
	// an unknown user; trust-on-first-login only applies to
	// valid-looking credentials.
	tooShort := good[:minInt(len(good), 6)]

	ok, err := loginOnce(p, addr, tooShort)
	if err != nil {
		return res.fail(err)
	}
	if ok {
		return res.fail(fmt.Errorf("login with %d-char password accepted; expected rejection", len(tooShort)))
	}

	// The rejected attempt must not have provisioned the account: a
	// later login with the real password behaves as a first login.
	ok, err = loginOnce(p, addr, good)
	if err != nil {
		return res.fail(err)
	}
	if !ok {
		return res.fail(fmt.Errorf("first login with valid password rejected; account may have been half-provisioned"))
	}

	// The account now exists; a different valid-looking password must
	// be rejected.
	ok, err = loginOnce(p, addr, other)
	if err != nil {
		return res.fail(err)
	}
	if ok {
		return res.fail(fmt.Errorf("established account accepted a different password"))
	}

	// And the original credentials keep working.
	ok, err = loginOnce(p, addr, good)
	if err != nil {
		return res.fail(err)
	}
	if !ok {
		return res.fail(fmt.Errorf("established account rejected its own password"))
	}

	res.Recipients = append(res.Recipients, RecipientResult{Address: addr, Delivered: true})
	return res
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
