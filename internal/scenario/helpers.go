package scenario

import (
	"fmt"
	"strings"
	"time"

	"github.com/jhillyerd/enmime/v2"
	"github.com/rs/xid"

	"github.com/mailprobe/mailprobe"
)

// newPassword generates a fresh password of the configured length.
// xid strings are lowercase base32hex, which satisfies every
// "valid-looking password" policy the toolkit targets.
func newPassword(p *Params) string {
	pw := xid.New().String() + xid.New().String()
	return pw[:p.PasswordLength]
}

// newAccounts generates n unique addresses under the target host's
// domain. Accounts do not exist until their first login.
func newAccounts(p *Params, n int) []string {
	run := xid.New().String()[:8]
	addrs := make([]string, n)
	for i := range addrs {
		addrs[i] = fmt.Sprintf("u%d-%s@%s", i+1, run, p.Host)
	}
	return addrs
}

// provision performs the trust-on-first-login handshake for one
// account and returns the authenticated IMAP client.
func provision(p *Params, addr, password string) (*mailprobe.IMAPClient, error) {
	c, err := mailprobe.NewIMAP(p.Host, p.IMAPPort)
	if err != nil {
		return nil, err
	}
	if err := c.Login(addr, password); err != nil {
		p.Metrics.AuthAttempt("imap", false)
		_ = c.Close()
		return nil, err
	}
	p.Metrics.AuthAttempt("imap", true)
	return c, nil
}

// provisionAll first-logs-in every address and closes the sessions.
func provisionAll(p *Params, addrs []string, password string) error {
	for _, addr := range addrs {
		c, err := provision(p, addr, password)
		if err != nil {
			return fmt.Errorf("provisioning %s: %w", addr, err)
		}
		if err := c.Logout(); err != nil {
			return err
		}
	}
	return nil
}

// submit opens one authenticated submission session and sends message
// to all recipients in a single transaction.
func submit(p *Params, sender, password string, recipients []string, message []byte) error {
	s, err := mailprobe.NewSMTP(p.Host, p.SubmissionPort)
	if err != nil {
		return err
	}
	defer func() { _ = s.Quit() }()

	if err := s.Ehlo("mailprobe.invalid"); err != nil {
		return err
	}
	if err := s.AuthPlain(sender, password); err != nil {
		p.Metrics.AuthAttempt("smtp", false)
		return err
	}
	p.Metrics.AuthAttempt("smtp", true)

	if err := s.MailFrom(sender); err != nil {
		return err
	}
	for _, rcpt := range recipients {
		if err := s.RcptTo(rcpt); err != nil {
			return err
		}
	}
	if err := s.Data(message); err != nil {
		return err
	}
	p.Metrics.MessageSubmitted(len(recipients), int64(len(message)))
	return nil
}

// buildEncrypted builds the standard synthetic encrypted message.
func buildEncrypted(sender string, recipients []string, subject string) ([]byte, error) {
	return mailprobe.SyntheticMessage(sender, recipients, subject)
}

// waitForDelivery polls SELECT until the mailbox reports at least want
// messages or the deadline elapses.
func waitForDelivery(c *mailprobe.IMAPClient, mailbox string, want int, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	for {
		exists, err := c.Select(mailbox)
		if err != nil {
			return 0, err
		}
		if exists >= want {
			return exists, nil
		}
		if time.Now().After(deadline) {
			return exists, &mailprobe.DeliveryTimeout{Mailbox: mailbox, Waited: timeout}
		}
		time.Sleep(500 * time.Millisecond)
	}
}

// fetchHeaders fetches the subject/from header fields of one message
// and returns them as one block of text.
func fetchHeaders(c *mailprobe.IMAPClient, seq int) (string, error) {
	lines, err := c.Fetch(fmt.Sprintf("%d", seq), "BODY[HEADER.FIELDS (FROM SUBJECT)]")
	if err != nil {
		return "", err
	}
	return strings.Join(lines, "\r\n"), nil
}

// verifySubject checks that the fetched headers of message seq carry
// the expected subject. The FETCH payload is inspected at substring
// level; when the header block parses as MIME the decoded Subject
// header is compared too.
func verifySubject(c *mailprobe.IMAPClient, seq int, subject string) error {
	raw, err := fetchHeaders(c, seq)
	if err != nil {
		return err
	}
	if !strings.Contains(raw, subject) {
		return fmt.Errorf("message %d headers do not contain subject %q: %q", seq, subject, raw)
	}

	// Best-effort structured check on the header lines between the
	// FETCH frame and the closing paren.
	var hdr strings.Builder
	for _, line := range strings.Split(raw, "\r\n") {
		if strings.HasPrefix(line, "* ") || line == ")" {
			continue
		}
		hdr.WriteString(line)
		hdr.WriteString("\r\n")
	}
	env, err := enmime.ReadEnvelope(strings.NewReader(hdr.String() + "\r\n"))
	if err != nil {
		return nil // substring check above already passed
	}
	if got := env.GetHeader("Subject"); got != "" && got != subject {
		return fmt.Errorf("message %d subject is %q, want %q", seq, got, subject)
	}
	return nil
}
