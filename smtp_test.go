package mailprobe

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func dialSMTP(t *testing.T, script func(f *fakeConn)) (*SMTPClient, error) {
	t.Helper()
	host, port := startServer(t, script)
	c, err := NewSMTP(host, port)
	if c != nil {
		t.Cleanup(func() { _ = c.conn.Close() })
	}
	return c, err
}

func TestSMTPGreeting(t *testing.T) {
	c, err := dialSMTP(t, func(f *fakeConn) {
		f.send("220 test.invalid ESMTP ready")
		f.line()
	})
	if err != nil {
		t.Fatalf("NewSMTP: %s", err)
	}
	if c.state != smtpConnected {
		t.Errorf("state = %d, want connected", c.state)
	}
}

func TestSMTPGreetingRejected(t *testing.T) {
	_, err := dialSMTP(t, func(f *fakeConn) {
		f.send("554 go away")
	})
	var rej *SmtpRejected
	if !errors.As(err, &rej) {
		t.Fatalf("NewSMTP = %v, want SmtpRejected", err)
	}
	if rej.Code != 554 {
		t.Errorf("code = %d, want 554", rej.Code)
	}
}

func TestEhloMultilineReply(t *testing.T) {
	// The reply is complete at the first line whose fourth character is
	// a space; the dash-continued extension lines before it are
	// informational.
	c, _ := dialSMTP(t, func(f *fakeConn) {
		f.send("220 ready")
		f.expect("EHLO client.invalid")
		f.send("250-test.invalid", "250-PIPELINING", "250-8BITMIME", "250 AUTH PLAIN")
		f.line()
	})
	if err := c.Ehlo("client.invalid"); err != nil {
		t.Fatalf("Ehlo: %s", err)
	}
	if c.state != smtpGreeted {
		t.Errorf("state = %d, want greeted", c.state)
	}
}

func TestAuthPlain(t *testing.T) {
	user, pass := "u1@test", "password1234"
	c, _ := dialSMTP(t, func(f *fakeConn) {
		f.send("220 ready")
		f.expect("EHLO")
		f.send("250 AUTH PLAIN")

		line := f.expect("AUTH PLAIN ")
		raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(line, "AUTH PLAIN "))
		if err != nil {
			f.t.Errorf("AUTH PLAIN payload is not base64: %s", err)
		}
		if want := "\x00" + user + "\x00" + pass; string(raw) != want {
			f.t.Errorf("AUTH PLAIN payload = %q, want %q", raw, want)
		}
		f.send("235 2.7.0 authentication successful")
		f.line()
	})

	if err := c.Ehlo("client.invalid"); err != nil {
		t.Fatalf("Ehlo: %s", err)
	}
	if err := c.AuthPlain(user, pass); err != nil {
		t.Fatalf("AuthPlain: %s", err)
	}
	if c.Username != user || c.state != smtpAuthenticated {
		t.Errorf("username %q state %d after auth", c.Username, c.state)
	}
}

func TestAuthPlainRejected(t *testing.T) {
	c, _ := dialSMTP(t, func(f *fakeConn) {
		f.send("220 ready")
		f.expect("EHLO")
		f.send("250 AUTH PLAIN")
		f.expect("AUTH PLAIN ")
		f.send("535 5.7.8 authentication credentials invalid")
		f.line()
	})
	if err := c.Ehlo("client.invalid"); err != nil {
		t.Fatalf("Ehlo: %s", err)
	}
	err := c.AuthPlain("u1@test", "wrong")
	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("AuthPlain = %v, want AuthenticationError", err)
	}
	if !strings.Contains(authErr.Text, "535") {
		t.Errorf("error text lost the reply code: %q", authErr.Text)
	}
}

func TestSubmission(t *testing.T) {
	message := []byte("Subject: test\r\n\r\nbody\r\n")
	c, _ := dialSMTP(t, func(f *fakeConn) {
		f.send("220 ready")
		f.expect("EHLO")
		f.send("250 ok")
		f.expect("MAIL FROM:<u1@test>")
		f.send("250 2.1.0 ok")
		f.expect("RCPT TO:<u2@test>")
		f.send("250 2.1.5 ok")
		f.expect("RCPT TO:<u3@test>")
		f.send("250 2.1.5 ok")
		f.expect("DATA")
		f.send("354 end data with <CRLF>.<CRLF>")

		var got strings.Builder
		for {
			line := f.line()
			if line == "." {
				break
			}
			got.WriteString(line + "\r\n")
		}
		if got.String() != string(message) {
			f.t.Errorf("message = %q, want %q", got.String(), message)
		}
		f.send("250 2.0.0 queued")
		f.expect("QUIT")
		f.send("221 2.0.0 bye")
	})

	if err := c.Ehlo("client.invalid"); err != nil {
		t.Fatalf("Ehlo: %s", err)
	}
	if err := c.MailFrom("u1@test"); err != nil {
		t.Fatalf("MailFrom: %s", err)
	}
	for _, rcpt := range []string{"u2@test", "u3@test"} {
		if err := c.RcptTo(rcpt); err != nil {
			t.Fatalf("RcptTo %s: %s", rcpt, err)
		}
	}
	if err := c.Data(message); err != nil {
		t.Fatalf("Data: %s", err)
	}
	if err := c.Quit(); err != nil {
		t.Fatalf("Quit: %s", err)
	}
}

func TestDataAddsMissingTerminatorNewline(t *testing.T) {
	// A message without a trailing CRLF still ends with a dot on its own
	// line.
	message := []byte("Subject: test\r\n\r\nno trailing newline")
	c, _ := dialSMTP(t, func(f *fakeConn) {
		f.send("220 ready")
		f.expect("EHLO")
		f.send("250 ok")
		f.expect("MAIL FROM:")
		f.send("250 ok")
		f.expect("RCPT TO:")
		f.send("250 ok")
		f.expect("DATA")
		f.send("354 go")
		for {
			if f.line() == "." {
				break
			}
		}
		f.send("250 queued")
		f.line()
	})

	if err := c.Ehlo("client.invalid"); err != nil {
		t.Fatalf("Ehlo: %s", err)
	}
	if err := c.MailFrom("u1@test"); err != nil {
		t.Fatalf("MailFrom: %s", err)
	}
	if err := c.RcptTo("u2@test"); err != nil {
		t.Fatalf("RcptTo: %s", err)
	}
	if err := c.Data(message); err != nil {
		t.Fatalf("Data: %s", err)
	}
}

func TestRcptRejected(t *testing.T) {
	c, _ := dialSMTP(t, func(f *fakeConn) {
		f.send("220 ready")
		f.expect("EHLO")
		f.send("250 ok")
		f.expect("MAIL FROM:")
		f.send("250 ok")
		f.expect("RCPT TO:")
		f.send("550 5.1.1 no such user")
		f.line()
	})
	if err := c.Ehlo("client.invalid"); err != nil {
		t.Fatalf("Ehlo: %s", err)
	}
	if err := c.MailFrom("u1@test"); err != nil {
		t.Fatalf("MailFrom: %s", err)
	}
	err := c.RcptTo("nobody@test")
	var rej *SmtpRejected
	if !errors.As(err, &rej) {
		t.Fatalf("RcptTo = %v, want SmtpRejected", err)
	}
	if rej.Command != "RCPT" || rej.Code != 550 {
		t.Errorf("SmtpRejected = %+v", rej)
	}
}

func TestCommandSequenceGuards(t *testing.T) {
	c, _ := dialSMTP(t, func(f *fakeConn) {
		f.send("220 ready")
		f.line()
	})

	var perr *ProtocolError
	if err := c.RcptTo("u2@test"); !errors.As(err, &perr) {
		t.Errorf("RCPT before MAIL = %v, want ProtocolError", err)
	}
	if err := c.Data([]byte("x")); !errors.As(err, &perr) {
		t.Errorf("DATA before RCPT = %v, want ProtocolError", err)
	}
}

func TestCommandVerb(t *testing.T) {
	for _, tc := range []struct{ in, want string }{
		{"MAIL FROM:<u@test>", "MAIL"},
		{"RCPT TO:<u@test>", "RCPT"},
		{"DATA", "DATA"},
		{"AUTH PLAIN abcd", "AUTH"},
	} {
		if got := commandVerb(tc.in); got != tc.want {
			t.Errorf("commandVerb(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
