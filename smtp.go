package mailprobe

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// SMTP connection states, tracked so out-of-sequence operations fail
// before touching the wire.
const (
	smtpDisconnected = iota
	smtpConnected
	smtpGreeted
	smtpAuthenticated
	smtpMail
)

// SMTPClient is a minimal SMTP submission driver. It understands
// multi-line replies: a reply is complete at the first line whose
// fourth character is a space rather than a dash; the continuation
// lines before it carry nothing the scenarios assert on and are
// discarded.
type SMTPClient struct {
	conn     *Conn
	Host     string
	Port     int
	Username string

	state     int
	rcptCount int
}

// NewSMTP connects to an SMTP/submission port and consumes the 220
// greeting.
func NewSMTP(host string, port int) (c *SMTPClient, err error) {
	conn, err := DialConn("smtp", host, port)
	if err != nil {
		return nil, err
	}
	c = &SMTPClient{conn: conn, Host: host, Port: port, state: smtpConnected}

	code, text, err := c.readReply()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if code != 220 {
		_ = conn.Close()
		return nil, &SmtpRejected{Command: "greeting", Code: code, Text: text}
	}
	debugLog("smtp", conn.ConnNum, "", "greeting received", "code", code, "text", text)
	return c, nil
}

// readReply reads one possibly multi-line SMTP reply and returns the
// final line's code and trailing text.
func (c *SMTPClient) readReply() (code int, text string, err error) {
	for {
		line, err := c.conn.ReadLine()
		if err != nil {
			c.state = smtpDisconnected
			return 0, "", err
		}
		if Verbose && !SkipResponses {
			debugLog("smtp", c.conn.ConnNum, "", "server response", "line", line)
		}
		if len(line) < 3 {
			return 0, "", &ProtocolError{Proto: "smtp", Detail: "short reply line", Line: line}
		}
		code, err = strconv.Atoi(line[:3])
		if err != nil {
			return 0, "", &ProtocolError{Proto: "smtp", Detail: "non-numeric reply code", Line: line}
		}
		switch {
		case len(line) == 3 || line[3] == ' ':
			if len(line) > 4 {
				text = line[4:]
			}
			return code, text, nil
		case line[3] == '-':
			continue // informational continuation line
		default:
			return 0, "", &ProtocolError{Proto: "smtp", Detail: "malformed reply separator", Line: line}
		}
	}
}

// cmd writes one command line, reads the reply and enforces the
// expected final code.
func (c *SMTPClient) cmd(command string, want int) (int, string, error) {
	if c.state == smtpDisconnected {
		return 0, "", &ConnectionError{Op: "cmd", Err: ErrConnectionClosed}
	}

	if CommandTimeout != 0 {
		c.conn.SetDeadline(time.Now().Add(CommandTimeout))
		defer c.conn.SetDeadline(time.Time{})
	}

	debugLog("smtp", c.conn.ConnNum, "", "sending command", "command", sanitizeSMTP(command))
	if CommandObserver != nil {
		CommandObserver("smtp", commandVerb(command))
	}
	if err := c.conn.WriteLine(command); err != nil {
		return 0, "", err
	}
	code, text, err := c.readReply()
	if err != nil {
		return 0, "", err
	}
	if code != want {
		return code, text, &SmtpRejected{Command: commandVerb(command), Code: code, Text: text}
	}
	return code, text, nil
}

// Ehlo greets the server. Extension lines in the reply are discarded.
func (c *SMTPClient) Ehlo(hostname string) error {
	_, _, err := c.cmd("EHLO "+hostname, 250)
	if err != nil {
		return err
	}
	c.state = smtpGreeted
	return nil
}

// AuthPlain authenticates with AUTH PLAIN (base64 of "\x00user\x00pass").
// A rejection surfaces as AuthenticationError so callers can assert on
// it the same way as a rejected IMAP LOGIN.
func (c *SMTPClient) AuthPlain(username, password string) error {
	creds := base64.StdEncoding.EncodeToString([]byte("\x00" + username + "\x00" + password))
	_, _, err := c.cmd("AUTH PLAIN "+creds, 235)
	if err != nil {
		var rej *SmtpRejected
		if errors.As(err, &rej) {
			return &AuthenticationError{User: username, Text: fmt.Sprintf("%d %s", rej.Code, rej.Text)}
		}
		return err
	}
	c.Username = username
	c.state = smtpAuthenticated
	return nil
}

// MailFrom starts a mail transaction.
func (c *SMTPClient) MailFrom(addr string) error {
	_, _, err := c.cmd(fmt.Sprintf("MAIL FROM:<%s>", addr), 250)
	if err != nil {
		return err
	}
	c.state = smtpMail
	c.rcptCount = 0
	return nil
}

// RcptTo adds one recipient; call repeatedly for multi-recipient
// delivery within the same transaction.
func (c *SMTPClient) RcptTo(addr string) error {
	if c.state != smtpMail {
		return &ProtocolError{Proto: "smtp", Detail: "RCPT TO before MAIL FROM"}
	}
	_, _, err := c.cmd(fmt.Sprintf("RCPT TO:<%s>", addr), 250)
	if err != nil {
		return err
	}
	c.rcptCount++
	return nil
}

// Data submits the message: DATA, wait for 354, the raw message bytes,
// a bare dot terminator line, then the final 250. The message is sent
// as-is; synthetic messages never contain lines requiring dot-stuffing.
func (c *SMTPClient) Data(message []byte) error {
	if c.state != smtpMail || c.rcptCount == 0 {
		return &ProtocolError{Proto: "smtp", Detail: "DATA before MAIL FROM/RCPT TO"}
	}
	if _, _, err := c.cmd("DATA", 354); err != nil {
		return err
	}

	debugLog("smtp", c.conn.ConnNum, "", "sending message body", "bytes", len(message))
	if err := c.conn.Write(message); err != nil {
		return err
	}
	terminator := ".\r\n"
	if len(message) < 2 || string(message[len(message)-2:]) != "\r\n" {
		terminator = "\r\n.\r\n"
	}
	if err := c.conn.Write([]byte(terminator)); err != nil {
		return err
	}

	code, text, err := c.readReply()
	if err != nil {
		return err
	}
	if c.Username != "" {
		c.state = smtpAuthenticated
	} else {
		c.state = smtpGreeted
	}
	c.rcptCount = 0
	if code != 250 {
		return &SmtpRejected{Command: "DATA", Code: code, Text: text}
	}
	return nil
}

// Quit is best effort; the connection is closed regardless.
func (c *SMTPClient) Quit() error {
	if c.state != smtpDisconnected {
		if _, _, err := c.cmd("QUIT", 221); err != nil {
			warnLog("smtp", c.conn.ConnNum, "", "quit failed, closing anyway", "error", err)
		}
	}
	c.state = smtpDisconnected
	return c.conn.Close()
}

func sanitizeSMTP(command string) string {
	if len(command) > 10 && command[:10] == "AUTH PLAIN" {
		return "AUTH PLAIN ****"
	}
	return command
}

// commandVerb trims a command line down to its verb for error context.
func commandVerb(command string) string {
	for i := 0; i < len(command); i++ {
		if command[i] == ' ' || command[i] == ':' {
			return command[:i]
		}
	}
	return command
}
