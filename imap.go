package mailprobe

import (
	"fmt"
	"io"
	"mime"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html/charset"
)

// IMAP connection states. A connection is in exactly one state; every
// operation checks the state before touching the wire so that protocol
// violations (like issuing a command while idling) fail fast without a
// round-trip.
const (
	StateDisconnected = iota
	StateConnected
	StateAuthenticated
	StateSelected
	StateIdling
)

var stateNames = map[int]string{
	StateDisconnected:  "disconnected",
	StateConnected:     "connected",
	StateAuthenticated: "authenticated",
	StateSelected:      "selected",
	StateIdling:        "idling",
}

// Response is the result of one tagged command cycle: the final status
// line's status and trailing text, plus the untagged lines collected
// before it.
type Response struct {
	Status   string // OK, NO or BAD
	Text     string
	Untagged []string
}

// IsOK reports whether the tagged status was OK.
func (r *Response) IsOK() bool { return r.Status == "OK" }

// Raw returns the untagged lines joined with CRLF, the form the thin
// LIST/CREATE/DELETE wrappers hand back for substring inspection.
func (r *Response) Raw() string {
	return strings.Join(r.Untagged, "\r\n")
}

var existsRE = regexp.MustCompile(`^\*\s+(\d+)\s+EXISTS`)

// IMAPClient is a tag-correlated IMAP command driver. Each command gets
// a fresh monotonically increasing tag (A0001, A0002, ...) never reused
// within the connection's lifetime, and reads the stream until the line
// echoing that tag.
//
// Not safe for concurrent use; one goroutine owns the connection. The
// IDLE loop acquires the read path through IdleStart and gives it back
// in IdleDone.
type IMAPClient struct {
	conn     *Conn
	Host     string
	Port     int
	Username string
	Password string
	Mailbox  string

	tagSeq  int
	state   int
	stateMu sync.Mutex
	idleTag string
}

// NewIMAP connects to an IMAP server and consumes the greeting line.
func NewIMAP(host string, port int) (c *IMAPClient, err error) {
	conn, err := DialConn("imap", host, port)
	if err != nil {
		return nil, err
	}
	c = &IMAPClient{conn: conn, Host: host, Port: port, state: StateConnected}

	greeting, err := conn.ReadLine()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if !strings.HasPrefix(greeting, "* OK") {
		_ = conn.Close()
		return nil, &ProtocolError{Proto: "imap", Detail: "unexpected greeting", Line: greeting}
	}
	debugLog("imap", conn.ConnNum, "", "greeting received", "greeting", greeting)
	return c, nil
}

func (c *IMAPClient) setState(s int) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.state = s
}

// State returns the connection's current protocol state.
func (c *IMAPClient) State() int {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// nextTag assigns a fresh tag. Tags are a 4-digit counter; wrapping is
// far beyond any scenario's command volume.
func (c *IMAPClient) nextTag() string {
	c.tagSeq++
	return fmt.Sprintf("A%04d", c.tagSeq)
}

// Exec writes one tagged command and reads until the tagged status
// line, collecting untagged lines along the way. While the connection
// is idling only DONE is permitted; Exec rejects anything else before
// it reaches the wire.
func (c *IMAPClient) Exec(command string) (resp *Response, err error) {
	switch c.State() {
	case StateDisconnected:
		return nil, &ConnectionError{Op: "exec", Err: ErrConnectionClosed}
	case StateIdling:
		return nil, &ProtocolError{Proto: "imap", Detail: "connection is idling; IdleDone must be called before other commands"}
	}

	tag := c.nextTag()

	if CommandTimeout != 0 {
		c.conn.SetDeadline(time.Now().Add(CommandTimeout))
		defer c.conn.SetDeadline(time.Time{})
	}

	if Verbose {
		sanitized := command
		if c.Password != "" {
			sanitized = strings.ReplaceAll(command, fmt.Sprintf(`"%s"`, c.Password), `"****"`)
		}
		debugLog("imap", c.conn.ConnNum, c.Mailbox, "sending command", "tag", tag, "command", sanitized)
	}

	if CommandObserver != nil {
		CommandObserver("imap", commandVerb(command))
	}
	if err = c.conn.WriteLine(tag + " " + command); err != nil {
		return nil, err
	}
	return c.readTagged(tag)
}

// readTagged reads lines until the one prefixed with "<tag> " and
// splits it into status and trailing text. Stream closure before the
// tag is a fatal protocol error, never silently swallowed.
func (c *IMAPClient) readTagged(tag string) (*Response, error) {
	prefix := tag + " "
	lines, err := c.conn.ReadUntil(func(line string) bool {
		return strings.HasPrefix(line, prefix)
	})
	if err != nil {
		c.setState(StateDisconnected)
		errorLog("imap", c.conn.ConnNum, c.Mailbox, "connection closed before tagged response", "tag", tag)
		return nil, &ProtocolError{Proto: "imap", Detail: fmt.Sprintf("connection closed before response to %s", tag)}
	}

	if Verbose && !SkipResponses {
		for _, line := range lines {
			debugLog("imap", c.conn.ConnNum, c.Mailbox, "server response", "line", line)
		}
	}

	final := lines[len(lines)-1]
	rest := strings.TrimPrefix(final, prefix)
	status, text, _ := strings.Cut(rest, " ")
	switch status {
	case "OK", "NO", "BAD":
	default:
		return nil, &ProtocolError{Proto: "imap", Detail: "malformed tagged response", Line: final}
	}
	return &Response{Status: status, Text: text, Untagged: lines[:len(lines)-1]}, nil
}

// Login authenticates with LOGIN. Against a trust-on-first-login server
// a first successful login provisions the account; the client performs
// no pre-check.
func (c *IMAPClient) Login(username, password string) error {
	c.Username = username
	c.Password = password
	resp, err := c.Exec(fmt.Sprintf(`LOGIN "%s" "%s"`, AddSlashes.Replace(username), AddSlashes.Replace(password)))
	if err != nil {
		return err
	}
	if !resp.IsOK() {
		return &AuthenticationError{User: username, Text: resp.Status + " " + resp.Text}
	}
	c.setState(StateAuthenticated)
	return nil
}

// Select opens a mailbox and returns the message count parsed from the
// untagged EXISTS line.
func (c *IMAPClient) Select(mailbox string) (exists int, err error) {
	resp, err := c.Exec(`SELECT "` + AddSlashes.Replace(mailbox) + `"`)
	if err != nil {
		return 0, err
	}
	if !resp.IsOK() {
		return 0, &MailboxError{Op: "SELECT", Mailbox: mailbox, Status: resp.Status, Text: resp.Text}
	}
	c.Mailbox = mailbox
	c.setState(StateSelected)

	for _, line := range resp.Untagged {
		if m := existsRE.FindStringSubmatch(line); m != nil {
			exists, err = strconv.Atoi(m[1])
			if err != nil {
				return 0, &ProtocolError{Proto: "imap", Detail: "unparsable EXISTS count", Line: line}
			}
			return exists, nil
		}
	}
	return 0, &ProtocolError{Proto: "imap", Detail: "SELECT response carried no EXISTS line"}
}

// List returns the raw untagged response text of LIST for the caller to
// inspect for expected mailbox names.
func (c *IMAPClient) List(reference, pattern string) (string, error) {
	resp, err := c.Exec(fmt.Sprintf(`LIST "%s" "%s"`, AddSlashes.Replace(reference), AddSlashes.Replace(pattern)))
	if err != nil {
		return "", err
	}
	if !resp.IsOK() {
		return "", &MailboxError{Op: "LIST", Mailbox: pattern, Status: resp.Status, Text: resp.Text}
	}
	return resp.Raw(), nil
}

// Create creates a mailbox and returns the raw response text.
func (c *IMAPClient) Create(mailbox string) (string, error) {
	resp, err := c.Exec(`CREATE "` + AddSlashes.Replace(mailbox) + `"`)
	if err != nil {
		return "", err
	}
	if !resp.IsOK() {
		return "", &MailboxError{Op: "CREATE", Mailbox: mailbox, Status: resp.Status, Text: resp.Text}
	}
	return resp.Raw(), nil
}

// Delete deletes a mailbox and returns the raw response text.
func (c *IMAPClient) Delete(mailbox string) (string, error) {
	resp, err := c.Exec(`DELETE "` + AddSlashes.Replace(mailbox) + `"`)
	if err != nil {
		return "", err
	}
	if !resp.IsOK() {
		return "", &MailboxError{Op: "DELETE", Mailbox: mailbox, Status: resp.Status, Text: resp.Text}
	}
	if c.Mailbox == mailbox {
		c.Mailbox = ""
		c.setState(StateAuthenticated)
	}
	return resp.Raw(), nil
}

// Fetch returns the untagged FETCH payload lines. The toolkit makes
// substring-level assertions on them; it does not parse the full FETCH
// response grammar.
func (c *IMAPClient) Fetch(sequenceSet, dataItems string) ([]string, error) {
	resp, err := c.Exec(fmt.Sprintf("FETCH %s (%s)", sequenceSet, dataItems))
	if err != nil {
		return nil, err
	}
	if !resp.IsOK() {
		return nil, &ProtocolError{Proto: "imap", Detail: fmt.Sprintf("FETCH %s failed: %s %s", sequenceSet, resp.Status, resp.Text)}
	}
	return resp.Untagged, nil
}

// Logout is best effort; the connection is closed regardless of the
// server's answer. An active IDLE session is ended first.
func (c *IMAPClient) Logout() error {
	if c.State() == StateIdling {
		_ = c.IdleDone()
	}
	if c.State() != StateDisconnected {
		if _, err := c.Exec("LOGOUT"); err != nil {
			warnLog("imap", c.conn.ConnNum, c.Mailbox, "logout failed, closing anyway", "error", err)
		}
	}
	return c.Close()
}

// Close tears down the connection.
func (c *IMAPClient) Close() error {
	c.setState(StateDisconnected)
	return c.conn.Close()
}

// DecodeHeader decodes a possibly RFC 2047 encoded header value, using
// the same windows-* charset aliasing the rest of the toolkit's MIME
// stack applies.
func DecodeHeader(s string) (string, error) {
	dec := mime.WordDecoder{CharsetReader: func(label string, input io.Reader) (io.Reader, error) {
		label = strings.ReplaceAll(label, "windows-", "cp")
		encoding, _ := charset.Lookup(label)
		if encoding == nil {
			return nil, fmt.Errorf("unknown charset %q", label)
		}
		return encoding.NewDecoder().Reader(input), nil
	}}
	return dec.DecodeHeader(s)
}
