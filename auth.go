package mailprobe

import (
	"fmt"

	"github.com/sqs/go-xoauth2"
)

// Authenticate performs XOAUTH2 authentication using an access token.
// Auth failures do not trigger reconnection.
func (c *IMAPClient) Authenticate(user string, accessToken string) error {
	b64 := xoauth2.XOAuth2String(user, accessToken)
	resp, err := c.Exec(fmt.Sprintf("AUTHENTICATE XOAUTH2 %s", b64))
	if err != nil {
		return err
	}
	if !resp.IsOK() {
		return &AuthenticationError{User: user, Text: resp.Status + " " + resp.Text}
	}
	c.Username = user
	c.setState(StateAuthenticated)
	return nil
}
