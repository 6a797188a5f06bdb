// Package mailprobe implements a small protocol-conformance toolkit for
// mail servers: hand-rolled IMAP and SMTP test clients driven over raw
// byte streams, a builder for synthetic OpenPGP-shaped messages, and a
// concurrency harness for IMAP IDLE notifications.
//
// It deliberately does not pull in a full protocol stack. The clients
// speak exactly the subset of IMAP and SMTP the conformance scenarios
// need:
//
//   - IMAP: LOGIN, SELECT, LIST, CREATE, DELETE, FETCH, LOGOUT and
//     IDLE/DONE, with tag-correlated request/response handling
//   - SMTP: EHLO, AUTH PLAIN, MAIL FROM, repeatable RCPT TO, DATA, QUIT,
//     with multi-line reply handling
//   - Synthetic messages: a minimal SEIPD OpenPGP packet in ASCII armor
//     inside a multipart/encrypted MIME envelope, byte-exact enough to
//     pass a server-side "is this PGP-encrypted" structural check
//
// All traffic runs over plaintext TCP against a server configured
// without TLS, keeping the wire format under direct control. See
// cmd/mailprobe for the scenario runners built on top.
package mailprobe
