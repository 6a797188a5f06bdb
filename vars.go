package mailprobe

import (
	"strings"
	"time"
)

// String replacers for escaping/unescaping quotes in IMAP arguments
var (
	AddSlashes    = strings.NewReplacer(`"`, `\"`)
	RemoveSlashes = strings.NewReplacer(`\"`, `"`)
)

// Verbose outputs every command and its response with the server
var Verbose = false

// SkipResponses skips printing server responses in verbose mode
var SkipResponses = false

// RetryCount is the number of times connection establishment is retried
var RetryCount = 3

// DialTimeout defines how long to wait when establishing a new connection.
// Zero means no timeout.
var DialTimeout = 10 * time.Second

// CommandTimeout defines how long to wait for a command to complete.
// Zero means no timeout.
var CommandTimeout = 30 * time.Second

// IdlePollSlice is the bounded read slice used while waiting for IDLE
// notifications. IdleWait never blocks longer than this per read.
var IdlePollSlice = time.Second

// CommandObserver, when set, is called with the protocol name and
// command verb for every command written to the wire. Used to feed
// external instrumentation without plumbing a collector through every
// client.
var CommandObserver func(proto, command string)
