package scenario

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/dustin/go-humanize"
)

// WriteReport renders one scenario result as human-readable text. With
// verbose set, failed results additionally get a spew dump of the
// underlying error values so the exact protocol context (command, code,
// response line) is visible without re-running.
func WriteReport(w io.Writer, res *Result, verbose bool) {
	status := "PASS"
	if !res.Passed {
		status = "FAIL"
	}
	fmt.Fprintf(w, "%s  %-16s %s\n", status, res.Scenario, roundDur(res.Elapsed))

	for _, rr := range res.Recipients {
		fmt.Fprintf(w, "      %s %s\n", recipientMark(rr), recipientLine(rr))
	}
	if res.Err != nil {
		fmt.Fprintf(w, "      error: %v\n", res.Err)
	}
	if verbose && !res.Passed {
		dumpErrors(w, res)
	}
}

func recipientMark(rr RecipientResult) string {
	if rr.Err != nil {
		return "x"
	}
	return "-"
}

func recipientLine(rr RecipientResult) string {
	var b strings.Builder
	b.WriteString(rr.Address)
	if rr.Delivered {
		b.WriteString("  delivered")
	}
	if rr.Notified {
		b.WriteString("  notified")
	}
	if rr.Elapsed > 0 {
		fmt.Fprintf(&b, "  after %s", roundDur(rr.Elapsed))
	}
	if rr.Err != nil {
		fmt.Fprintf(&b, "  (%v)", rr.Err)
	}
	return b.String()
}

func roundDur(d time.Duration) time.Duration {
	switch {
	case d >= time.Second:
		return d.Round(10 * time.Millisecond)
	case d >= time.Millisecond:
		return d.Round(10 * time.Microsecond)
	default:
		return d
	}
}

var dumper = spew.ConfigState{Indent: "  ", DisablePointerAddresses: true, DisableCapacities: true, SortKeys: true}

func dumpErrors(w io.Writer, res *Result) {
	if res.Err != nil {
		fmt.Fprint(w, dumper.Sdump(res.Err))
	}
	for _, rr := range res.Recipients {
		if rr.Err != nil && rr.Err != res.Err {
			fmt.Fprint(w, dumper.Sdump(rr.Err))
		}
	}
}

// WriteSummary renders the aggregate line after a batch of scenarios.
// The total is humanized so a long soak run still reads naturally.
func WriteSummary(w io.Writer, results []*Result) {
	passed := 0
	var total time.Duration
	for _, r := range results {
		if r.Passed {
			passed++
		}
		total += r.Elapsed
	}
	fmt.Fprintf(w, "%s of %s scenarios passed in %s\n",
		humanize.Comma(int64(passed)), humanize.Comma(int64(len(results))), roundDur(total))
}
