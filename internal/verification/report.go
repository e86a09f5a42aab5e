package verification

import (
	"fmt"
	"io"
	"text/tabwriter"
)

// WriteReport prints one row per record.
func WriteReport(out io.Writer, records []Record) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CONTRACT\tADDRESS\tOUTCOME\tREASON")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.Address.Hex(), r.Outcome, r.Reason)
	}
	return w.Flush()
}
