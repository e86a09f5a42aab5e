package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/pendergraft/contradeploy/internal/registry"
	"github.com/pendergraft/contradeploy/internal/verification"
	"github.com/pendergraft/contradeploy/internal/wiring"
)

func writeInstances(out io.Writer, instances []registry.Instance) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CONTRACT\tADDRESS\tACTION\tTX")
	for _, inst := range instances {
		action, tx := "existing", "-"
		if inst.Fresh {
			action, tx = "deployed", inst.TxHash.Hex()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", inst.ID, inst.Address.Hex(), action, tx)
	}
	w.Flush()
}

func writeCalls(out io.Writer, calls []wiring.Call) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tSTATUS\tTX")
	for _, c := range calls {
		tx := "-"
		if c.Status == wiring.StatusInvoked {
			tx = c.TxHash.Hex()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.Step, c.Status, tx)
	}
	w.Flush()
}

func writeVerification(out io.Writer, records []verification.Record) {
	verification.WriteReport(out, records)

	summary := verification.Summary(records)
	fmt.Fprintf(out, "\n%d already verified, %d newly verified, %d skipped, %d unable to verify\n",
		summary[verification.OutcomeAlreadyVerified],
		summary[verification.OutcomeNewlyVerified],
		summary[verification.OutcomeSkipped],
		summary[verification.OutcomeUnableToVerify],
	)
}

func writeLocal(out io.Writer, results []verification.LocalResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CONTRACT\tADDRESS\tMATCH\tMESSAGE")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.Address.Hex(), r.MatchType, r.Message)
	}
	w.Flush()
}
