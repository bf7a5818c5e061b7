package main

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/samcharles93/statemap/internal/convert"
	"github.com/samcharles93/statemap/internal/state"
	"github.com/samcharles93/statemap/internal/tensor"
)

var errIncompletePlan = errors.New("plan is incomplete")

// printer groups digits in counts and byte sizes.
var printer = message.NewPrinter(language.English)

func printPlan(w io.Writer, plan *convert.Plan, missing, unexpected []string, showTargets bool) {
	perSpec := make(map[string]int)
	for _, u := range plan.Units {
		perSpec[u.Spec]++
	}
	printer.Fprintf(w, "units: %d\n", len(plan.Units))
	for _, spec := range slices.Sorted(maps.Keys(perSpec)) {
		printer.Fprintf(w, "  %6d  %s\n", perSpec[spec], spec)
	}
	if showTargets {
		_, _ = fmt.Fprintln(w, "targets:")
		for _, t := range plan.Targets() {
			_, _ = fmt.Fprintf(w, "  %s\n", t)
		}
	}
	printList(w, "unclaimed", plan.Unclaimed)
	printList(w, "missing", missing)
	printList(w, "unexpected", unexpected)
}

func printList(w io.Writer, label string, keys []string) {
	if len(keys) == 0 {
		return
	}
	printer.Fprintf(w, "%s: %d\n", label, len(keys))
	for _, k := range keys {
		_, _ = fmt.Fprintf(w, "  %s\n", k)
	}
}

// planGaps turns a plan that would fail the audit into an error.
func planGaps(plan *convert.Plan, missing, unexpected []string) error {
	if len(plan.Unclaimed) == 0 && len(missing) == 0 && len(unexpected) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d unclaimed, %d missing, %d unexpected",
		errIncompletePlan, len(plan.Unclaimed), len(missing), len(unexpected))
}

func printReport(w io.Writer, rep *convert.Report, dst *state.Container, files []string) {
	var total int64
	dst.Range(func(_ string, t tensor.Tensor) bool {
		n, err := tensor.ByteSize(t)
		if err == nil {
			total += int64(n)
		}
		return true
	})
	printer.Fprintf(w, "units:    %d\n", rep.Units)
	printer.Fprintf(w, "consumed: %d\n", rep.Consumed)
	printer.Fprintf(w, "produced: %d (%d bytes)\n", rep.Produced, total)
	for _, f := range files {
		_, _ = fmt.Fprintf(w, "wrote %s\n", f)
	}
}
