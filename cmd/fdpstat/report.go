package main

import (
	"fmt"
	"io"

	"github.com/ehrlich-b/go-fdpstat"
)

func printReport(w io.Writer, r *fdpstat.Report) {
	fmt.Fprintf(w, "\n=== Command Complete ===\n")
	fmt.Fprintf(w, "Stats have been printed to FEMU output (check dmesg/journalctl)\n")
	if r.Reset() {
		fmt.Fprintf(w, "Counters have been RESET\n")
	} else {
		fmt.Fprintf(w, "Counters remain UNCHANGED (read-only mode)\n")
	}

	if r.NRUHSD > 0 {
		fmt.Fprintf(w, "\n=== RUH Status ===\n")
		fmt.Fprintf(w, "Number of RUH Status Descriptors: %d\n", r.NRUHSD)
		if r.Clamped {
			fmt.Fprintf(w, "(showing the first %d)\n", len(r.Descriptors))
		}
		fmt.Fprintf(w, "PID  RUHID  EARUTR  RUAMW\n")
		fmt.Fprintf(w, "---  -----  ------  -----\n")
		for _, d := range r.Descriptors {
			fmt.Fprintf(w, "%3d  %5d  %6d  %5d\n", d.PID, d.RUHID, d.EARUTR, d.RUAMW)
		}
	}

	fmt.Fprintf(w, "\nDone.\n")
}

func printWarnings(w io.Writer, r *fdpstat.Report) {
	for _, warning := range r.Warnings {
		fmt.Fprintf(w, "Warning: %v\n", warning)
	}
}
