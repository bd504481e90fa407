package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/opensupplyhub/dedupe-hub/internal/gazetteer"
	"github.com/opensupplyhub/dedupe-hub/internal/match"
	"github.com/opensupplyhub/dedupe-hub/internal/model"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

func statusColor(status model.ItemStatus) *color.Color {
	switch status {
	case model.ItemMatched:
		return green
	case model.ItemPotentialMatch:
		return yellow
	case model.ItemErrorMatching:
		return red
	case model.ItemDuplicate:
		return cyan
	default:
		return faint
	}
}

// printSummary writes a run summary, one line per item when verbose
func printSummary(w io.Writer, s *match.Summary, verbose bool) {
	run := s.Run

	cyan.Fprintf(w, "Match run %s\n", run.BatchID)
	if run.ListID != nil {
		fmt.Fprintf(w, "  List:           %d\n", *run.ListID)
	}
	if run.CompletedAt != nil {
		fmt.Fprintf(w, "  Duration:       %s\n", run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	fmt.Fprintf(w, "  Processed:      %d\n", run.Processed)
	fmt.Fprintf(w, "  Skipped:        %d\n", run.Skipped)
	green.Fprintf(w, "  Matched:        %d\n", run.Automatic)
	green.Fprintf(w, "  New facilities: %d\n", run.NewFacilities)
	yellow.Fprintf(w, "  Pending:        %d\n", run.Pending)
	cyan.Fprintf(w, "  Duplicates:     %d\n", run.Duplicates)
	if run.Errors > 0 {
		red.Fprintf(w, "  Errors:         %d\n", run.Errors)
	} else {
		fmt.Fprintf(w, "  Errors:         0\n")
	}
	if run.Failed {
		red.Fprintf(w, "  Run failed: %s\n", run.Notes)
	}

	if !verbose {
		return
	}
	fmt.Fprintln(w)
	for _, item := range s.Items {
		statusColor(item.Status).Fprintf(w, "  %-10d %-16s", item.ItemID, item.Status)
		if item.FacilityID != "" {
			fmt.Fprintf(w, " %s", item.FacilityID)
		}
		if item.Stage != "" {
			faint.Fprintf(w, " [%s]", item.Stage)
		}
		if item.Message != "" {
			faint.Fprintf(w, " %s", item.Message)
		}
		fmt.Fprintln(w)
	}
}

// printStatus writes the gazetteer cache status
func printStatus(w io.Writer, s gazetteer.Status) {
	if !s.Built {
		yellow.Fprintln(w, "Gazetteer not built")
		return
	}
	green.Fprintln(w, "Gazetteer built")
	fmt.Fprintf(w, "  Records:    %d\n", s.Records)
	fmt.Fprintf(w, "  Facilities: %d\n", s.Facilities)
	fmt.Fprintf(w, "  Trained:    %t\n", s.Trained)
	fmt.Fprintf(w, "  Versions:   facility=%d match=%d\n", s.Versions.Facility, s.Versions.Match)
	fmt.Fprintf(w, "  Built at:   %s\n", s.BuiltAt.Format(time.RFC3339))
	fmt.Fprintf(w, "  Rebuilds:   %d  Updates: %d\n", s.Rebuilds, s.Updates)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
