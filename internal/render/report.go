// Package render prints session reports for humans and scripts.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"jobwatch/pkg/model"
)

type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat accepts table, json or yaml (and yml).
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "table":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown output format %q (table/json/yaml)", s)
}

// Report writes r to w in the given format.
func Report(w io.Writer, r *model.AggregateReport, f Format) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	case FormatTable, "":
		return table(w, r)
	}
	return fmt.Errorf("unknown output format %q", f)
}

func table(w io.Writer, r *model.AggregateReport) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tSTATUS\tATTEMPTS\tDURATION\tHANDLE\tNOTE")
	for _, rec := range r.Records {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			rec.Name, rec.Status, rec.Attempts, duration(rec.Duration), dash(string(rec.Handle)), rec.Note)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	c := r.Counts
	fmt.Fprintf(w, "\nsession %s: %d jobs, %d succeeded, %d failed, %d timed out, %d cancelled in %s\n",
		r.Session, c.Total, c.Succeeded, c.Failed, c.TimedOut, c.Cancelled, duration(r.Duration))
	switch {
	case r.TimedOut:
		fmt.Fprintln(w, "session hit its timeout")
	case r.Cancelled:
		fmt.Fprintln(w, "session was cancelled")
	}
	return nil
}

func duration(d time.Duration) string {
	if d == 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
