package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
)

// Format names an output encoding.
type Format string

const (
	FormatJSON  Format = "json"
	FormatCSV   Format = "csv"
	FormatTable Format = "table"
)

// ParseFormat accepts json, csv or table (also "text").
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json", "":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	case "table", "text":
		return FormatTable, nil
	}
	return "", fmt.Errorf("unknown format %q", s)
}

// Ext is the file extension for f.
func (f Format) Ext() string {
	if f == FormatTable {
		return "txt"
	}
	return string(f)
}

// ContentType is the MIME type for f.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatCSV:
		return "text/csv"
	}
	return "text/plain; charset=utf-8"
}

// Document is the JSON form of a report.
type Document struct {
	Report      string     `json:"report"`
	Kind        Kind       `json:"kind"`
	RunID       string     `json:"run_id"`
	GeneratedAt string     `json:"generated_at"`
	Columns     []string   `json:"columns"`
	Rows        [][]string `json:"rows"`
}

func document(runID string, at time.Time, res Result) Document {
	d := Document{
		Report:      res.Spec.Name,
		Kind:        res.Spec.Kind,
		RunID:       runID,
		GeneratedAt: at.UTC().Format(time.RFC3339),
		Columns:     res.Table.Columns(),
		Rows:        make([][]string, 0, res.Table.Len()),
	}
	for i := 0; i < res.Table.Len(); i++ {
		d.Rows = append(d.Rows, res.Table.Record(i))
	}
	return d
}

// Render writes res to w in format f.
func Render(w io.Writer, f Format, runID string, at time.Time, res Result) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(document(runID, at, res))
	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write(res.Table.Columns()); err != nil {
			return err
		}
		for i := 0; i < res.Table.Len(); i++ {
			if err := cw.Write(res.Table.Record(i)); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	case FormatTable:
		if _, err := fmt.Fprintf(w, "== %s (%s)\n", res.Spec.Name, res.Spec.Kind); err != nil {
			return err
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintln(tw, strings.Join(res.Table.Columns(), "\t")+"\t")
		for i := 0; i < res.Table.Len(); i++ {
			fmt.Fprintln(tw, strings.Join(res.Table.Record(i), "\t")+"\t")
		}
		return tw.Flush()
	}
	return fmt.Errorf("unknown format %q", f)
}
