package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/jacentio/kvlens/audit"
	"github.com/jacentio/kvlens/exports"
	"github.com/jacentio/kvlens/jobs"
	"github.com/jacentio/kvlens/list"
	"github.com/jacentio/kvlens/store"
	"github.com/jacentio/kvlens/value"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// maxCell truncates long values in table output.
const maxCell = 60

func wantJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderTable(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...).
		String()
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxCell {
		return s
	}
	return string(r[:maxCell-1]) + "…"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func printItems(w io.Writer, items []list.Item) {
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		rows = append(rows, []string{
			it.Fingerprint,
			truncate(it.KeyLiteral),
			it.KeyTypes,
			truncate(it.ValueText),
			it.ValueType,
			it.SizeText,
			formatTime(it.ExpiresAt),
		})
	}
	fmt.Fprintln(w, renderTable([]string{"FINGERPRINT", "KEY", "KEY TYPES", "VALUE", "TYPE", "SIZE", "EXPIRES"}, rows))
}

func printReport(w io.Writer, r *jobs.Report) {
	rows := [][]string{{
		r.ID,
		string(r.Kind),
		string(r.State),
		strconv.FormatInt(r.Succeeded, 10),
		strconv.FormatInt(r.Failed, 10),
		r.Percent(),
		strconv.FormatInt(r.ReadUnits, 10),
		strconv.FormatInt(r.WriteUnits, 10),
		r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
		r.Error,
	}}
	fmt.Fprintln(w, renderTable([]string{"JOB", "KIND", "STATE", "OK", "FAILED", "PROGRESS", "READS", "WRITES", "ELAPSED", "ERROR"}, rows))
}

func printExportJob(w io.Writer, j *exports.Job) {
	rows := [][]string{{
		j.ID,
		string(j.Status),
		strconv.FormatInt(j.KeysProcessed, 10),
		value.ReadableSizeDefault(j.BytesProcessed),
		j.Path,
		formatTime(j.UpdatedAt),
		j.Error,
	}}
	fmt.Fprintln(w, renderTable([]string{"EXPORT", "STATUS", "KEYS", "BYTES", "PATH", "UPDATED", "ERROR"}, rows))
}

func printAudit(w io.Writer, records []audit.Record) {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		dst := "-"
		if rec.Destination != nil {
			dst = rec.Destination.ID
		}
		state := "ok"
		switch {
		case rec.Aborted:
			state = "aborted"
		case rec.Error != "":
			state = "failed"
		}
		rows = append(rows, []string{
			formatTime(rec.CompletedAt),
			string(rec.Type),
			rec.Executor,
			rec.Source.ID,
			dst,
			truncate(rec.Selector),
			strconv.FormatInt(rec.Succeeded, 10),
			strconv.FormatInt(rec.Failed, 10),
			state,
		})
	}
	fmt.Fprintln(w, renderTable([]string{"COMPLETED", "TYPE", "EXECUTOR", "SOURCE", "DESTINATION", "SELECTOR", "OK", "FAILED", "STATE"}, rows))
}

func printConnections(w io.Writer, conns []store.Connection) {
	rows := make([][]string, 0, len(conns))
	for _, c := range conns {
		rows = append(rows, []string{c.ID, c.Name, c.Backend, c.Location})
	}
	fmt.Fprintln(w, renderTable([]string{"ID", "NAME", "BACKEND", "LOCATION"}, rows))
}
