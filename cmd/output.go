package main

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/review-cli/internal/model"
)

// newPrinter returns a printer that groups thousands in %d output.
func newPrinter() *message.Printer {
	return message.NewPrinter(language.English)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "encode json")
}

func writeCounts(w io.Writer, current, projected model.StatusCounts) {
	p := newPrinter()
	if projected == nil {
		p.Fprintf(w, "%-12s %10s\n", "Status", "Count")
		p.Fprintln(w, strings.Repeat("-", 23))
		for _, s := range model.AllStatuses {
			p.Fprintf(w, "%-12s %10d\n", s, current[s])
		}
		p.Fprintf(w, "%-12s %10d\n", "total", current.Total())
		return
	}

	p.Fprintf(w, "%-12s %10s %10s %8s\n", "Status", "Current", "Projected", "Delta")
	p.Fprintln(w, strings.Repeat("-", 43))
	for _, s := range model.AllStatuses {
		delta := projected[s] - current[s]
		p.Fprintf(w, "%-12s %10d %10d %8s\n", s, current[s], projected[s], signed(delta))
	}
	p.Fprintf(w, "%-12s %10d %10d\n", "total", current.Total(), projected.Total())
}

func signed(n int) string {
	switch {
	case n > 0:
		return newPrinter().Sprintf("+%d", n)
	case n < 0:
		return newPrinter().Sprintf("%d", n)
	default:
		return "0"
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
