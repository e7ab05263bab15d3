package batch

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Format renders the items as text, json or csv.
func (r *Result) Format(format string) (string, error) {
	switch format {
	case "json":
		return r.formatJSON()
	case "csv":
		return r.formatCSV()
	case "text", "":
		return r.formatText(), nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
}

func (r *Result) formatJSON() (string, error) {
	out := struct {
		Files      []Item  `json:"files"`
		Failed     int     `json:"failed"`
		DurationMs float64 `json:"duration_ms"`
	}{
		Files:      r.Items,
		Failed:     r.Failed(),
		DurationMs: float64(r.Duration.Microseconds()) / 1000,
	}
	bts, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", err
	}
	return string(bts) + "\n", nil
}

func (r *Result) formatCSV() (string, error) {
	var output strings.Builder
	writer := csv.NewWriter(&output)
	rows := [][]string{{"file", "payload", "strategy", "attempts", "elapsed_ms", "error"}}
	for _, it := range r.Items {
		rows = append(rows, []string{
			it.File,
			it.Payload,
			it.Strategy,
			strconv.Itoa(len(it.Attempts)),
			strconv.FormatFloat(it.ElapsedMs, 'f', 1, 64),
			it.Error,
		})
	}
	if err := writer.WriteAll(rows); err != nil {
		return "", err
	}
	return output.String(), nil
}

func (r *Result) formatText() string {
	var output strings.Builder
	for _, it := range r.Items {
		switch {
		case it.NoCode():
			fmt.Fprintf(&output, "%s: no code found after %d attempts\n  %s\n", it.File, len(it.Attempts), it.Hint)
		case !it.OK():
			fmt.Fprintf(&output, "%s: error: %s\n", it.File, it.Error)
		default:
			fmt.Fprintf(&output, "%s: %s\n  strategy: %s (attempt %d, %.1fms)\n",
				it.File, it.Payload, it.Strategy, len(it.Attempts), it.ElapsedMs)
		}
	}
	return output.String()
}

// WriteStats prints a short summary of the run.
func (r *Result) WriteStats(w io.Writer) {
	total := len(r.Items)
	_, _ = fmt.Fprintf(w, "\nDecode Statistics:\n")
	_, _ = fmt.Fprintf(w, "  Total files: %d\n", total)
	_, _ = fmt.Fprintf(w, "  Decoded: %d\n", total-r.Failed())
	_, _ = fmt.Fprintf(w, "  Failed: %d\n", r.Failed())
	_, _ = fmt.Fprintf(w, "  Workers: %d\n", r.WorkerCount)
	_, _ = fmt.Fprintf(w, "  Duration: %v\n", r.Duration.Round(time.Millisecond))
	if total > 0 && r.Duration > 0 {
		_, _ = fmt.Fprintf(w, "  Throughput: %.1f files/sec\n", float64(total)/r.Duration.Seconds())
	}
}
