// Package cli provides CLI utilities for Nyaya.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hyperjump/nyaya/internal/models"
)

// OutputFormat is the format for response output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// WriteResponse writes a response to w in the given format. Text output always ends with the
// disclaimer and referral so nothing printed can be mistaken for legal advice.
func WriteResponse(w io.Writer, resp *models.LegalResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		out := resp.Clone()
		// Audio is binary and unreadable on a terminal.
		out.Audio = nil
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	default:
		writeResponseText(w, resp)
		return nil
	}
}

func writeResponseText(w io.Writer, resp *models.LegalResponse) {
	fmt.Fprintf(w, "\n[%s] tier=%s language=%s confidence=%.2f\n\n",
		resp.Kind, resp.Tier, resp.Language, resp.Confidence)
	if resp.Notice != "" {
		fmt.Fprintf(w, "Note: %s\n\n", resp.Notice)
	}
	fmt.Fprintf(w, "%s\n", resp.Answer)
	if resp.RetryAfterSeconds > 0 {
		fmt.Fprintf(w, "Retry after %ds.\n", resp.RetryAfterSeconds)
	}
	if len(resp.Citations) > 0 {
		fmt.Fprintln(w, "\n--- Sources ---")
		for i, c := range resp.Citations {
			writeCitation(w, i+1, c)
		}
	}
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	if resp.Disclaimer != "" {
		fmt.Fprintf(w, "%s\n", resp.Disclaimer)
	}
	if resp.Referral != "" {
		fmt.Fprintf(w, "%s\n", resp.Referral)
	}
	fmt.Fprintln(w)
}

func writeCitation(w io.Writer, n int, c models.Citation) {
	title := c.Title
	if title == "" {
		title = c.DocumentID
	}
	fmt.Fprintf(w, "[%d] %s, Section %s: %s\n", n, c.Act, c.Section, Truncate(title, 80))
}

// PrintResponse prints a response to stdout in text format.
func PrintResponse(resp *models.LegalResponse) {
	_ = WriteResponse(os.Stdout, resp, OutputText)
}

// Truncate truncates s to maxLen runes and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if maxLen <= 0 || len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
