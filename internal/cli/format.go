// Package cli holds the terminal presentation used by identify-cli.
package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fpang/item-identify/internal/identify"
	"github.com/fpang/item-identify/internal/match"
)

// FormatDurationShort formats a duration as S.mmm seconds below a minute and
// M:SS above.
func FormatDurationShort(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.3fs", d.Seconds())
	}
	totalSeconds := int(d.Seconds())
	return fmt.Sprintf("%d:%02d", totalSeconds/60, totalSeconds%60)
}

// FormatScore renders a similarity as a percentage with one decimal.
func FormatScore(s float64) string {
	return fmt.Sprintf("%5.1f%%", s*100)
}

var headlines = map[match.Kind]string{
	match.KindAutoSelected:     "Identified",
	match.KindUserRequired:     "Pick the matching item",
	match.KindModelSelection:   "Brand confirmed, pick the model",
	match.KindNoConfidentMatch: "No confident match",
	match.KindLibraryBuilding:  "Reference library still building",
	match.KindBlocked:          "Could not confirm the brand",
}

// WriteResult prints a human-readable summary of a scan result.
func WriteResult(w io.Writer, res identify.Result) {
	d := res.Decision
	if d == nil {
		fmt.Fprintln(w, "No decision")
		return
	}
	out := d.Details()

	fmt.Fprintf(w, "%s (%s)\n", headlines[d.Kind()], d.Kind())
	fmt.Fprintf(w, "  category: %s  band: %s  library images: %d\n", res.Category, out.Band, out.LibraryImageCount)
	fmt.Fprintf(w, "  best: %s  gap: %s\n", FormatScore(out.BestScore), FormatScore(out.ScoreGap))
	if res.SessionID != "" {
		fmt.Fprintf(w, "  session: %s", res.SessionID)
		switch {
		case res.Reused:
			fmt.Fprint(w, " (reused)")
		case res.Cached:
			fmt.Fprint(w, " (cached result)")
		}
		fmt.Fprintln(w)
	}

	switch v := d.(type) {
	case match.AutoSelected:
		fmt.Fprintf(w, "  => %s\n", describe(v.Candidate))
	case match.NoConfidentMatch:
		fmt.Fprintf(w, "  reason: %s\n", v.Reason)
	case match.Blocked:
		fmt.Fprintf(w, "  reason: %s\n", v.Reason)
		if v.DetectedBrand != "" {
			fmt.Fprintf(w, "  detected brand: %s\n", v.DetectedBrand)
		}
		if len(v.BrandAlternatives) > 0 {
			fmt.Fprintf(w, "  brands seen: %s\n", strings.Join(v.BrandAlternatives, ", "))
		}
	case match.ModelSelection:
		fmt.Fprintf(w, "  brand: %s\n", v.Brand)
		writeCandidates(w, v.Candidates)
		return
	}

	if len(out.TopMatches) > 0 {
		fmt.Fprintln(w, "  top matches:")
		writeCandidates(w, out.TopMatches)
	}
}

func writeCandidates(w io.Writer, cands []match.Candidate) {
	for i, c := range cands {
		fmt.Fprintf(w, "  %2d. %s  %s  (%d images)\n", i+1, FormatScore(c.BestScore), describe(c), c.SupportCount)
	}
}

func describe(c match.Candidate) string {
	name := strings.TrimSpace(c.Brand + " " + c.FamilyName)
	if name == "" {
		return c.FamilyID
	}
	return fmt.Sprintf("%s [%s]", name, c.FamilyID)
}

// Choices returns the candidates a user can pick from for d, in display
// order. AutoSelected and Blocked decisions offer no choice.
func Choices(d match.Decision) []match.Candidate {
	switch v := d.(type) {
	case match.ModelSelection:
		return v.Candidates
	case match.UserRequired, match.NoConfidentMatch, match.LibraryBuilding:
		return d.Details().TopMatches
	default:
		return nil
	}
}
