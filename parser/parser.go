// Package parser normalizes and validates the raw text pulled out of
// council portal markup.
package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/planharvest/go-planning-harvest/models"
)

// dateLayouts covers the formats council portals print received dates in.
var dateLayouts = []string{
	"02 Jan 2006",
	"2 Jan 2006",
	"Mon 2 Jan 2006",
	"02/01/2006",
	"2006-01-02",
}

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	numberRe     = regexp.MustCompile(`\d[\d,]*`)
)

// ValidateRecord ensures a parsed record carries the required fields.
func ValidateRecord(r *models.Record) error {
	if r == nil {
		return fmt.Errorf("record is nil")
	}
	if strings.TrimSpace(r.Reference) == "" {
		return fmt.Errorf("record missing reference")
	}
	if strings.TrimSpace(r.URL) == "" {
		return fmt.Errorf("record %s missing detail URL", r.Reference)
	}
	return nil
}

// CollapseWhitespace trims the text and squashes runs of whitespace,
// including the newlines and tabs portal markup is full of, to single
// spaces.
func CollapseWhitespace(text string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}

// NormalizeReference strips the label prefixes some portals render inside
// the reference cell ("Ref. No:", "Application Reference:") and collapses
// whitespace.
func NormalizeReference(text string) string {
	text = CollapseWhitespace(text)
	for _, prefix := range []string{"Ref. No:", "Ref No:", "Application Reference:", "Reference:"} {
		if rest, ok := strings.CutPrefix(text, prefix); ok {
			return strings.TrimSpace(rest)
		}
	}
	return text
}

// NormalizeStatus collapses whitespace and strips the "Status:" label.
func NormalizeStatus(text string) string {
	text = CollapseWhitespace(text)
	if rest, ok := strings.CutPrefix(text, "Status:"); ok {
		return strings.TrimSpace(rest)
	}
	return text
}

// ParseDate parses a received date in any of the known portal layouts.
// Label prefixes like "Received:" are tolerated.
func ParseDate(text string) (time.Time, error) {
	text = CollapseWhitespace(text)
	for _, prefix := range []string{"Received:", "Validated:", "Date:"} {
		if rest, ok := strings.CutPrefix(text, prefix); ok {
			text = strings.TrimSpace(rest)
			break
		}
	}
	if text == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", text)
}

// ExtractCount pulls the result total out of a count banner such as
// "Showing 1-10 of 247" or "247 applications found". When several numbers
// appear, the one after "of" wins; otherwise the last number is taken.
func ExtractCount(text string) (int, error) {
	text = CollapseWhitespace(text)
	if text == "" {
		return 0, fmt.Errorf("empty count text")
	}

	candidate := text
	if idx := strings.LastIndex(strings.ToLower(text), " of "); idx >= 0 {
		candidate = text[idx+4:]
	}
	matches := numberRe.FindAllString(candidate, -1)
	if len(matches) == 0 {
		return 0, fmt.Errorf("no number in count text %q", text)
	}

	raw := strings.ReplaceAll(matches[len(matches)-1], ",", "")
	count, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse count %q: %w", raw, err)
	}
	if count < 0 {
		return 0, fmt.Errorf("negative count %d", count)
	}
	return count, nil
}
