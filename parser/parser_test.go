package parser

import (
	"testing"
	"time"

	"github.com/planharvest/go-planning-harvest/models"
)

func TestValidateRecord(t *testing.T) {
	tests := []struct {
		name    string
		record  *models.Record
		wantErr bool
	}{
		{
			name: "valid record",
			record: &models.Record{
				Source:    "greenfield",
				Reference: "24/01234/FUL",
				Address:   "1 High Street",
				URL:       "https://planning.greenfield.gov.uk/app/1",
			},
			wantErr: false,
		},
		{
			name: "missing reference",
			record: &models.Record{
				Source: "greenfield",
				URL:    "https://planning.greenfield.gov.uk/app/1",
			},
			wantErr: true,
		},
		{
			name: "missing detail URL",
			record: &models.Record{
				Source:    "greenfield",
				Reference: "24/01234/FUL",
			},
			wantErr: true,
		},
		{
			name:    "nil record",
			record:  nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRecord(tt.record)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRecord() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeReference(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "label prefix",
			input:    "Ref. No: 24/01234/FUL",
			expected: "24/01234/FUL",
		},
		{
			name:     "plain reference",
			input:    "24/01234/FUL",
			expected: "24/01234/FUL",
		},
		{
			name:     "markup whitespace",
			input:    "\n\t  Reference:   24/01234/FUL  \n",
			expected: "24/01234/FUL",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NormalizeReference(tt.input)
			if result != tt.expected {
				t.Errorf("NormalizeReference(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "status label",
			input:    "Status: Awaiting decision",
			expected: "Awaiting decision",
		},
		{
			name:     "multi line cell",
			input:    "  Awaiting\n   decision ",
			expected: "Awaiting decision",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NormalizeStatus(tt.input)
			if result != tt.expected {
				t.Errorf("NormalizeStatus(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	want := time.Date(2026, time.March, 4, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{
			name:  "long form",
			input: "04 Mar 2026",
			want:  want,
		},
		{
			name:  "short day",
			input: "4 Mar 2026",
			want:  want,
		},
		{
			name:  "slash form",
			input: "04/03/2026",
			want:  want,
		},
		{
			name:  "iso form",
			input: "2026-03-04",
			want:  want,
		},
		{
			name:  "received label",
			input: "Received: 04 Mar 2026",
			want:  want,
		},
		{
			name:    "garbage",
			input:   "next Tuesday",
			wantErr: true,
		},
		{
			name:    "empty",
			input:   "   ",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDate(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDate(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("ParseDate(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestExtractCount(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{
			name:  "showing banner",
			input: "Showing 1-10 of 247",
			want:  247,
		},
		{
			name:  "found banner",
			input: "247 applications found",
			want:  247,
		},
		{
			name:  "thousands separator",
			input: "Showing 1-10 of 1,532",
			want:  1532,
		},
		{
			name:  "zero results",
			input: "Showing 0 of 0",
			want:  0,
		},
		{
			name:  "markup whitespace",
			input: "\n  Showing   1-10\n of 82  ",
			want:  82,
		},
		{
			name:    "no numbers",
			input:   "No applications matched",
			wantErr: true,
		},
		{
			name:    "empty",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractCount(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ExtractCount(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ExtractCount(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}
