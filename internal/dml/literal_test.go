package dml

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestEncodeLiteral(t *testing.T) {
	cases := []struct {
		name string
		val  any
		want string
	}{
		{"nil", nil, "NULL"},
		{"true", true, "1"},
		{"false", false, "0"},
		{"int", 42, "42"},
		{"int64", int64(-7), "-7"},
		{"string", "it's fine", `N'it''s fine'`},
		{"backslash", `a\b`, `N'a\\b'`},
		{"binary", []byte{0xDE, 0xAD}, "0xDEAD"},
		{"decimal", decimal.NewFromFloat(19.99), "19.99"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := EncodeLiteral(tc.val)
			if err != nil {
				t.Fatalf("EncodeLiteral(%v): %v", tc.val, err)
			}
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestEncodeLiteral_FloatSpecialCases(t *testing.T) {
	cases := []struct {
		name string
		val  float64
		want string
	}{
		{"nan", math.NaN(), "(0e0/0e0)"},
		{"+inf", math.Inf(1), "(1e308*10e0)"},
		{"-inf", math.Inf(-1), "(-1e308*10e0)"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := EncodeLiteral(tc.val)
			if err != nil {
				t.Fatalf("EncodeLiteral: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestEncodeLiteral_TimeWithOffset(t *testing.T) {
	loc := time.FixedZone("+02:00", 2*3600)
	tm := time.Date(2026, 7, 30, 10, 0, 0, 0, loc)
	got, err := EncodeLiteral(tm)
	if err != nil {
		t.Fatalf("EncodeLiteral: %v", err)
	}
	want := "'2026-07-30T10:00:00+02:00'"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestEncodeLiteral_UnsupportedType(t *testing.T) {
	if _, err := EncodeLiteral(struct{}{}); err == nil {
		t.Error("expected error for unsupported literal type")
	}
}
