package main

import (
	"testing"
)

func TestTruncate(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly ten", 11, "exactly ten"},
		{"this one is definitely too long", 10, "this on..."},
	}
	for _, tc := range cases {
		if got := truncate(tc.in, tc.max); got != tc.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
	}
}

func TestRequireScope(t *testing.T) {
	tenantID, userID = "", ""
	if err := requireScope(); err == nil {
		t.Error("expected error without scope flags")
	}

	tenantID, userID = "acme", "u1"
	if err := requireScope(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
