package domain

import "testing"

func TestParseTypePathSlashForm(t *testing.T) {
	p, err := ParseTypePath("container/plate/well_plate/1.0")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.SuperType != "container" || p.BType != "plate" || p.BSubType != "well_plate" || p.Version != "1.0" {
		t.Fatalf("parsed = %+v", p)
	}
	if got := p.String(); got != "container/plate/well_plate/1.0" {
		t.Fatalf("String() = %q", got)
	}
}

func TestParseTypePathDottedForm(t *testing.T) {
	p, err := ParseTypePath("item.sample.well.2.1")
	if err != nil {
		t.Fatalf("parse dotted: %v", err)
	}
	if p.BSubType != "well" || p.Version != "2.1" {
		t.Fatalf("parsed = %+v", p)
	}
	// Canonical form is always slash-joined.
	if got := p.String(); got != "item/sample/well/2.1" {
		t.Fatalf("String() = %q", got)
	}
	if _, err := ParseTypePath("item.sample.well.2"); err == nil {
		t.Fatal("bare integer version accepted")
	}
	if _, err := ParseTypePath("action/core/generic/1.0.3"); err != nil {
		t.Fatalf("patch version rejected: %v", err)
	}
}

func TestParseTypePathRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"   ",
		"container/plate/1.0",
		"container/plate/well/extra/1.0",
		"Container/plate/well/1.0",
		"container/pla te/well/1.0",
		"container/plate/well/v1",
		"container/plate/well/1",
	}
	for _, raw := range cases {
		if _, err := ParseTypePath(raw); err == nil {
			t.Errorf("ParseTypePath(%q) accepted malformed input", raw)
		}
	}
}

func TestValidPrefix(t *testing.T) {
	for _, good := range []string{"P", "PLT", "SMPLE"} {
		if !ValidPrefix(good) {
			t.Errorf("ValidPrefix(%q) = false", good)
		}
	}
	for _, bad := range []string{"", "plt", "TOOLONG", "P1", "P L"} {
		if ValidPrefix(bad) {
			t.Errorf("ValidPrefix(%q) = true", bad)
		}
	}
}
