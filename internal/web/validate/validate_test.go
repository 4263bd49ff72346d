package validate

import (
	"errors"
	"strings"
	"testing"
)

func TestIsEmail(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"ada@example.com", true},
		{"a.b+tag@sub.example.org", true},
		{"ada@localhost", false},
		{"Ada <ada@example.com>", false},
		{"not-an-email", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsEmail(tt.input); got != tt.want {
			t.Errorf("IsEmail(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestIsSlug(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"budget-quiz", true},
		{"quiz2026", true},
		{"Budget", false},
		{"double--hyphen", false},
		{"-leading", false},
		{"trailing-", false},
		{"with space", false},
	}

	for _, tt := range tests {
		if got := IsSlug(tt.input); got != tt.want {
			t.Errorf("IsSlug(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestIsUUID(t *testing.T) {
	if !IsUUID("550e8400-e29b-41d4-a716-446655440000") {
		t.Error("valid UUID rejected")
	}
	for _, s := range []string{"", "550e8400e29b41d4a716446655440000", "urn:uuid:550e8400-e29b-41d4-a716-446655440000", "nope"} {
		if IsUUID(s) {
			t.Errorf("IsUUID(%q) = true", s)
		}
	}
}

func TestChecker(t *testing.T) {
	err := New().
		Required("name", " ").
		Email("email", "bad").
		Slug("slug", "Bad Slug").
		UUID("campaign_id", "x").
		MaxLength("title", "abcdef", 3).
		Check(false, "name", "second message is dropped").
		Err()

	var errs Errors
	if !errors.As(err, &errs) {
		t.Fatalf("Err() = %v, want Errors", err)
	}
	if len(errs) != 5 {
		t.Errorf("len(errs) = %d, want 5: %v", len(errs), errs)
	}
	if errs["name"] != "is required" {
		t.Errorf("name = %q, want first message kept", errs["name"])
	}
	if !strings.HasPrefix(err.Error(), "validation failed: campaign_id:") {
		t.Errorf("Error() = %q, want sorted fields", err.Error())
	}
}

func TestCheckerOK(t *testing.T) {
	err := New().
		Required("name", "Quiz").
		Email("email", "").
		Slug("slug", "").
		Err()
	if err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
}
