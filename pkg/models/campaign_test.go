package models

import "testing"

func TestParseChannel(t *testing.T) {
	for _, c := range AllChannels {
		got, err := ParseChannel(string(c))
		if err != nil {
			t.Fatalf("ParseChannel(%q) unexpected error: %v", c, err)
		}
		if got != c {
			t.Fatalf("ParseChannel(%q) = %q", c, got)
		}
	}

	for _, raw := range []string{"", "twitter", "Facebook", "FACEBOOK", "gmb "} {
		if _, err := ParseChannel(raw); err == nil {
			t.Fatalf("ParseChannel(%q) expected error", raw)
		}
	}
}

func TestEntryStatusTransitions(t *testing.T) {
	cases := []struct {
		name string
		from EntryStatus
		to   EntryStatus
		ok   bool
	}{
		{"pending to approved", StatusPending, StatusApproved, true},
		{"pending to awaiting approval", StatusPending, StatusAwaitingApproval, true},
		{"pending to blocked", StatusPending, StatusBlocked, true},
		{"pending to cancelled", StatusPending, StatusCancelled, true},
		{"pending to failed", StatusPending, StatusFailed, true},
		{"pending to completed skips approval", StatusPending, StatusCompleted, false},
		{"awaiting approval to approved", StatusAwaitingApproval, StatusApproved, true},
		{"awaiting approval to cancelled", StatusAwaitingApproval, StatusCancelled, true},
		{"awaiting approval to failed", StatusAwaitingApproval, StatusFailed, true},
		{"awaiting approval to blocked", StatusAwaitingApproval, StatusBlocked, false},
		{"approved to completed", StatusApproved, StatusCompleted, true},
		{"approved to cancelled", StatusApproved, StatusCancelled, true},
		{"approved to failed", StatusApproved, StatusFailed, true},
		{"approved to pending", StatusApproved, StatusPending, false},
		{"completed is terminal", StatusCompleted, StatusCancelled, false},
		{"blocked is terminal", StatusBlocked, StatusApproved, false},
		{"cancelled is terminal", StatusCancelled, StatusFailed, false},
		{"failed is terminal", StatusFailed, StatusPending, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.ok {
			t.Fatalf("%s: CanTransitionTo = %v, want %v", tc.name, got, tc.ok)
		}
	}
}

func TestEntryStatusIsTerminal(t *testing.T) {
	terminal := []EntryStatus{StatusCompleted, StatusBlocked, StatusCancelled, StatusFailed}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []EntryStatus{StatusPending, StatusApproved, StatusAwaitingApproval} {
		if s.IsTerminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}

func TestClientPolicyCategoryDisabled(t *testing.T) {
	p := &ClientPolicy{
		ClientID:           "client-a",
		DisabledCategories: []string{"politics", "gambling"},
	}
	if !p.CategoryDisabled("politics") {
		t.Fatal("politics should be disabled")
	}
	if !p.CategoryDisabled("Politics") {
		t.Fatal("matching is case-insensitive")
	}
	if p.CategoryDisabled("recipes") {
		t.Fatal("recipes should not be disabled")
	}
	if p.CategoryDisabled("") {
		t.Fatal("empty category is never disabled")
	}

	var nilPolicy *ClientPolicy
	if nilPolicy.CategoryDisabled("politics") {
		t.Fatal("nil policy disables nothing")
	}
}
