package triage

import (
	"testing"

	"github.com/pesaflow/go-mpesa-backend/internal/domain"
)

func TestRoute_Lanes(t *testing.T) {
	cases := []struct {
		name       string
		confidence float64
		flags      []string

		wantStatus   string
		wantEntries  int
		wantReasons  []string
		wantPriority []string
	}{
		{
			name:        "high confidence no flags is cleaned",
			confidence:  0.95,
			wantStatus:  domain.StatusCleaned,
			wantEntries: 0,
		},
		{
			name:         "exactly at threshold stays cleaned",
			confidence:   CleanThreshold,
			wantStatus:   domain.StatusCleaned,
			wantEntries:  0,
			wantReasons:  nil,
			wantPriority: nil,
		},
		{
			name:         "just below threshold queues normal priority",
			confidence:   0.84,
			wantStatus:   domain.StatusPendingReview,
			wantEntries:  1,
			wantReasons:  []string{domain.ReasonLowConfidence},
			wantPriority: []string{domain.PriorityNormal},
		},
		{
			name:         "very low confidence queues high priority",
			confidence:   0.3,
			wantStatus:   domain.StatusPendingReview,
			wantEntries:  1,
			wantReasons:  []string{domain.ReasonLowConfidence},
			wantPriority: []string{domain.PriorityHigh},
		},
		{
			name:         "fallback confidence lands in the high lane boundary",
			confidence:   0.5,
			wantStatus:   domain.StatusPendingReview,
			wantEntries:  1,
			wantReasons:  []string{domain.ReasonLowConfidence},
			wantPriority: []string{domain.PriorityNormal},
		},
		{
			name:         "high amount flag forces critical fraud entry",
			confidence:   0.99,
			flags:        []string{FlagHighAmount},
			wantStatus:   domain.StatusCleaned,
			wantEntries:  1,
			wantReasons:  []string{domain.ReasonFraudSuspicion},
			wantPriority: []string{domain.PriorityCritical},
		},
		{
			name:         "fraud suspected flag forces critical fraud entry",
			confidence:   0.9,
			flags:        []string{"other", FlagFraudSuspected},
			wantStatus:   domain.StatusCleaned,
			wantEntries:  1,
			wantReasons:  []string{domain.ReasonFraudSuspicion},
			wantPriority: []string{domain.PriorityCritical},
		},
		{
			name:        "irrelevant flags do not trigger the fraud lane",
			confidence:  0.9,
			flags:       []string{"international", "night_owl"},
			wantStatus:  domain.StatusCleaned,
			wantEntries: 0,
		},
		{
			name:         "both lanes fire together",
			confidence:   0.4,
			flags:        []string{FlagHighAmount},
			wantStatus:   domain.StatusPendingReview,
			wantEntries:  2,
			wantReasons:  []string{domain.ReasonLowConfidence, domain.ReasonFraudSuspicion},
			wantPriority: []string{domain.PriorityHigh, domain.PriorityCritical},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := Route(tc.confidence, tc.flags)
			if out.Status != tc.wantStatus {
				t.Fatalf("status = %q, want %q", out.Status, tc.wantStatus)
			}
			if len(out.Entries) != tc.wantEntries {
				t.Fatalf("entries = %d, want %d (%+v)", len(out.Entries), tc.wantEntries, out.Entries)
			}
			for i, e := range out.Entries {
				if e.Reason != tc.wantReasons[i] {
					t.Fatalf("entry %d reason = %q, want %q", i, e.Reason, tc.wantReasons[i])
				}
				if e.Priority != tc.wantPriority[i] {
					t.Fatalf("entry %d priority = %q, want %q", i, e.Priority, tc.wantPriority[i])
				}
			}
		})
	}
}

func TestRoute_Deterministic(t *testing.T) {
	a := Route(0.42, []string{FlagHighAmount})
	b := Route(0.42, []string{FlagHighAmount})
	if a.Status != b.Status || len(a.Entries) != len(b.Entries) {
		t.Fatalf("same input produced different outcomes: %+v vs %+v", a, b)
	}
}
