package connection

import (
	"testing"
	"time"

	"debate-arena/internal/config"
	"debate-arena/internal/store"
)

func TestGracePolicyDecide(t *testing.T) {
	p := DefaultGracePolicy()
	cases := []struct {
		name     string
		context  string
		report   IssueReport
		period   time.Duration
		frequent bool
	}{
		{name: "room base", context: store.ContextRoom, period: 30 * time.Second},
		{name: "debate base", context: store.ContextDebate, period: 60 * time.Second},
		{name: "too few disconnections", context: store.ContextRoom, report: IssueReport{TotalDisconnections: 2, FailureRate: 1}, period: 30 * time.Second},
		{name: "low failure rate", context: store.ContextRoom, report: IssueReport{TotalDisconnections: 10, FailureRate: 0.2}, period: 30 * time.Second},
		{name: "frequent room", context: store.ContextRoom, report: IssueReport{TotalDisconnections: 4, FailureRate: 0.5}, period: 45 * time.Second, frequent: true},
		{name: "frequent debate", context: store.ContextDebate, report: IssueReport{TotalDisconnections: 4, FailureRate: 1}, period: 120 * time.Second, frequent: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := p.Decide(tc.context, tc.report)
			if d.Period != tc.period || d.Frequent != tc.frequent {
				t.Fatalf("Decide = %+v, want period %v frequent %v", d, tc.period, tc.frequent)
			}
		})
	}
}

func TestGracePolicyCapsAtMax(t *testing.T) {
	p := DefaultGracePolicy()
	p.Extend = LinearExtension(10)
	d := p.Decide(store.ContextDebate, IssueReport{TotalDisconnections: 5, FailureRate: 1})
	if d.Period != 5*time.Minute {
		t.Fatalf("expected cap at 5m, got %v", d.Period)
	}
}

func TestGracePolicyFromConfig(t *testing.T) {
	p := GracePolicyFromConfig(config.ConnectionConfig{
		RoomGraceSeconds: 10, DebateGraceSeconds: 20, MaxGraceSeconds: 40,
		AnalysisWindowHours: 2, ExtensionFactor: 2, FrequentThreshold: 0.3, MinDisconnections: 1,
	})
	if p.Room != 10*time.Second || p.Debate != 20*time.Second || p.Window != 2*time.Hour {
		t.Fatalf("unexpected policy: %+v", p)
	}
	d := p.Decide(store.ContextRoom, IssueReport{TotalDisconnections: 1, FailureRate: 0.5})
	if d.Period != 20*time.Second || !d.Frequent {
		t.Fatalf("unexpected decision: %+v", d)
	}
}
