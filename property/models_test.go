package property

import "testing"

func TestTransitionTable(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusDraft, StatusAwaitingAgent},
		{StatusAwaitingAgent, StatusAgentVerified},
		{StatusAgentVerified, StatusAwaitingLawyer},
		{StatusAwaitingLawyer, StatusLawyerVerified},
		{StatusLawyerVerified, StatusActive},
		{StatusActive, StatusSold},
		{StatusActive, StatusRented},
		{StatusActive, StatusSuspended},
		{StatusSuspended, StatusActive},
		{StatusDraft, StatusRejected},
		{StatusAwaitingLawyer, StatusSuspended},
	}
	for _, edge := range allowed {
		if !CanTransition(edge.from, edge.to) {
			t.Errorf("expected %s -> %s to be allowed", edge.from, edge.to)
		}
	}

	denied := []struct{ from, to Status }{
		{StatusDraft, StatusActive},
		{StatusAwaitingAgent, StatusAwaitingLawyer},
		{StatusActive, StatusDraft},
		{StatusRejected, StatusDraft},
		{StatusSold, StatusActive},
		{StatusRented, StatusSuspended},
		{StatusSuspended, StatusSold},
	}
	for _, edge := range denied {
		if CanTransition(edge.from, edge.to) {
			t.Errorf("expected %s -> %s to be denied", edge.from, edge.to)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []Status{StatusRejected, StatusSold, StatusRented} {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range []Status{StatusDraft, StatusActive, StatusSuspended} {
		if s.Terminal() {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}

func TestPendingStage(t *testing.T) {
	cases := []struct {
		status Status
		stage  VerifierType
		ok     bool
	}{
		{StatusDraft, VerifierAgent, true},
		{StatusAwaitingAgent, VerifierAgent, true},
		{StatusAgentVerified, VerifierLawyer, true},
		{StatusAwaitingLawyer, VerifierLawyer, true},
		{StatusActive, "", false},
		{StatusRejected, "", false},
	}
	for _, c := range cases {
		stage, ok := pendingStage(c.status)
		if ok != c.ok || stage != c.stage {
			t.Errorf("pendingStage(%s) = (%q, %v), want (%q, %v)", c.status, stage, ok, c.stage, c.ok)
		}
	}
}
