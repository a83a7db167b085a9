package voice

import "testing"

func TestNext(t *testing.T) {
	phases := []Phase{PhaseNotStarted, PhaseConnecting, PhaseActive, PhaseEnded, PhaseFailed}
	triggers := []Trigger{TriggerStart, TriggerConnected, TriggerDisconnected, TriggerEnd, TriggerFail}

	allowed := map[Phase]map[Trigger]Phase{
		PhaseNotStarted: {TriggerStart: PhaseConnecting},
		PhaseFailed:     {TriggerStart: PhaseConnecting},
		PhaseConnecting: {TriggerConnected: PhaseActive, TriggerFail: PhaseFailed},
		PhaseActive:     {TriggerDisconnected: PhaseNotStarted, TriggerEnd: PhaseEnded, TriggerFail: PhaseFailed},
	}

	for _, p := range phases {
		for _, tr := range triggers {
			got, ok := Next(p, tr)
			want, wantOK := allowed[p][tr]
			if ok != wantOK {
				t.Errorf("Next(%s, %s) ok = %v, want %v", p, tr, ok, wantOK)
				continue
			}
			if !ok {
				want = p
			}
			if got != want {
				t.Errorf("Next(%s, %s) = %s, want %s", p, tr, got, want)
			}
		}
	}
}

func TestEndedIsTerminal(t *testing.T) {
	if !PhaseEnded.Terminal() {
		t.Fatal("ended should be terminal")
	}
	for _, p := range []Phase{PhaseNotStarted, PhaseConnecting, PhaseActive, PhaseFailed} {
		if p.Terminal() {
			t.Errorf("%s should not be terminal", p)
		}
	}
}
