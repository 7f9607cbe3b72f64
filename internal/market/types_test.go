package market

import "testing"

func TestPhaseTransitionsGuards(t *testing.T) {
	if !PhaseClosed.CanOpen() || PhaseOpen.CanOpen() || PhaseClosing.CanOpen() {
		t.Fatal("only a closed market may open")
	}
	if !PhaseOpen.CanTick() || PhaseClosed.CanTick() || PhaseClosing.CanTick() {
		t.Fatal("only an open market may tick")
	}
	if !PhaseOpen.CanClose() || !PhaseClosing.CanClose() || PhaseClosed.CanClose() {
		t.Fatal("open and closing markets may close; a closed one may not")
	}
}

func TestEventAffectsSector(t *testing.T) {
	scoped := Event{Sectors: []string{SectorTech, SectorSpace}}
	if !scoped.AffectsSector(SectorTech) || !scoped.AffectsSector(SectorSpace) {
		t.Fatal("event must affect its listed sectors")
	}
	if scoped.AffectsSector(SectorEnergy) {
		t.Fatal("event must not leak into unlisted sectors")
	}

	wide := Event{}
	for _, s := range Sectors {
		if !wide.AffectsSector(s) {
			t.Fatalf("market-wide event must affect %s", s)
		}
	}
}

func TestSnapshotTickers(t *testing.T) {
	snap := PriceSnapshot{
		1: {CompanyID: 1, Ticker: "HELIOS"},
		2: {CompanyID: 2, Ticker: "VOLTIC"},
	}
	got := snap.Tickers()
	if len(got) != 2 {
		t.Fatalf("got %d tickers, want 2", len(got))
	}
	seen := map[string]bool{}
	for _, tk := range got {
		seen[tk] = true
	}
	if !seen["HELIOS"] || !seen["VOLTIC"] {
		t.Fatalf("tickers = %v", got)
	}
}
