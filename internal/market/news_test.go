package market

import (
	mathrand "math/rand"
	"testing"
	"time"
)

func TestGenerateEventBounds(t *testing.T) {
	rng := mathrand.New(mathrand.NewSource(3)).Float64
	now := time.Now()

	sectors := make(map[string]struct{}, len(Sectors))
	for _, s := range Sectors {
		sectors[s] = struct{}{}
	}

	for i := 0; i < 2_000; i++ {
		e := GenerateEvent(now, rng)
		if e.Headline == "" {
			t.Fatal("event without headline")
		}
		if !e.ActiveAt(now) {
			t.Fatalf("freshly generated event not active: %+v", e)
		}

		switch e.Sentiment {
		case "neutral":
			if e.ImpactBps != 0 || len(e.Sectors) != 0 {
				t.Fatalf("neutral event carries impact: %+v", e)
			}
		case "positive":
			if e.ImpactBps < 20 || e.ImpactBps > 150 {
				t.Fatalf("positive impact %d outside [20, 150] bps", e.ImpactBps)
			}
		case "negative":
			if e.ImpactBps > -20 || e.ImpactBps < -150 {
				t.Fatalf("negative impact %d outside [-150, -20] bps", e.ImpactBps)
			}
		default:
			t.Fatalf("unknown sentiment %q", e.Sentiment)
		}

		if e.Sentiment != "neutral" {
			if len(e.Sectors) != 1 {
				t.Fatalf("impactful event must target one sector: %+v", e)
			}
			if _, ok := sectors[e.Sectors[0]]; !ok {
				t.Fatalf("unknown sector %q", e.Sectors[0])
			}
			if e.DurationMinutes < 30 || e.DurationMinutes > 120 {
				t.Fatalf("duration %d outside [30, 120] minutes", e.DurationMinutes)
			}
		}
	}
}

func TestGenerateEventMixesSentiments(t *testing.T) {
	rng := mathrand.New(mathrand.NewSource(9)).Float64
	counts := map[string]int{}
	for i := 0; i < 1_000; i++ {
		counts[GenerateEvent(time.Now(), rng).Sentiment]++
	}
	for _, s := range []string{"positive", "negative", "neutral"} {
		if counts[s] == 0 {
			t.Fatalf("sentiment %q never generated in 1000 rolls", s)
		}
	}
}
