package market

import (
	"fmt"
	"strings"
	"time"
)

// News generation. Each news tick produces a headline; most headlines
// carry a sector impact that the simulator folds into subsequent price
// ticks.

const eventChance = 0.70

var positiveHeadlines = []string{
	"%s firms post record quarterly earnings",
	"Regulators approve fast-track expansion for the %s sector",
	"Breakthrough announced across %s research labs",
	"Institutional money floods into %s names",
}

var negativeHeadlines = []string{
	"Supply crunch rattles %s firms",
	"Probe opened into accounting practices across the %s sector",
	"Key %s exports hit by new tariffs",
	"Analysts slash outlook for %s names",
}

var neutralHeadlines = []string{
	"Trading volumes steady as the session grinds on",
	"Index drifts sideways awaiting direction",
	"Brokers report an uneventful afternoon",
}

// GenerateEvent rolls a headline and, usually, an attached market
// event. rng is a uniform source over [0, 1).
func GenerateEvent(now time.Time, rng func() float64) Event {
	if rng() >= eventChance {
		return Event{
			Headline:    neutralHeadlines[pick(rng, len(neutralHeadlines))],
			Sentiment:   "neutral",
			EffectiveAt: now,
			// Neutral stories carry no impact but stay visible in the feed.
			DurationMinutes: 30,
		}
	}

	sector := Sectors[pick(rng, len(Sectors))]
	positive := rng() < 0.5

	// Impact between 20 and 150 bps, signed by sentiment.
	impact := int32(20 + pick(rng, 131))
	sentiment := "positive"
	templates := positiveHeadlines
	if !positive {
		impact = -impact
		sentiment = "negative"
		templates = negativeHeadlines
	}

	return Event{
		Headline:        fmt.Sprintf(templates[pick(rng, len(templates))], sectorLabel(sector)),
		Sentiment:       sentiment,
		ImpactBps:       impact,
		Sectors:         []string{sector},
		EffectiveAt:     now,
		DurationMinutes: int32(30 + pick(rng, 91)), // 30–120 minutes
	}
}

func pick(rng func() float64, n int) int {
	if n <= 0 {
		return 0
	}
	i := int(rng() * float64(n))
	if i >= n {
		i = n - 1
	}
	return i
}

func sectorLabel(sector string) string {
	return strings.ToUpper(sector[:1]) + sector[1:]
}
