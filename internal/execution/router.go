package execution

import (
	"fmt"
	"math"
)

// ScoreVenue 按价格、费率、延迟与深度为场所打分，分数越高越优。
func ScoreVenue(q OrderBookQuote, size float64) float64 {
	return -math.Abs(q.Price(size)) - q.Fee*1000 - q.Latency*10 + q.Depth*0.01
}

// SelectVenue 选出得分最高的场所。
// quotes 的顺序由调用方保证确定，同分时取先出现者。
func SelectVenue(quotes []OrderBookQuote, size float64) (RoutingDecision, error) {
	if len(quotes) == 0 {
		return RoutingDecision{}, ErrNoVenueAvailable
	}

	scores := make([]VenueScore, 0, len(quotes))
	best := 0
	bestScore := math.Inf(-1)
	for i, q := range quotes {
		score := ScoreVenue(q, size)
		scores = append(scores, VenueScore{Venue: q.Venue, Score: score})
		if i == 0 || score > bestScore {
			best = i
			bestScore = score
		}
	}

	chosen := quotes[best]
	return RoutingDecision{
		Venue:  chosen.Venue,
		Quote:  chosen,
		Score:  bestScore,
		Scores: scores,
		Rationale: fmt.Sprintf(
			"best venue %s score=%g price=%g depth=%g fee=%g latency=%g",
			chosen.Venue, bestScore, chosen.Price(size), chosen.Depth, chosen.Fee, chosen.Latency,
		),
	}, nil
}
