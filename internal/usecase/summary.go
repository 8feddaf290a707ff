package usecase

import (
	"math"
	"sort"
	"time"

	"timeline-agent/internal/domain"
)

// Efficiency ratings, keyed on how many budgeted messages were left over.
const (
	RatingLegendary = "Legendary"
	RatingExcellent = "Excellent"
	RatingGreat     = "Great"
	RatingGood      = "Good"
	RatingStandard  = "Standard"
)

// TurnRecord is one completed player turn as seen by the analyzer: the
// player's text and timestamp joined with the dice and timeline data the
// turn produced.
type TurnRecord struct {
	MessageText    string    `json:"messageText"`
	DiceRoll       int       `json:"diceRoll"`
	DiceOutcome    string    `json:"diceOutcome"`
	ProgressChange int       `json:"progressChange"`
	Timestamp      time.Time `json:"timestamp"`
	Importance     int       `json:"importance,omitempty"`
}

// MessageEfficiency grades how much of the message budget went unused.
type MessageEfficiency struct {
	MessagesUsed         int    `json:"messagesUsed"`
	MessagesSaved        int    `json:"messagesSaved"`
	EfficiencyPercentage int    `json:"efficiencyPercentage"`
	Rating               string `json:"rating"`
}

// GameStatistics are the aggregate numbers over all completed turns.
type GameStatistics struct {
	AverageDiceRoll     float64           `json:"averageDiceRoll"`
	TotalProgressGained int               `json:"totalProgressGained"`
	GameOutcome         domain.GameStatus `json:"gameOutcome"`
	FinalProgress       int               `json:"finalProgress"`
	GameDurationMinutes int               `json:"gameDurationMinutes"`
}

// GameSummary is the post-hoc analysis of a session.
type GameSummary struct {
	TurningPoints []TurnRecord      `json:"turningPoints"`
	BestRoll      *TurnRecord       `json:"bestRoll,omitempty"`
	WorstRoll     *TurnRecord       `json:"worstRoll,omitempty"`
	Efficiency    MessageEfficiency `json:"messageEfficiency"`
	Statistics    GameStatistics    `json:"statistics"`
}

// Summarize analyzes a session's history. It is a pure function of the
// state: it never mutates it and never re-rolls or re-evaluates anything.
// A session with no completed turns yields an empty but valid summary.
func Summarize(state *domain.GameState) GameSummary {
	turns := completedTurns(state.MessageHistory)

	summary := GameSummary{
		TurningPoints: turningPoints(turns),
		Efficiency:    efficiency(state.RemainingMessages),
		Statistics:    statistics(state, turns),
	}
	summary.BestRoll, summary.WorstRoll = bestWorst(turns)
	return summary
}

// completedTurns pairs each enriched AI reply with the player message
// that provoked it. Turns that failed partway leave no enriched reply
// and therefore never qualify.
func completedTurns(history []domain.Message) []TurnRecord {
	var turns []TurnRecord
	var lastUser *domain.Message
	for i := range history {
		m := history[i]
		switch {
		case m.Sender == domain.SenderUser:
			lastUser = &history[i]
		case m.Sender == domain.SenderAI && m.Enriched() && lastUser != nil:
			turns = append(turns, TurnRecord{
				MessageText:    lastUser.Text,
				DiceRoll:       m.Outcome.DiceRoll,
				DiceOutcome:    m.Outcome.DiceOutcome,
				ProgressChange: m.Outcome.ProgressChange,
				Timestamp:      lastUser.Timestamp,
			})
			lastUser = nil
		}
	}
	return turns
}

// importance scores how pivotal a turn was. Critical rolls always make
// the cut; otherwise only swings of 25 or more qualify.
func importance(t TurnRecord) (int, bool) {
	delta := t.ProgressChange
	abs := delta
	if abs < 0 {
		abs = -abs
	}
	switch {
	case t.DiceRoll >= 19:
		return 100 + delta, true
	case t.DiceRoll <= 2:
		return 90 + abs, true
	case abs >= 25:
		return 50 + abs, true
	default:
		return 0, false
	}
}

func turningPoints(turns []TurnRecord) []TurnRecord {
	var points []TurnRecord
	for _, t := range turns {
		score, ok := importance(t)
		if !ok {
			continue
		}
		t.Importance = score
		points = append(points, t)
	}
	// Stable so equally important turns keep chronological order.
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Importance > points[j].Importance
	})
	return points
}

// bestWorst picks the turns with the highest and lowest rolls. Ties go
// to the earliest turn; a single turn is both best and worst.
func bestWorst(turns []TurnRecord) (best, worst *TurnRecord) {
	for i := range turns {
		if best == nil || turns[i].DiceRoll > best.DiceRoll {
			best = &turns[i]
		}
		if worst == nil || turns[i].DiceRoll < worst.DiceRoll {
			worst = &turns[i]
		}
	}
	return best, worst
}

func efficiency(remaining int) MessageEfficiency {
	used := domain.TotalMessages - remaining
	pct := int(math.Round(float64(remaining) / float64(domain.TotalMessages) * 100))

	var rating string
	switch {
	case remaining >= 4:
		rating = RatingLegendary
	case remaining >= 3:
		rating = RatingExcellent
	case remaining >= 2:
		rating = RatingGreat
	case remaining >= 1:
		rating = RatingGood
	default:
		rating = RatingStandard
	}

	return MessageEfficiency{
		MessagesUsed:         used,
		MessagesSaved:        remaining,
		EfficiencyPercentage: pct,
		Rating:               rating,
	}
}

func statistics(state *domain.GameState, turns []TurnRecord) GameStatistics {
	stats := GameStatistics{
		GameOutcome:   state.Status,
		FinalProgress: state.ObjectiveProgress,
	}
	if len(turns) == 0 {
		return stats
	}

	var rollSum int
	for _, t := range turns {
		rollSum += t.DiceRoll
		// Losses never offset gains in this metric.
		if t.ProgressChange > 0 {
			stats.TotalProgressGained += t.ProgressChange
		}
	}
	avg := float64(rollSum) / float64(len(turns))
	stats.AverageDiceRoll = math.Round(avg*100) / 100

	if len(turns) > 1 {
		elapsed := turns[len(turns)-1].Timestamp.Sub(turns[0].Timestamp)
		stats.GameDurationMinutes = int(math.Round(elapsed.Minutes()))
	}
	return stats
}
