package domain

// Difficulty grades how hard an objective is to complete within the budget.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// GameObjective describes what the player is trying to change in history.
// It is created before play begins and is read-only input to scoring.
type GameObjective struct {
	Title             string     `json:"title"`
	SuccessCriteria   string     `json:"successCriteria"`
	HistoricalContext string     `json:"historicalContext"`
	TargetProgress    int        `json:"targetProgress"`
	Difficulty        Difficulty `json:"difficulty"`
}

// DefaultObjective returns the fixed "Prevent World War I" scenario every
// new session starts with.
func DefaultObjective() GameObjective {
	return GameObjective{
		Title: "Prevent World War I",
		SuccessCriteria: "Prevent the outbreak of World War I through strategic " +
			"interventions with key historical figures. Achieve diplomatic solutions, " +
			"reduce tensions, or eliminate trigger events that led to global conflict.",
		HistoricalContext: "World War I began in 1914 following the assassination of " +
			"Archduke Franz Ferdinand in Sarajevo. A complex web of alliances, " +
			"nationalism, and imperial competition created a powder keg that exploded " +
			"into global warfare.",
		TargetProgress: ProgressTarget,
		Difficulty:     DifficultyMedium,
	}
}
