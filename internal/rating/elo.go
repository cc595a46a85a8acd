package rating

import (
	"math"

	"quizduel/internal/domain"
)

// KFactor is the Elo K for all duels.
const KFactor = 32

// Delta returns the Elo rating change for a player with the given rating
// against opponentRating, for the given result. The opponent's change is the
// negation: deltas are assigned, not recomputed, so every duel is zero-sum.
func Delta(rating, opponentRating int, result domain.Result) int {
	expected := 1 / (1 + math.Pow(10, float64(opponentRating-rating)/400))

	actual := 0.5
	switch result {
	case domain.ResultWin:
		actual = 1
	case domain.ResultLoss:
		actual = 0
	}

	return int(math.Round(KFactor * (actual - expected)))
}

// Outcome derives both players' results from their final scores.
func Outcome(score1, score2 int) (domain.Result, domain.Result) {
	switch {
	case score1 > score2:
		return domain.ResultWin, domain.ResultLoss
	case score2 > score1:
		return domain.ResultLoss, domain.ResultWin
	default:
		return domain.ResultDraw, domain.ResultDraw
	}
}
