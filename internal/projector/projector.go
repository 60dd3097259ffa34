package projector

import (
	"sort"

	"qms/token-sync/internal/models"
)

// PublicEntry is what the public display may show about a token.
type PublicEntry struct {
	TokenNumber string        `json:"token_number"`
	Status      models.Status `json:"status"`
}

type Board struct {
	NowServing []PublicEntry `json:"now_serving"`
	Waiting    []PublicEntry `json:"waiting"`
}

type Summary struct {
	Total      int `json:"total"`
	Waiting    int `json:"waiting"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
}

// DoctorQueue orders tokens in_progress, waiting, completed, keeping the
// snapshot order within each tier.
func DoctorQueue(tokens []models.Token) []models.Token {
	out := make([]models.Token, len(tokens))
	copy(out, tokens)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Status.Priority() < out[j].Status.Priority()
	})
	return out
}

// PublicBoard partitions tokens for the waiting-room display. Completed
// tokens never appear.
func PublicBoard(tokens []models.Token) Board {
	board := Board{NowServing: []PublicEntry{}, Waiting: []PublicEntry{}}
	for _, token := range tokens {
		entry := PublicEntry{TokenNumber: token.TokenNumber, Status: token.Status}
		switch token.Status {
		case models.StatusInProgress:
			board.NowServing = append(board.NowServing, entry)
		case models.StatusWaiting:
			board.Waiting = append(board.Waiting, entry)
		}
	}
	return board
}

func StaffSummary(tokens []models.Token) Summary {
	summary := Summary{Total: len(tokens)}
	for _, token := range tokens {
		switch token.Status {
		case models.StatusWaiting:
			summary.Waiting++
		case models.StatusInProgress:
			summary.InProgress++
		case models.StatusCompleted:
			summary.Completed++
		}
	}
	return summary
}
