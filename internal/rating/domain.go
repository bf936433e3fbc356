// Package rating keeps the scores users give to catalog items.
package rating

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"campuslib/internal/apperr"
)

var (
	ErrRatingNotFound = apperr.NotFound("rating_not_found", "rating not found")
	ErrInvalidRating  = apperr.Validation("invalid_rating", "invalid rating")
	ErrAlreadyRated   = apperr.Conflict("already_rated", "user already rated this item")
	ErrLoanMismatch   = apperr.Rule("loan_mismatch", "the loan does not belong to this user and item")
)

const (
	MinScore      = 1
	MaxScore      = 5
	maxCommentLen = 500
)

// Rating is one user's score for an item. Removed ratings stay stored inactive.
type Rating struct {
	ID        uuid.UUID     `json:"id" db:"id"`
	ItemID    uuid.UUID     `json:"item_id" db:"item_id"`
	UserID    uuid.UUID     `json:"user_id" db:"user_id"`
	LoanID    uuid.NullUUID `json:"loan_id" db:"loan_id"`
	Score     int           `json:"score" db:"score"`
	Comment   string        `json:"comment" db:"comment"`
	Active    bool          `json:"active" db:"active"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt time.Time     `json:"updated_at" db:"updated_at"`
}

// NewRating is the input for rating an item.
type NewRating struct {
	Score   int        `json:"score"`
	Comment string     `json:"comment"`
	LoanID  *uuid.UUID `json:"loan_id"`
}

func (n *NewRating) normalize() {
	n.Comment = strings.TrimSpace(n.Comment)
}

// Validate checks the score range and the comment length.
func (n NewRating) Validate() error {
	if n.Score < MinScore || n.Score > MaxScore {
		return ErrInvalidRating.WithDetail("score must be between %d and %d", MinScore, MaxScore)
	}
	if utf8.RuneCountInString(n.Comment) > maxCommentLen {
		return ErrInvalidRating.WithDetail("comment must have at most %d characters", maxCommentLen)
	}
	return nil
}

// Summary is the aggregate score of an item.
type Summary struct {
	ItemID uuid.UUID `json:"item_id"`
	// Average is rounded to one decimal place, 0 when unrated.
	Average float64 `json:"average"`
	Count   int     `json:"count"`
}
