package service

import (
	"math"
	"math/rand/v2"
	"strconv"
	"strings"

	"joingate/internal/captcha/models"
)

// PuzzleGenerator produces the question for a new challenge.
type PuzzleGenerator interface {
	Next() models.Puzzle
}

// PuzzleFunc adapts a function to PuzzleGenerator.
type PuzzleFunc func() models.Puzzle

func (f PuzzleFunc) Next() models.Puzzle { return f() }

// randomPuzzles draws both operands uniformly from [min, max].
type randomPuzzles struct {
	min, max int
}

func (r randomPuzzles) Next() models.Puzzle {
	return models.Puzzle{A: r.operand(), B: r.operand()}
}

func (r randomPuzzles) operand() int {
	return r.min + rand.IntN(r.max-r.min+1)
}

// parseAnswer extracts an integer answer from message content. Integers and
// finite decimals with no fractional part are accepted; anything else is not
// an answer.
func parseAnswer(content string) (int, bool) {
	s := strings.TrimSpace(content)
	if s == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	if f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int(f), true
}
