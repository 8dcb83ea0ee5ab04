// Package recovery checks a user's answers to their security questions.
package recovery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"driveshare/internal/obs"
)

var (
	ErrNoQuestions = errors.New("no security questions set")
	ErrNoAnswers   = errors.New("at least one question and answer required")
)

// Question is one step of the chain, in the order it is asked.
type Question struct {
	Position   int
	Text       string
	AnswerHash []byte
}

// QA is a question with its plain-text answer, as the user sets it.
type QA struct {
	Question string
	Answer   string
}

type Verifier struct {
	db     *sql.DB
	logger *obs.Logger
	cost   int
}

// NewVerifier hashes with cost; zero means bcrypt.DefaultCost.
func NewVerifier(db *sql.DB, logger *obs.Logger, cost int) *Verifier {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Verifier{db: db, logger: logger, cost: cost}
}

func normalize(answer string) []byte {
	return []byte(strings.ToLower(strings.TrimSpace(answer)))
}

// SetQuestions replaces the user's chain.
func (v *Verifier) SetQuestions(ctx context.Context, userID string, qas []QA) error {
	if userID == "" || len(qas) == 0 {
		return ErrNoAnswers
	}
	hashes := make([][]byte, len(qas))
	for i, qa := range qas {
		if strings.TrimSpace(qa.Question) == "" || strings.TrimSpace(qa.Answer) == "" {
			return fmt.Errorf("question %d: %w", i+1, ErrNoAnswers)
		}
		h, err := bcrypt.GenerateFromPassword(normalize(qa.Answer), v.cost)
		if err != nil {
			return err
		}
		hashes[i] = h
	}

	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM security_questions WHERE user_id = ?;`, userID); err != nil {
		return err
	}
	for i, qa := range qas {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO security_questions(user_id, position, question, answer_hash) VALUES(?, ?, ?, ?);
`, userID, i, strings.TrimSpace(qa.Question), string(hashes[i])); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Questions returns the chain in asking order.
func (v *Verifier) Questions(ctx context.Context, userID string) ([]Question, error) {
	rows, err := v.db.QueryContext(ctx, `
SELECT position, question, answer_hash FROM security_questions
WHERE user_id = ? ORDER BY position;
`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Question
	for rows.Next() {
		var (
			q    Question
			hash string
		)
		if err := rows.Scan(&q.Position, &q.Text, &hash); err != nil {
			return nil, err
		}
		q.AnswerHash = []byte(hash)
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNoQuestions
	}
	return out, nil
}

// Verify reports whether answers satisfy every question, in order.
func (v *Verifier) Verify(ctx context.Context, userID string, answers []string) (bool, error) {
	qs, err := v.Questions(ctx, userID)
	if err != nil {
		return false, err
	}
	checked, ok := Fold(qs, answers)
	v.logger.Info(map[string]interface{}{
		"op":       "recovery_verify",
		"user":     userID,
		"checked":  checked,
		"of":       len(qs),
		"verified": ok,
	})
	return ok, nil
}

// Fold walks the chain and stops at the first answer that does not match.
// It returns how many hashes were compared. Missing answers fail.
func Fold(qs []Question, answers []string) (checked int, ok bool) {
	if len(answers) < len(qs) {
		return 0, false
	}
	for i, q := range qs {
		checked++
		if bcrypt.CompareHashAndPassword(q.AnswerHash, normalize(answers[i])) != nil {
			return checked, false
		}
	}
	return checked, true
}
