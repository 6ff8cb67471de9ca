package assessment

import (
	"fmt"

	"mindgarden/backend/internal/models"
	apperrors "mindgarden/backend/pkg/errors"
)

const (
	MinAnswer = 1
	MaxAnswer = 5

	// ConversationTitle names conversations created for an assessment
	ConversationTitle = "Mood Assessment"

	// GardenPrompt is saved after the summary to point at the mood garden
	GardenPrompt = "Your mood has been added to your Mood Garden! 🌱 Would you like to see how your garden is growing with this new entry?"
)

// Question is one item of the survey
type Question struct {
	Index       int    `json:"index"`
	Text        string `json:"question"`
	Description string `json:"description"`
}

var questions = []Question{
	{Text: "How would you rate your overall mood today?", Description: "1 = Very low mood, 5 = Very good mood"},
	{Text: "How well have you been sleeping recently?", Description: "1 = Poor sleep, 5 = Excellent sleep"},
	{Text: "How would you rate your stress levels?", Description: "1 = Extremely stressed, 5 = Very relaxed"},
	{Text: "How connected do you feel to others?", Description: "1 = Very isolated, 5 = Very connected"},
	{Text: "How would you rate your energy levels?", Description: "1 = Very low energy, 5 = Very high energy"},
}

// Questions returns the survey in order
func Questions() []Question {
	out := make([]Question, len(questions))
	for i, q := range questions {
		q.Index = i
		out[i] = q
	}
	return out
}

// QuestionCount is the number of answers a complete assessment holds
func QuestionCount() int {
	return len(questions)
}

// Result is a scored assessment
type Result struct {
	Answers []int           `json:"answers"`
	Score   float64         `json:"score"`
	Mood    models.MoodType `json:"mood"`
	Summary string          `json:"summary"`
}

// Score returns the mean of answers
func Score(answers []int) float64 {
	if len(answers) == 0 {
		return 0
	}
	sum := 0
	for _, a := range answers {
		sum += a
	}
	return float64(sum) / float64(len(answers))
}

// TierMessage returns the guidance text for a score range
func TierMessage(score float64) string {
	switch {
	case score <= 2:
		return "Your responses suggest you might be experiencing significant distress. Please consider reaching out to a mental health professional for support. Remember, it's okay to ask for help."
	case score <= 3:
		return "Your responses indicate some areas of concern. Consider practicing self-care and reaching out to supportive people in your life."
	case score <= 4:
		return "Your responses suggest you're doing okay, but there might be some areas to focus on. Keep up with your self-care practices."
	default:
		return "Your responses indicate you're doing well! Keep up the good work and continue with your positive habits."
	}
}

// Summary renders the message persisted when an assessment completes. The
// mood garden reads scores back out of this text.
func Summary(score float64) string {
	return fmt.Sprintf("Based on your responses, your mental health score is %.1f/5. %s", score, TierMessage(score))
}

// Evaluate scores a complete set of answers
func Evaluate(answers []int) (*Result, error) {
	if len(answers) != len(questions) {
		return nil, apperrors.NewInvalidArgumentError(fmt.Sprintf("An assessment needs exactly %d answers", len(questions)))
	}
	for _, a := range answers {
		if err := validateAnswer(a); err != nil {
			return nil, err
		}
	}

	score := Score(answers)
	return &Result{
		Answers: append([]int(nil), answers...),
		Score:   score,
		Mood:    models.MoodForScore(score),
		Summary: Summary(score),
	}, nil
}

func validateAnswer(v int) error {
	if v < MinAnswer || v > MaxAnswer {
		return apperrors.NewInvalidArgumentError(fmt.Sprintf("Answers must be between %d and %d", MinAnswer, MaxAnswer))
	}
	return nil
}

// Engine walks the survey. It is in AwaitingAnswer(i) while fewer than all
// questions are answered and Completed afterwards. Engine is not safe for
// concurrent use.
type Engine struct {
	answers []int
}

// Step is the index of the question awaiting an answer
func (e *Engine) Step() int {
	return len(e.answers)
}

// Completed reports whether every question has been answered
func (e *Engine) Completed() bool {
	return len(e.answers) == len(questions)
}

// Current returns the question awaiting an answer
func (e *Engine) Current() (Question, bool) {
	if e.Completed() {
		return Question{}, false
	}
	q := questions[e.Step()]
	q.Index = e.Step()
	return q, true
}

// Answer records v for the current question. Out of range values leave the
// state unchanged. The result is non-nil once the final answer is recorded.
func (e *Engine) Answer(v int) (*Result, error) {
	if e.Completed() {
		return nil, apperrors.NewConflictError("ASSESSMENT_COMPLETED", "The assessment is already complete")
	}
	if err := validateAnswer(v); err != nil {
		return nil, err
	}

	e.answers = append(e.answers, v)
	if !e.Completed() {
		return nil, nil
	}
	return Evaluate(e.answers)
}

// Undo drops the last answer
func (e *Engine) Undo() {
	if len(e.answers) > 0 {
		e.answers = e.answers[:len(e.answers)-1]
	}
}
