// Package interview implements the sequential yes/no/skip questionnaire that
// narrows an unclear situation down to a hazard category.
package interview

import (
	"errors"
	"fmt"
	"strings"
)

var ErrComplete = errors.New("interview already complete")

type Answer int

const (
	Skip Answer = iota
	Yes
	No
)

func ParseAnswer(s string) (Answer, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "true":
		return Yes, nil
	case "no", "false":
		return No, nil
	case "skip", "", "null":
		return Skip, nil
	}
	return Skip, fmt.Errorf("unknown answer %q", s)
}

func (a Answer) String() string {
	switch a {
	case Yes:
		return "yes"
	case No:
		return "no"
	default:
		return "skip"
	}
}

func (a Answer) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Answer) UnmarshalText(b []byte) error {
	v, err := ParseAnswer(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// AnswerSet maps question key to the stored value. Skipped keys are absent.
type AnswerSet map[string]bool

func (s AnswerSet) clone() AnswerSet {
	out := make(AnswerSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

type State int

const (
	AwaitingConfirmation State = iota
	Asking
	Complete
)

func (s State) String() string {
	switch s {
	case AwaitingConfirmation:
		return "awaiting_confirmation"
	case Asking:
		return "asking"
	default:
		return "complete"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

type Question struct {
	Key  string            `json:"key"`
	Text map[string]string `json:"text"`
}

// Rule fires when the answer stored under Key equals Value.
type Rule struct {
	Key    string `json:"key"`
	Value  bool   `json:"value"`
	Hazard string `json:"hazard"`
}

// Table is the fixed question order and priority-ordered rule list.
type Table struct {
	Questions     []Question
	Rules         []Rule
	Unclear       string
	DefaultLocale string
}

// Evaluate returns the hazard of the first rule matching answers.
func Evaluate(rules []Rule, answers AnswerSet) (string, bool) {
	for _, r := range rules {
		if v, ok := answers[r.Key]; ok && v == r.Value {
			return r.Hazard, true
		}
	}
	return "", false
}

type Result struct {
	Hazard  string    `json:"hazard"`
	Answers AnswerSet `json:"answers"`
}

// Interview is not safe for concurrent use; callers own one per session.
type Interview struct {
	table      Table
	suggestion string
	state      State
	index      int
	answers    AnswerSet
	result     Result
	// declined is set once a suggestion was rejected and holds until Restart.
	declined bool
}

// New starts an interview. A non-empty suggestion is offered for
// confirmation before the first question.
func New(t Table, suggestion string) *Interview {
	iv := &Interview{table: t, suggestion: suggestion}
	iv.Restart()
	return iv
}

// Restart clears all answers and returns to the initial state.
func (iv *Interview) Restart() {
	iv.answers = AnswerSet{}
	iv.index = 0
	iv.result = Result{}
	iv.declined = false
	switch {
	case iv.suggestion != "":
		iv.state = AwaitingConfirmation
	case len(iv.table.Questions) == 0:
		iv.finish(iv.table.Unclear)
	default:
		iv.state = Asking
	}
}

// Suggest offers slug for confirmation. It only takes effect before the
// first question has been answered and not after a declined suggestion.
// Offering the suggestion already awaiting confirmation reports false.
func (iv *Interview) Suggest(slug string) bool {
	if slug == "" || iv.state == Complete || iv.declined || iv.index > 0 || len(iv.answers) > 0 {
		return false
	}
	if iv.state == AwaitingConfirmation && iv.suggestion == slug {
		return false
	}
	iv.suggestion = slug
	iv.state = AwaitingConfirmation
	return true
}

func (iv *Interview) State() State       { return iv.state }
func (iv *Interview) Suggestion() string { return iv.suggestion }
func (iv *Interview) Index() int         { return iv.index }
func (iv *Interview) Total() int         { return len(iv.table.Questions) }

// Question returns the question currently being asked.
func (iv *Interview) Question() (Question, bool) {
	if iv.state != Asking {
		return Question{}, false
	}
	return iv.table.Questions[iv.index], true
}

func (iv *Interview) Answers() AnswerSet { return iv.answers.clone() }

func (iv *Interview) Result() (Result, bool) {
	if iv.state != Complete {
		return Result{}, false
	}
	return Result{Hazard: iv.result.Hazard, Answers: iv.result.Answers.clone()}, true
}

// Answer records a for the current step and advances. The first rule that
// matches the accumulated answers completes the interview immediately.
func (iv *Interview) Answer(a Answer) (State, error) {
	switch iv.state {
	case Complete:
		return iv.state, ErrComplete
	case AwaitingConfirmation:
		if a == Yes {
			iv.finish(iv.suggestion)
			return iv.state, nil
		}
		iv.declined = true
		if len(iv.table.Questions) == 0 {
			iv.finish(iv.table.Unclear)
			return iv.state, nil
		}
		iv.state = Asking
		return iv.state, nil
	}

	key := iv.table.Questions[iv.index].Key
	switch a {
	case Yes:
		iv.answers[key] = true
	case No:
		iv.answers[key] = false
	default:
		delete(iv.answers, key)
	}

	if hazard, ok := Evaluate(iv.table.Rules, iv.answers); ok {
		iv.finish(hazard)
		return iv.state, nil
	}
	if iv.index+1 >= len(iv.table.Questions) {
		iv.finish(iv.table.Unclear)
		return iv.state, nil
	}
	iv.index++
	return iv.state, nil
}

func (iv *Interview) finish(hazard string) {
	iv.state = Complete
	iv.result = Result{Hazard: hazard, Answers: iv.answers.clone()}
}

// Describe renders the collected answers as plain text, one question per
// line, suitable as a description for remote classification.
func (iv *Interview) Describe(locale string) string {
	var b strings.Builder
	for _, q := range iv.table.Questions {
		v, ok := iv.answers[q.Key]
		if !ok {
			continue
		}
		text := q.Text[locale]
		if text == "" {
			text = q.Text[iv.table.DefaultLocale]
		}
		if text == "" {
			text = q.Key
		}
		ans := No
		if v {
			ans = Yes
		}
		fmt.Fprintf(&b, "%s %s\n", text, ans)
	}
	return strings.TrimRight(b.String(), "\n")
}
