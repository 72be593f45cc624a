package interview

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTable() Table {
	keys := []string{"smoke", "injury", "inside", "vehicle", "multiple", "water", "hazmat",
		"heat", "smell", "panic", "power", "accident", "pandemic", "psych"}
	qs := make([]Question, len(keys))
	for i, k := range keys {
		qs[i] = Question{Key: k, Text: map[string]string{"de": k + "?", "en": k + " (en)?"}}
	}
	return Table{
		Questions: qs,
		Rules: []Rule{
			{Key: "smoke", Value: true, Hazard: "fire"},
			{Key: "power", Value: false, Hazard: "power-outage"},
			{Key: "panic", Value: true, Hazard: "conflict"},
			{Key: "smell", Value: true, Hazard: "hazmat"},
			{Key: "water", Value: true, Hazard: "flood"},
			{Key: "hazmat", Value: true, Hazard: "hazmat"},
			{Key: "heat", Value: true, Hazard: "heat"},
			{Key: "accident", Value: true, Hazard: "accident"},
			{Key: "pandemic", Value: true, Hazard: "pandemic"},
			{Key: "injury", Value: true, Hazard: "medical-emergency"},
			{Key: "psych", Value: true, Hazard: "psychological-crisis"},
		},
		Unclear:       "unclear",
		DefaultLocale: "de",
	}
}

func TestSmokeShortCircuits(t *testing.T) {
	iv := New(testTable(), "")
	require.Equal(t, Asking, iv.State())

	q, ok := iv.Question()
	require.True(t, ok)
	assert.Equal(t, "smoke", q.Key)

	state, err := iv.Answer(Yes)
	require.NoError(t, err)
	assert.Equal(t, Complete, state)

	res, ok := iv.Result()
	require.True(t, ok)
	assert.Equal(t, Result{Hazard: "fire", Answers: AnswerSet{"smoke": true}}, res)

	_, err = iv.Answer(No)
	assert.ErrorIs(t, err, ErrComplete)
}

func TestEachRuleShortCircuits(t *testing.T) {
	table := testTable()
	for _, rule := range table.Rules {
		t.Run(rule.Key, func(t *testing.T) {
			iv := New(table, "")
			for iv.State() == Asking {
				q, _ := iv.Question()
				a := Skip
				if q.Key == rule.Key {
					a = No
					if rule.Value {
						a = Yes
					}
				}
				_, err := iv.Answer(a)
				require.NoError(t, err)
			}
			res, ok := iv.Result()
			require.True(t, ok)
			assert.Equal(t, rule.Hazard, res.Hazard)
			assert.Equal(t, AnswerSet{rule.Key: rule.Value}, res.Answers)
		})
	}
}

func TestExhaustedIsUnclear(t *testing.T) {
	iv := New(testTable(), "")
	asked := 0
	for iv.State() == Asking {
		q, _ := iv.Question()
		a := No
		if q.Key == "power" {
			a = Yes
		}
		_, err := iv.Answer(a)
		require.NoError(t, err)
		asked++
	}
	assert.Equal(t, len(testTable().Questions), asked)

	res, _ := iv.Result()
	assert.Equal(t, "unclear", res.Hazard)
	assert.Len(t, res.Answers, asked)
	assert.True(t, res.Answers["power"])
}

func TestSkipStoresNothing(t *testing.T) {
	table := Table{
		Questions: []Question{{Key: "injury"}, {Key: "smoke"}},
		Rules: []Rule{
			{Key: "smoke", Value: true, Hazard: "fire"},
			{Key: "injury", Value: true, Hazard: "medical-emergency"},
		},
		Unclear: "unclear",
	}
	iv := New(table, "")
	_, _ = iv.Answer(No)
	assert.Equal(t, AnswerSet{"injury": false}, iv.Answers())

	_, _ = iv.Answer(Skip)
	res, ok := iv.Result()
	require.True(t, ok)
	assert.Equal(t, "unclear", res.Hazard)
	assert.Equal(t, AnswerSet{"injury": false}, res.Answers)
}

func TestRulePriority(t *testing.T) {
	rules := testTable().Rules
	tests := []struct {
		answers AnswerSet
		want    string
	}{
		{AnswerSet{"injury": true, "smoke": true}, "fire"},
		{AnswerSet{"injury": true, "power": false}, "power-outage"},
		{AnswerSet{"water": true, "smell": true}, "hazmat"},
		{AnswerSet{"psych": true, "injury": true}, "medical-emergency"},
		{AnswerSet{"power": true}, ""},
	}
	for _, tt := range tests {
		got, _ := Evaluate(rules, tt.answers)
		assert.Equal(t, tt.want, got, "%v", tt.answers)
	}
}

func TestSuggestion(t *testing.T) {
	t.Run("confirm", func(t *testing.T) {
		iv := New(testTable(), "accident")
		require.Equal(t, AwaitingConfirmation, iv.State())
		_, ok := iv.Question()
		assert.False(t, ok)

		_, err := iv.Answer(Yes)
		require.NoError(t, err)
		res, _ := iv.Result()
		assert.Equal(t, "accident", res.Hazard)
		assert.Empty(t, res.Answers)
	})

	for _, a := range []Answer{No, Skip} {
		t.Run("decline "+a.String(), func(t *testing.T) {
			iv := New(testTable(), "accident")
			state, err := iv.Answer(a)
			require.NoError(t, err)
			assert.Equal(t, Asking, state)
			assert.Equal(t, 0, iv.Index())
			assert.Empty(t, iv.Answers())
		})
	}

	t.Run("late suggestion ignored", func(t *testing.T) {
		iv := New(testTable(), "")
		_, _ = iv.Answer(No)
		assert.False(t, iv.Suggest("accident"))
		assert.Equal(t, Asking, iv.State())
	})

	t.Run("early suggestion accepted", func(t *testing.T) {
		iv := New(testTable(), "")
		assert.True(t, iv.Suggest("accident"))
		assert.Equal(t, AwaitingConfirmation, iv.State())
		assert.False(t, iv.Suggest("accident"), "already awaiting confirmation")
	})

	t.Run("declined suggestion stays declined", func(t *testing.T) {
		iv := New(testTable(), "")
		require.True(t, iv.Suggest("accident"))
		state, err := iv.Answer(No)
		require.NoError(t, err)
		require.Equal(t, Asking, state)

		assert.False(t, iv.Suggest("accident"))
		assert.False(t, iv.Suggest("fire"))
		assert.Equal(t, Asking, iv.State())
		assert.Equal(t, 0, iv.Index())

		iv.Restart()
		assert.Equal(t, AwaitingConfirmation, iv.State())
		assert.True(t, iv.Suggest("fire"))
		assert.Equal(t, "fire", iv.Suggestion())
	})
}

func TestRestart(t *testing.T) {
	iv := New(testTable(), "")
	_, _ = iv.Answer(No)
	_, _ = iv.Answer(No)
	_, _ = iv.Answer(Yes)
	require.Equal(t, 3, iv.Index())

	iv.Restart()
	assert.Equal(t, Asking, iv.State())
	assert.Equal(t, 0, iv.Index())
	assert.Empty(t, iv.Answers())

	iv = New(testTable(), "fire")
	_, _ = iv.Answer(Yes)
	iv.Restart()
	assert.Equal(t, AwaitingConfirmation, iv.State())
}

func TestEmptyTable(t *testing.T) {
	iv := New(Table{Unclear: "unclear"}, "")
	res, ok := iv.Result()
	require.True(t, ok)
	assert.Equal(t, "unclear", res.Hazard)
}

func TestDescribe(t *testing.T) {
	iv := New(testTable(), "")
	_, _ = iv.Answer(No)
	_, _ = iv.Answer(Skip)
	_, _ = iv.Answer(Yes)

	assert.Equal(t, "smoke (en)? no\ninside (en)? yes", iv.Describe("en"))
	assert.Equal(t, "smoke? no\ninside? yes", iv.Describe("fr"))
}

func TestParseAnswer(t *testing.T) {
	for in, want := range map[string]Answer{"yes": Yes, "NO": No, "skip": Skip, "": Skip, "true": Yes} {
		got, err := ParseAnswer(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseAnswer("maybe")
	assert.Error(t, err)
}
