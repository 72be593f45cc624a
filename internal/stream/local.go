package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lifeline-edge/triage/internal/hazard"
	"github.com/lifeline-edge/triage/internal/offline"
	"github.com/lifeline-edge/triage/internal/synonym"
)

// groundingNodes is how many tree nodes ground an answer.
const groundingNodes = 5

var notInScheme = hazard.Text{
	"de": "Nicht im Schema – 112 rufen.",
	"en": "Not in the scheme – call 112.",
}

var schemeIntro = hazard.Text{
	"de": "Laut Schema:",
	"en": "According to the scheme:",
}

// Grounding returns the first nodes of tree in breadth-first order from the
// root, following options in their listed order.
func Grounding(tree hazard.Tree, limit int) []string {
	if _, ok := tree[hazard.RootID]; !ok {
		return nil
	}
	seen := map[string]bool{hazard.RootID: true}
	queue := []string{hazard.RootID}
	var out []string
	for len(queue) > 0 && len(out) < limit {
		id := queue[0]
		queue = queue[1:]
		out = append(out, id)
		for _, o := range tree[id].Options {
			if _, ok := tree[o.NextID]; ok && !seen[o.NextID] {
				seen[o.NextID] = true
				queue = append(queue, o.NextID)
			}
		}
	}
	return out
}

// Local answers question from tree alone. When the question shares no
// meaningful word with the grounding nodes, the answer is the fixed
// instruction to call 112.
func Local(tree hazard.Tree, question, locale, fallbackLocale string) ([]Chunk, Meta) {
	used := Grounding(tree, groundingNodes)
	meta := Meta{UsedNodes: used, Source: SourceLocal}
	if meta.UsedNodes == nil {
		meta.UsedNodes = []string{}
	}

	var texts []string
	for _, id := range used {
		texts = append(texts, tree[id].Text)
	}
	if !overlaps(question, texts) {
		return []Chunk{{Text: notInScheme.In(locale, fallbackLocale)}}, meta
	}

	chunks := []Chunk{{Text: schemeIntro.In(locale, fallbackLocale) + "\n"}}
	for _, t := range texts {
		chunks = append(chunks, Chunk{Text: "- " + t + "\n"})
	}
	chunks = append(chunks, Chunk{Text: notInScheme.In(locale, fallbackLocale)})
	return chunks, meta
}

// minWordRunes skips short function words when matching questions.
const minWordRunes = 4

func overlaps(question string, texts []string) bool {
	corpus := " " + synonym.Normalize(strings.Join(texts, " ")) + " "
	for _, w := range strings.Fields(synonym.Normalize(question)) {
		if len([]rune(w)) < minWordRunes {
			continue
		}
		if strings.Contains(corpus, w) {
			return true
		}
	}
	return false
}

// TreeSource is satisfied by *remote.Content.
type TreeSource interface {
	Tree(ctx context.Context, slug, locale string) (hazard.Tree, offline.Origin, error)
}

// Answerer prefers the upstream client and falls back to a local answer
// grounded in the hazard's decision tree.
type Answerer struct {
	client        *Client
	trees         TreeSource
	defaultLocale string
	logger        *slog.Logger
}

// NewAnswerer builds an Answerer. client may be nil to answer locally only.
func NewAnswerer(client *Client, trees TreeSource, defaultLocale string, logger *slog.Logger) *Answerer {
	return &Answerer{client: client, trees: trees, defaultLocale: defaultLocale, logger: logger}
}

func (a *Answerer) Answer(ctx context.Context, q Question, emit Emit) (Meta, error) {
	if q.Locale == "" {
		q.Locale = a.defaultLocale
	}

	emitted := false
	tracked := func(ch Chunk) error {
		emitted = true
		return emit(ch)
	}

	if a.client != nil {
		var emitErr error
		meta, err := a.client.Answer(ctx, q, func(ch Chunk) error {
			if err := tracked(ch); err != nil {
				emitErr = err
				return err
			}
			return nil
		})
		if err == nil {
			return meta, nil
		}
		if emitErr != nil || ctx.Err() != nil {
			return Meta{}, err
		}
		a.logger.Info("answering locally", "hazard", q.Hazard, "error", err)
	}

	tree, _, err := a.trees.Tree(ctx, q.Hazard, q.Locale)
	if err != nil {
		return Meta{}, fmt.Errorf("loading tree for %s: %w", q.Hazard, err)
	}
	chunks, meta := Local(tree, q.Question, q.Locale, a.defaultLocale)
	for i, ch := range chunks {
		if i == 0 && emitted {
			ch.Replace = true
		}
		if err := emit(ch); err != nil {
			return Meta{}, err
		}
	}
	return meta, nil
}
