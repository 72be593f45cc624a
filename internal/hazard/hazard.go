// Package hazard holds the static rule catalog and the decision tree model
// shared by every other engine package.
package hazard

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/lifeline-edge/triage/internal/risk"
)

// Text is a localized string keyed by locale code.
type Text map[string]string

// In returns the text for locale, then fallback, then "".
func (t Text) In(locale, fallback string) string {
	if s := t[locale]; s != "" {
		return s
	}
	return t[fallback]
}

// Category is one hazard of the catalog. Categories never change after load.
type Category struct {
	Slug        string              `yaml:"slug"`
	Baseline    risk.Level          `yaml:"baseline"`
	Name        Text                `yaml:"name"`
	Description Text                `yaml:"description"`
	Locations   []string            `yaml:"locations"`
	Synonyms    map[string][]string `yaml:"synonyms"`
	Steps       map[string][]string `yaml:"steps"`
	CTA         Text                `yaml:"cta"`
}

// Meta is the wire shape served by /hazards-meta.
type Meta struct {
	Name        Text                `json:"name"`
	Description Text                `json:"description"`
	Synonyms    map[string][]string `json:"synonyms"`
	Locations   []string            `json:"locations"`
}

func (c Category) Meta() Meta {
	return Meta{
		Name:        c.Name,
		Description: c.Description,
		Synonyms:    c.Synonyms,
		Locations:   c.Locations,
	}
}

// RootID is the well-known entry node of every decision tree.
const RootID = "root"

type Option struct {
	Label  string `json:"label"`
	NextID string `json:"nextId"`
}

type Node struct {
	Text           string   `json:"text"`
	TextSimplified string   `json:"text_simplified,omitempty"`
	Options        []Option `json:"options"`
}

// Tree is an arena of nodes keyed by id. Options refer to nodes by id, so
// cycles need no special handling.
type Tree map[string]Node

// ParseTree decodes a decision tree document.
func ParseTree(data []byte) (Tree, error) {
	var t Tree
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decoding decision tree: %w", err)
	}
	return t, nil
}

// Dangling returns the sorted option targets that do not exist in t.
func (t Tree) Dangling() []string {
	var out []string
	seen := map[string]bool{}
	for _, n := range t {
		for _, o := range n.Options {
			if _, ok := t[o.NextID]; !ok && !seen[o.NextID] {
				seen[o.NextID] = true
				out = append(out, o.NextID)
			}
		}
	}
	slices.Sort(out)
	return out
}
