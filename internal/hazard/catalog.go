package hazard

import (
	_ "embed"
	"errors"
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/lifeline-edge/triage/internal/interview"
	"github.com/lifeline-edge/triage/internal/risk"
	"github.com/lifeline-edge/triage/internal/synonym"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type Question struct {
	Key  string `yaml:"key"`
	Text Text   `yaml:"text"`
}

type Rule struct {
	Key    string `yaml:"key"`
	Value  bool   `yaml:"value"`
	Hazard string `yaml:"hazard"`
}

// Hint maps a vision hint to an optional hazard, a step to prepend and a
// CTA override. Concepts are the phrases that count as the step already
// being present.
type Hint struct {
	Hint     string              `yaml:"hint"`
	Hazard   string              `yaml:"hazard"`
	Concepts map[string][]string `yaml:"concepts"`
	Step     Text                `yaml:"step"`
	CTA      Text                `yaml:"cta"`
}

// Catalog is the read-only rule table. Construct it once at startup and
// pass it to the components that need it.
type Catalog struct {
	DefaultLocale    string              `yaml:"default_locale"`
	Locales          []string            `yaml:"locales"`
	Unclear          string              `yaml:"unclear"`
	EscalationNodes  []string            `yaml:"escalation_nodes"`
	CriticalKeywords map[string][]string `yaml:"critical_keywords"`
	RiskCTA          map[risk.Level]Text `yaml:"risk_cta"`
	Categories       []Category          `yaml:"hazards"`
	Questions        []Question          `yaml:"questions"`
	Rules            []Rule              `yaml:"rules"`
	Hints            []Hint              `yaml:"hints"`

	index map[string]int
}

// Default returns the catalog embedded in the binary.
func Default() (*Catalog, error) {
	return Load(defaultCatalog)
}

// Load parses and validates a YAML catalog.
func Load(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	if err := c.init(); err != nil {
		return nil, fmt.Errorf("validating catalog: %w", err)
	}
	return &c, nil
}

func (c *Catalog) init() error {
	if c.DefaultLocale == "" {
		return errors.New("default_locale is required")
	}
	if !slices.Contains(c.Locales, c.DefaultLocale) {
		c.Locales = append(c.Locales, c.DefaultLocale)
	}

	c.index = make(map[string]int, len(c.Categories))
	for i, cat := range c.Categories {
		if cat.Slug == "" {
			return fmt.Errorf("hazard %d has no slug", i)
		}
		if _, dup := c.index[cat.Slug]; dup {
			return fmt.Errorf("duplicate hazard %q", cat.Slug)
		}
		if _, err := risk.ParseLevel(string(cat.Baseline)); err != nil {
			return fmt.Errorf("hazard %q: %w", cat.Slug, err)
		}
		c.index[cat.Slug] = i
	}

	unclear, ok := c.Category(c.Unclear)
	if !ok {
		return fmt.Errorf("unclear hazard %q not in catalog", c.Unclear)
	}
	if len(unclear.Steps[c.DefaultLocale]) == 0 {
		return fmt.Errorf("unclear hazard has no %s steps", c.DefaultLocale)
	}

	keys := make(map[string]bool, len(c.Questions))
	for _, q := range c.Questions {
		keys[q.Key] = true
	}
	for _, r := range c.Rules {
		if !keys[r.Key] {
			return fmt.Errorf("rule references unknown question %q", r.Key)
		}
		if _, ok := c.index[r.Hazard]; !ok {
			return fmt.Errorf("rule references unknown hazard %q", r.Hazard)
		}
	}
	for _, h := range c.Hints {
		if h.Hazard == "" {
			continue
		}
		if _, ok := c.index[h.Hazard]; !ok {
			return fmt.Errorf("hint %q references unknown hazard %q", h.Hint, h.Hazard)
		}
	}
	return nil
}

// Slugs returns all hazard slugs in catalog order.
func (c *Catalog) Slugs() []string {
	out := make([]string, len(c.Categories))
	for i, cat := range c.Categories {
		out[i] = cat.Slug
	}
	return out
}

func (c *Catalog) Category(slug string) (Category, bool) {
	i, ok := c.index[slug]
	if !ok {
		return Category{}, false
	}
	return c.Categories[i], true
}

func (c *Catalog) Meta() map[string]Meta {
	out := make(map[string]Meta, len(c.Categories))
	for _, cat := range c.Categories {
		out[cat.Slug] = cat.Meta()
	}
	return out
}

// HasLocale reports whether the catalog carries content for locale.
func (c *Catalog) HasLocale(locale string) bool {
	return slices.Contains(c.Locales, locale)
}

// Locale maps an unsupported locale to the default one.
func (c *Catalog) Locale(locale string) string {
	if c.HasLocale(locale) {
		return locale
	}
	return c.DefaultLocale
}

// Steps returns the baseline steps for slug. Unknown hazards use the unclear
// hazard's steps; missing locales use the default locale.
func (c *Catalog) Steps(slug, locale string) []string {
	cat, ok := c.Category(slug)
	if !ok || len(cat.Steps[locale])+len(cat.Steps[c.DefaultLocale]) == 0 {
		cat, _ = c.Category(c.Unclear)
	}
	steps := cat.Steps[locale]
	if len(steps) == 0 {
		steps = cat.Steps[c.DefaultLocale]
	}
	return slices.Clone(steps)
}

// CTA returns the hazard-specific call to action, "" when none is defined.
func (c *Catalog) CTA(slug, locale string) string {
	cat, ok := c.Category(slug)
	if !ok {
		return ""
	}
	return cat.CTA.In(locale, c.DefaultLocale)
}

// RiskCTAFor returns the default call to action for a risk level.
func (c *Catalog) RiskCTAFor(level risk.Level, locale string) string {
	return c.RiskCTA[level].In(locale, c.DefaultLocale)
}

func (c *Catalog) Critical(locale string) []string {
	if kw, ok := c.CriticalKeywords[locale]; ok {
		return kw
	}
	return c.CriticalKeywords[c.DefaultLocale]
}

func (c *Catalog) Hint(name string) (Hint, bool) {
	for _, h := range c.Hints {
		if h.Hint == name {
			return h, true
		}
	}
	return Hint{}, false
}

// Matcher builds the synonym matcher in catalog order.
func (c *Catalog) Matcher() *synonym.Matcher {
	entries := make([]synonym.Entry, len(c.Categories))
	for i, cat := range c.Categories {
		entries[i] = synonym.Entry{Hazard: cat.Slug, Phrases: cat.Synonyms}
	}
	return synonym.New(entries, c.Unclear)
}

func (c *Catalog) Scorer() *risk.Scorer {
	baseline := make(map[string]risk.Level, len(c.Categories))
	for _, cat := range c.Categories {
		if cat.Baseline != "" {
			baseline[cat.Slug] = cat.Baseline
		}
	}
	return risk.NewScorer(baseline, c.EscalationNodes)
}

func (c *Catalog) InterviewTable() interview.Table {
	t := interview.Table{
		Questions:     make([]interview.Question, len(c.Questions)),
		Rules:         make([]interview.Rule, len(c.Rules)),
		Unclear:       c.Unclear,
		DefaultLocale: c.DefaultLocale,
	}
	for i, q := range c.Questions {
		t.Questions[i] = interview.Question{Key: q.Key, Text: q.Text}
	}
	for i, r := range c.Rules {
		t.Rules[i] = interview.Rule{Key: r.Key, Value: r.Value, Hazard: r.Hazard}
	}
	return t
}
