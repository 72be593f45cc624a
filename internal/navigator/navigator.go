// Package navigator walks a hazard decision tree by node id, keeping a
// history stack for backward navigation.
package navigator

import (
	"errors"
	"fmt"

	"github.com/lifeline-edge/triage/internal/hazard"
)

var (
	ErrUnknownNode = errors.New("unknown node")
	ErrNoContent   = errors.New("no content")
)

// breadcrumbRunes is the label length shown per breadcrumb entry.
const breadcrumbRunes = 30

type Crumb struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type View struct {
	NodeID     string          `json:"nodeId"`
	Text       string          `json:"text"`
	Options    []hazard.Option `json:"options"`
	Breadcrumb []Crumb         `json:"breadcrumb"`
	Depth      int             `json:"depth"`
	Error      string          `json:"error,omitempty"`
}

// Navigator is owned by a single session and is not safe for concurrent use.
type Navigator struct {
	tree    hazard.Tree
	current string
	history []string
	lastErr error
}

func New(tree hazard.Tree) *Navigator {
	return &Navigator{tree: tree, current: hazard.RootID}
}

func (n *Navigator) Current() string   { return n.current }
func (n *Navigator) History() []string { return append([]string(nil), n.history...) }

func (n *Navigator) empty() bool {
	if len(n.tree) == 0 {
		return true
	}
	_, ok := n.tree[hazard.RootID]
	return !ok
}

// Select moves to target, pushing the current node onto the history. An
// unknown target leaves the position and history untouched.
func (n *Navigator) Select(target string) error {
	if n.empty() {
		n.lastErr = ErrNoContent
		return ErrNoContent
	}
	if _, ok := n.tree[target]; !ok {
		n.lastErr = fmt.Errorf("%w: %q", ErrUnknownNode, target)
		return n.lastErr
	}
	n.history = append(n.history, n.current)
	n.current = target
	n.lastErr = nil
	return nil
}

// Back pops the history. It reports exited when the history was already
// empty; the caller should then leave the tree.
func (n *Navigator) Back() (exited bool) {
	n.lastErr = nil
	if len(n.history) == 0 {
		return true
	}
	last := len(n.history) - 1
	n.current = n.history[last]
	n.history = n.history[:last]
	return false
}

// View renders the current node. simplified selects the simplified text
// when the node carries one.
func (n *Navigator) View(simplified bool) (View, error) {
	if n.empty() {
		return View{Options: []hazard.Option{}, Breadcrumb: []Crumb{}, Error: ErrNoContent.Error()}, ErrNoContent
	}
	node := n.tree[n.current]
	v := View{
		NodeID:     n.current,
		Text:       node.Text,
		Options:    node.Options,
		Breadcrumb: n.Breadcrumb(),
		Depth:      len(n.history),
	}
	if simplified && node.TextSimplified != "" {
		v.Text = node.TextSimplified
	}
	if v.Options == nil {
		v.Options = []hazard.Option{}
	}
	if n.lastErr != nil {
		v.Error = n.lastErr.Error()
	}
	return v, nil
}

// Breadcrumb labels every history entry except the root.
func (n *Navigator) Breadcrumb() []Crumb {
	out := []Crumb{}
	for _, id := range n.history {
		if id == hazard.RootID {
			continue
		}
		label := id
		if node, ok := n.tree[id]; ok && node.Text != "" {
			label = truncate(node.Text, breadcrumbRunes)
		}
		out = append(out, Crumb{ID: id, Label: label})
	}
	return out
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
