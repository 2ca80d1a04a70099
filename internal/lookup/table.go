// Package lookup holds the data-driven selector and label tables used to
// find things on the watch page. Layout and locale variants are added by
// extending the tables, never by changing the code that walks them.
package lookup

import (
	"context"
	"strings"
)

// Label sources understood by Rule.LabelFrom.
const (
	SourceAriaLabel = "aria-label"
	SourceTitle     = "title"
	SourceText      = "text"
)

// Element is a snapshot of one DOM node as seen through a selector.
// Selector and Index identify the node again for a later click.
type Element struct {
	Selector  string  `json:"selector"`
	Index     int     `json:"index"`
	Tag       string  `json:"tag"`
	AriaLabel string  `json:"aria_label,omitempty"`
	Title     string  `json:"title,omitempty"`
	Text      string  `json:"text,omitempty"`
	Content   string  `json:"content,omitempty"`
	Disabled  bool    `json:"disabled,omitempty"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
}

// Visible reports whether the element occupies any layout area.
func (e Element) Visible() bool {
	return e.Width > 0 && e.Height > 0
}

func (e Element) source(name string) string {
	switch name {
	case SourceAriaLabel:
		return e.AriaLabel
	case SourceTitle:
		return e.Title
	case SourceText:
		return e.Text
	}
	return ""
}

// Querier enumerates elements matching a CSS selector in document order.
type Querier interface {
	Query(ctx context.Context, selector string) ([]Element, error)
}

// Rule describes one labelled-control lookup: which selectors to scan, how to
// derive a label, and which keywords make a match.
type Rule struct {
	Selectors []string `yaml:"selectors"`
	Keywords  []string `yaml:"keywords"`
	// LabelFrom lists label sources in priority order.
	LabelFrom []string `yaml:"label_from"`
	// FirstLabel uses the first non-empty source instead of joining all of them.
	FirstLabel bool `yaml:"first_label"`
	// FirstOnly inspects only the first element per selector.
	FirstOnly bool `yaml:"first_only"`
	// Interactable skips disabled and zero-area elements.
	Interactable bool `yaml:"interactable"`
}

// Label derives the match label for el according to the rule.
func (r Rule) Label(el Element) string {
	if r.FirstLabel {
		for _, src := range r.LabelFrom {
			if v := strings.TrimSpace(el.source(src)); v != "" {
				return v
			}
		}
		return ""
	}
	parts := make([]string, 0, len(r.LabelFrom))
	for _, src := range r.LabelFrom {
		if v := el.source(src); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " | ")
}

// Matches reports whether el passes the rule's gating and keyword checks.
func (r Rule) Matches(el Element) bool {
	if r.Interactable && (el.Disabled || !el.Visible()) {
		return false
	}
	return ContainsAny(r.Label(el), r.Keywords)
}

// Find walks the selectors in priority order and returns the first matching
// element. Query failures count as "nothing found" for that selector.
func (r Rule) Find(ctx context.Context, q Querier) (Element, bool) {
	for _, sel := range r.Selectors {
		els, err := q.Query(ctx, sel)
		if err != nil || len(els) == 0 {
			continue
		}
		if r.FirstOnly {
			els = els[:1]
		}
		for _, el := range els {
			if r.Matches(el) {
				return el, true
			}
		}
	}
	return Element{}, false
}

// ContainsAny reports whether the lowercased label contains any keyword.
// An empty keyword list matches everything.
func ContainsAny(label string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	l := strings.ToLower(label)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(l, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// MetaRule reads a single value from the first element matching Selector,
// either its text or, when Attr is "content", its content attribute.
type MetaRule struct {
	Selector string `yaml:"selector"`
	Attr     string `yaml:"attr,omitempty"`
}

// FirstValue evaluates rules in order and returns the first non-empty value.
func FirstValue(ctx context.Context, q Querier, rules []MetaRule) string {
	for _, r := range rules {
		els, err := q.Query(ctx, r.Selector)
		if err != nil || len(els) == 0 {
			continue
		}
		// A matched element with no value ends the search, as the page
		// layout has been identified.
		v := els[0].Text
		if r.Attr == "content" {
			v = els[0].Content
		}
		return strings.TrimSpace(v)
	}
	return ""
}

// Tables is the full set of page lookups.
type Tables struct {
	// Anchors are insertion points for the action control, first match wins.
	Anchors []string `yaml:"anchors"`
	// Segment detects that transcript segments are rendered.
	Segment string `yaml:"segment"`
	// SegmentText selects the text nodes inside rendered segments.
	SegmentText []string `yaml:"segment_text"`

	DirectClick Rule `yaml:"direct_click"`
	Expander    Rule `yaml:"expander"`
	MenuButton  Rule `yaml:"menu_button"`
	MenuItem    Rule `yaml:"menu_item"`

	Title   []MetaRule `yaml:"title"`
	Channel []MetaRule `yaml:"channel"`
}

// SegmentTextSelector joins the segment text selectors into one selector list
// so matches come back in document order.
func (t *Tables) SegmentTextSelector() string {
	return strings.Join(t.SegmentText, ", ")
}
