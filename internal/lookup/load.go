package lookup

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load returns the default tables with any non-empty section from the YAML
// file at path replacing its default. An empty path returns the defaults.
func Load(path string) (*Tables, error) {
	t := Default()
	if path == "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("lookup tables: %w", err)
	}
	var override Tables
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("lookup tables: %w", err)
	}
	t.merge(&override)
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tables) merge(o *Tables) {
	if len(o.Anchors) > 0 {
		t.Anchors = o.Anchors
	}
	if o.Segment != "" {
		t.Segment = o.Segment
	}
	if len(o.SegmentText) > 0 {
		t.SegmentText = o.SegmentText
	}
	mergeRule(&t.DirectClick, o.DirectClick)
	mergeRule(&t.Expander, o.Expander)
	mergeRule(&t.MenuButton, o.MenuButton)
	mergeRule(&t.MenuItem, o.MenuItem)
	if len(o.Title) > 0 {
		t.Title = o.Title
	}
	if len(o.Channel) > 0 {
		t.Channel = o.Channel
	}
}

// mergeRule replaces dst with src only when src names selectors; a rule
// without selectors in the file is treated as absent.
func mergeRule(dst *Rule, src Rule) {
	if len(src.Selectors) == 0 {
		return
	}
	if len(src.LabelFrom) == 0 {
		src.LabelFrom = dst.LabelFrom
	}
	*dst = src
}

// Validate checks that every lookup the pipeline depends on is populated.
func (t *Tables) Validate() error {
	if len(t.Anchors) == 0 {
		return fmt.Errorf("lookup tables: anchors missing")
	}
	if t.Segment == "" {
		return fmt.Errorf("lookup tables: segment missing")
	}
	if len(t.SegmentText) == 0 {
		return fmt.Errorf("lookup tables: segment_text missing")
	}
	rules := []struct {
		name string
		rule Rule
	}{
		{"direct_click", t.DirectClick},
		{"expander", t.Expander},
		{"menu_button", t.MenuButton},
		{"menu_item", t.MenuItem},
	}
	for _, r := range rules {
		if len(r.rule.Selectors) == 0 {
			return fmt.Errorf("lookup tables: %s has no selectors", r.name)
		}
		if len(r.rule.LabelFrom) == 0 {
			return fmt.Errorf("lookup tables: %s has no label_from", r.name)
		}
		for _, src := range r.rule.LabelFrom {
			switch src {
			case SourceAriaLabel, SourceTitle, SourceText:
			default:
				return fmt.Errorf("lookup tables: %s has unknown label source %q", r.name, src)
			}
		}
	}
	for i, m := range append(append([]MetaRule{}, t.Title...), t.Channel...) {
		if m.Selector == "" {
			return fmt.Errorf("lookup tables: meta rule[%d] missing selector", i)
		}
	}
	return nil
}
