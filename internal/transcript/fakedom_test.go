package transcript

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dgnsrekt/tubeprompt/internal/lookup"
	"github.com/dgnsrekt/tubeprompt/internal/poll"
)

// fakeDOM is an in-memory page. Elements are keyed by the exact selector
// string the lookup tables use.
type fakeDOM struct {
	elements   map[string][]lookup.Element
	counts     map[string]int
	texts      map[string][]string
	onClick    map[string]func(*fakeDOM)
	clicks     []string
	bodyClicks int
	queries    int
}

func newFakeDOM() *fakeDOM {
	return &fakeDOM{
		elements: make(map[string][]lookup.Element),
		counts:   make(map[string]int),
		texts:    make(map[string][]string),
		onClick:  make(map[string]func(*fakeDOM)),
	}
}

func clickKey(selector string, index int) string {
	return fmt.Sprintf("%s#%d", selector, index)
}

func (d *fakeDOM) add(selector string, el lookup.Element, onClick func(*fakeDOM)) {
	el.Selector = selector
	el.Index = len(d.elements[selector])
	d.elements[selector] = append(d.elements[selector], el)
	if onClick != nil {
		d.onClick[clickKey(selector, el.Index)] = onClick
	}
}

func (d *fakeDOM) renderSegments(texts ...string) {
	tables := lookup.Default()
	d.counts[tables.Segment] = len(texts)
	d.texts[tables.SegmentTextSelector()] = texts
}

func (d *fakeDOM) Query(_ context.Context, selector string) ([]lookup.Element, error) {
	d.queries++
	return append([]lookup.Element(nil), d.elements[selector]...), nil
}

func (d *fakeDOM) Count(_ context.Context, selector string) (int, error) {
	return d.counts[selector], nil
}

func (d *fakeDOM) Texts(_ context.Context, selector string) ([]string, error) {
	return d.texts[selector], nil
}

func (d *fakeDOM) Click(_ context.Context, el lookup.Element) error {
	key := clickKey(el.Selector, el.Index)
	d.clicks = append(d.clicks, key)
	if fn := d.onClick[key]; fn != nil {
		fn(d)
	}
	return nil
}

func (d *fakeDOM) ClickBody(context.Context) error {
	d.bodyClicks++
	return nil
}

func noSleep(t *testing.T) {
	t.Helper()
	orig := poll.Sleep
	t.Cleanup(func() { poll.Sleep = orig })
	poll.Sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
}

var visible = lookup.Element{Width: 100, Height: 30}

func withLabel(aria, text string) lookup.Element {
	el := visible
	el.AriaLabel = aria
	el.Text = text
	return el
}
