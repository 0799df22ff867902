// Package view computes the visible slice of a bounded log for rendering,
// so the presentation layer never materializes the full history.
package view

// Defaults taken from the chat rendering layer: message rows are ~80px and
// five extra rows are kept warm on each side of the viewport.
const (
	DefaultItemHeight     = 80
	DefaultBuffer         = 5
	DefaultViewportHeight = 400

	// A reader within three rows of the bottom is considered "following"
	// the conversation for auto-scroll purposes.
	nearBottomRows = 3
)

// Params describes a viewport over a list of uniformly sized items.
type Params struct {
	ViewportHeight int
	ItemHeight     int
	Buffer         int
	ScrollOffset   int
}

// Range is the render-ready answer: indices [Start, End] inclusive, the
// pixel offset of Start and the full scrollable height.
type Range struct {
	Start       int
	End         int
	OffsetY     int
	TotalHeight int
}

// Window computes the visible index range over total items. The range is
// widened by Buffer rows on each side and clamped to [0, total-1]; an empty
// list yields an empty range.
func Window(total int, p Params) Range {
	p = p.withDefaults()

	totalHeight := total * p.ItemHeight
	if total == 0 {
		return Range{Start: 0, End: -1, OffsetY: 0, TotalHeight: 0}
	}

	start := p.ScrollOffset/p.ItemHeight - p.Buffer
	end := ceilDiv(p.ScrollOffset+p.ViewportHeight, p.ItemHeight) + p.Buffer

	start = clamp(start, 0, total-1)
	end = clamp(end, 0, total-1)

	return Range{
		Start:       start,
		End:         end,
		OffsetY:     start * p.ItemHeight,
		TotalHeight: totalHeight,
	}
}

// NearBottom reports whether the viewport bottom is within three rows of the
// end of the list. Callers evaluate this BEFORE appending so a reader
// scrolled up into history is never yanked to the bottom.
func NearBottom(total int, p Params) bool {
	p = p.withDefaults()
	totalHeight := total * p.ItemHeight
	return p.ScrollOffset+p.ViewportHeight >= totalHeight-nearBottomRows*p.ItemHeight
}

func (p Params) withDefaults() Params {
	if p.ViewportHeight <= 0 {
		p.ViewportHeight = DefaultViewportHeight
	}
	if p.ItemHeight <= 0 {
		p.ItemHeight = DefaultItemHeight
	}
	if p.Buffer < 0 {
		p.Buffer = DefaultBuffer
	}
	return p
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
