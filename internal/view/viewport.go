package view

// Viewport tracks a scroll position over a growing list and applies the
// follow-append rule: after an append the view advances to the new bottom
// only if the reader was already near the bottom beforehand.
//
// Viewport is owned by a single rendering consumer and is not safe for
// concurrent use.
type Viewport struct {
	params Params
}

// NewViewport creates a viewport with the given geometry. Zero values fall
// back to the package defaults.
func NewViewport(viewportHeight, itemHeight, buffer int) *Viewport {
	return &Viewport{params: Params{
		ViewportHeight: viewportHeight,
		ItemHeight:     itemHeight,
		Buffer:         buffer,
	}.withDefaults()}
}

// ScrollTo records an absolute scroll offset, clamped at zero.
func (v *Viewport) ScrollTo(offset int) {
	if offset < 0 {
		offset = 0
	}
	v.params.ScrollOffset = offset
}

// ScrollOffset returns the current offset in pixels.
func (v *Viewport) ScrollOffset() int { return v.params.ScrollOffset }

// Window computes the visible range for a list of total items at the
// current scroll position.
func (v *Viewport) Window(total int) Range {
	return Window(total, v.params)
}

// ObserveAppend must be called with the list length before and after an
// append batch. It auto-scrolls to the new bottom only when the pre-append
// position was near the bottom, and reports whether it scrolled.
func (v *Viewport) ObserveAppend(prevTotal, newTotal int) bool {
	if newTotal <= prevTotal {
		return false
	}
	if !NearBottom(prevTotal, v.params) {
		return false
	}
	v.scrollToBottom(newTotal)
	return true
}

func (v *Viewport) scrollToBottom(total int) {
	bottom := total*v.params.ItemHeight - v.params.ViewportHeight
	if bottom < 0 {
		bottom = 0
	}
	v.params.ScrollOffset = bottom
}
