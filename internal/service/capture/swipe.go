package capture

// SwipeDecision is the outcome of classifying a leftward swipe while recording.
type SwipeDecision int

const (
	SwipeContinue SwipeDecision = iota
	SwipeShowCancelHint
	SwipeCancel
)

const (
	// CancelHintThreshold shows the "release to cancel" affordance.
	CancelHintThreshold = 40.0
	// CancelThreshold cancels the recording immediately.
	CancelThreshold = 100.0
)

func (d SwipeDecision) String() string {
	switch d {
	case SwipeShowCancelHint:
		return "hint"
	case SwipeCancel:
		return "cancel"
	default:
		return "continue"
	}
}

// ClassifySwipe maps the cumulative leftward displacement since the gesture
// started to a decision. Rightward movement (negative delta) never cancels.
func ClassifySwipe(delta float64) SwipeDecision {
	switch {
	case delta >= CancelThreshold:
		return SwipeCancel
	case delta >= CancelHintThreshold:
		return SwipeShowCancelHint
	default:
		return SwipeContinue
	}
}
