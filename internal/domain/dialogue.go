package domain

import "sync"

// DialogueState holds the per-session flags shared between the command path,
// the review workflow and the idle watchdog.
type DialogueState struct {
	mu             sync.Mutex
	reviewDecision *bool
	recentActivity bool
}

// SetReviewDecision records whether the user opted into a review ticket.
func (d *DialogueState) SetReviewDecision(activate bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reviewDecision = &activate
}

// ReviewDecision returns the decision and whether one was made.
func (d *DialogueState) ReviewDecision() (activate, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.reviewDecision == nil {
		return false, false
	}
	return *d.reviewDecision, true
}

// ClearReviewDecision unsets the decision before a new review prompt.
func (d *DialogueState) ClearReviewDecision() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reviewDecision = nil
}

// MarkActive flags that the user did something since the last watchdog tick.
func (d *DialogueState) MarkActive() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recentActivity = true
}

// ConsumeActivity reports and clears the activity flag.
func (d *DialogueState) ConsumeActivity() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	active := d.recentActivity
	d.recentActivity = false
	return active
}
