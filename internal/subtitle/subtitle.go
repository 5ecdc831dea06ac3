package subtitle

import (
	"regexp"
	"strings"
	"sync"
	"time"
)

const (
	DefaultAutoHide = 10 * time.Second

	// ThinkingPlaceholder is shown while a reply is being prepared.
	ThinkingPlaceholder = "Thinking..."
)

var stageDirection = regexp.MustCompile(`\[[^\]]*\]`)

// Filter drops bracketed stage directions such as [happy].
func Filter(text string) string {
	return strings.TrimSpace(stageDirection.ReplaceAllString(text, ""))
}

// Display holds the current subtitle line and hides it after a quiet period.
type Display struct {
	autoHide time.Duration

	mu         sync.Mutex
	text       string
	visible    bool
	timer      *time.Timer
	generation uint64
	onChange   func(text string)
}

func New(autoHide time.Duration) *Display {
	if autoHide <= 0 {
		autoHide = DefaultAutoHide
	}
	return &Display{autoHide: autoHide, visible: true}
}

// OnChange registers a callback for every text change, including auto-hide.
func (d *Display) OnChange(fn func(text string)) {
	d.mu.Lock()
	d.onChange = fn
	d.mu.Unlock()
}

// Set filters text, shows it, and re-arms the auto-hide timer.
func (d *Display) Set(text string) {
	filtered := Filter(text)

	d.mu.Lock()
	d.text = filtered
	d.generation++
	gen := d.generation
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if filtered != "" {
		d.timer = time.AfterFunc(d.autoHide, func() { d.hide(gen) })
	}
	fn := d.onChange
	d.mu.Unlock()

	if fn != nil {
		fn(filtered)
	}
}

// Clear empties the line without waiting for the timer.
func (d *Display) Clear() {
	d.Set("")
}

// ClearIfThinking clears the placeholder and reports whether it was shown.
func (d *Display) ClearIfThinking() bool {
	if d.Text() != ThinkingPlaceholder {
		return false
	}
	d.Clear()
	return true
}

func (d *Display) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text
}

func (d *Display) SetVisible(v bool) {
	d.mu.Lock()
	d.visible = v
	d.mu.Unlock()
}

func (d *Display) Visible() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.visible
}

// Stop cancels a pending auto-hide.
func (d *Display) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.generation++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Display) hide(gen uint64) {
	d.mu.Lock()
	if gen != d.generation {
		d.mu.Unlock()
		return
	}
	d.text = ""
	d.timer = nil
	fn := d.onChange
	d.mu.Unlock()

	if fn != nil {
		fn("")
	}
}
