package avatar

import (
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/companion/domain/repositories"
)

// Hit regions reported by HitTest.
const (
	RegionHead = "Head"
	RegionBody = "Body"
)

// headLine is the normalized height separating the head from the body.
const headLine = 0.35

// Motion is a motion the avatar was asked to play.
type Motion struct {
	Group    string
	Priority repositories.MotionPriority
}

// LogAvatar is a headless avatar. It keeps the last requested pose and logs
// every change.
type LogAvatar struct {
	logger *zap.Logger

	mu         sync.Mutex
	motions    []Motion
	expression string
	mouthOpen  float64
	dragX      float64
	dragY      float64
}

func NewLogAvatar(logger *zap.Logger) *LogAvatar {
	return &LogAvatar{logger: logger}
}

func (a *LogAvatar) StartMotion(group string, priority repositories.MotionPriority) {
	a.mu.Lock()
	a.motions = append(a.motions, Motion{Group: group, Priority: priority})
	a.mu.Unlock()
	a.logger.Debug("Avatar motion", zap.String("group", group), zap.Int("priority", int(priority)))
}

func (a *LogAvatar) SetExpression(id string) {
	a.mu.Lock()
	a.expression = id
	a.mu.Unlock()
	a.logger.Debug("Avatar expression", zap.String("expression", id))
}

// HitTest maps normalized coordinates to a region; the top of the frame is y=0.
func (a *LogAvatar) HitTest(x, y float64) string {
	if x < 0 || x > 1 || y < 0 || y > 1 {
		return ""
	}
	if y < headLine {
		return RegionHead
	}
	return RegionBody
}

func (a *LogAvatar) SetDragging(x, y float64) {
	a.mu.Lock()
	a.dragX, a.dragY = x, y
	a.mu.Unlock()
}

// SetMouthOpen is called at lip sync rate so it is not logged.
func (a *LogAvatar) SetMouthOpen(value float64) {
	a.mu.Lock()
	a.mouthOpen = value
	a.mu.Unlock()
}

func (a *LogAvatar) StopMotions() {
	a.mu.Lock()
	a.motions = nil
	a.mu.Unlock()
	a.logger.Debug("Avatar motions stopped")
}

// Motions returns the motions started since the last StopMotions.
func (a *LogAvatar) Motions() []Motion {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Motion(nil), a.motions...)
}

func (a *LogAvatar) Expression() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.expression
}

func (a *LogAvatar) MouthOpen() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mouthOpen
}
