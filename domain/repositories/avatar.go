package repositories

// MotionPriority orders competing avatar motions.
type MotionPriority int

const (
	PriorityNone MotionPriority = iota
	PriorityIdle
	PriorityNormal
	PriorityForce
)

const MotionTalk = "Talk"

// Avatar is the animated figure. Rendering lives behind this interface.
type Avatar interface {
	StartMotion(group string, priority MotionPriority)
	SetExpression(id string)
	// HitTest returns the hit region at normalized coordinates, or "".
	HitTest(x, y float64) string
	SetDragging(x, y float64)
	// SetMouthOpen drives lip sync, value in [0,1].
	SetMouthOpen(value float64)
	StopMotions()
}
