package avatar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/companion/domain/repositories"
)

func TestLogAvatar_HitTest(t *testing.T) {
	a := NewLogAvatar(zap.NewNop())
	tests := []struct {
		name string
		x, y float64
		want string
	}{
		{"head", 0.5, 0.1, RegionHead},
		{"body", 0.5, 0.6, RegionBody},
		{"edge of head", 0.5, headLine, RegionBody},
		{"outside", 1.2, 0.5, ""},
		{"above", 0.5, -0.1, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, a.HitTest(tt.x, tt.y))
		})
	}
}

func TestLogAvatar_RecordsPose(t *testing.T) {
	a := NewLogAvatar(zap.NewNop())

	a.StartMotion(repositories.MotionTalk, repositories.PriorityNormal)
	a.SetExpression("smile")
	a.SetMouthOpen(0.4)
	assert.Equal(t, []Motion{{Group: repositories.MotionTalk, Priority: repositories.PriorityNormal}}, a.Motions())
	assert.Equal(t, "smile", a.Expression())
	assert.Equal(t, 0.4, a.MouthOpen())

	a.StopMotions()
	assert.Empty(t, a.Motions())
}
