package subtitle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "[happy] Hello!", want: "Hello!"},
		{in: "Hi [wave] there [smile]", want: "Hi  there"},
		{in: "[neutral]", want: ""},
		{in: "plain", want: "plain"},
		{in: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Filter(tt.in))
		})
	}
}

func TestDisplay_AutoHide(t *testing.T) {
	d := New(30 * time.Millisecond)
	t.Cleanup(d.Stop)

	d.Set("[joy] hello")
	assert.Equal(t, "hello", d.Text())

	require.Eventually(t, func() bool { return d.Text() == "" }, time.Second, 5*time.Millisecond)
}

func TestNew_DefaultAutoHide(t *testing.T) {
	assert.Equal(t, 10*time.Second, DefaultAutoHide)
	assert.Equal(t, DefaultAutoHide, New(0).autoHide)
	assert.Equal(t, DefaultAutoHide, New(-time.Second).autoHide)
	assert.Equal(t, time.Second, New(time.Second).autoHide)
}

func TestDisplay_RearmKeepsNewestText(t *testing.T) {
	d := New(60 * time.Millisecond)
	t.Cleanup(d.Stop)

	d.Set("first")
	time.Sleep(40 * time.Millisecond)
	d.Set("second")
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, "second", d.Text(), "the earlier timer must not hide the newer line")
}

func TestDisplay_ClearIfThinking(t *testing.T) {
	d := New(time.Minute)
	t.Cleanup(d.Stop)

	d.Set("an answer")
	assert.False(t, d.ClearIfThinking())
	assert.Equal(t, "an answer", d.Text())

	d.Set(ThinkingPlaceholder)
	assert.True(t, d.ClearIfThinking())
	assert.Equal(t, "", d.Text())
}

func TestDisplay_OnChange(t *testing.T) {
	d := New(20 * time.Millisecond)
	t.Cleanup(d.Stop)

	changes := make(chan string, 4)
	d.OnChange(func(text string) { changes <- text })
	d.Set("hi")

	assert.Equal(t, "hi", <-changes)
	select {
	case text := <-changes:
		assert.Equal(t, "", text)
	case <-time.After(time.Second):
		t.Fatal("auto-hide did not notify")
	}
}
