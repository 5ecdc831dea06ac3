package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"github.com/satriahrh/arunika/companion/domain/entities"
	"github.com/satriahrh/arunika/companion/internal/affinity"
	"github.com/satriahrh/arunika/companion/internal/billing"
	"github.com/satriahrh/arunika/companion/internal/eventbus"
	"github.com/satriahrh/arunika/companion/usecase"
)

// printer renders bus events as a colored terminal transcript.
type printer struct {
	out io.Writer
	mu  sync.Mutex

	human   *color.Color
	ai      *color.Color
	tool    *color.Color
	info    *color.Color
	success *color.Color
	failure *color.Color
	dim     *color.Color
}

func newPrinter(out io.Writer) *printer {
	return &printer{
		out:     out,
		human:   color.New(color.FgGreen, color.Bold),
		ai:      color.New(color.FgMagenta, color.Bold),
		tool:    color.New(color.FgBlue),
		info:    color.New(color.FgCyan),
		success: color.New(color.FgGreen),
		failure: color.New(color.FgRed, color.Bold),
		dim:     color.New(color.Faint),
	}
}

func (p *printer) Subscribe(ctx context.Context, bus *eventbus.Bus) error {
	subs := []struct {
		topic   string
		handler func([]byte) error
	}{
		{eventbus.TopicTranscript, p.onTranscript},
		{eventbus.TopicToast, p.onToast},
		{eventbus.TopicBillingDenied, p.onDenied},
		{eventbus.TopicAffinityCue, p.onCue},
		{eventbus.TopicWSState, p.onConnection},
	}
	for _, s := range subs {
		if err := bus.Consume(ctx, s.topic, s.handler); err != nil {
			return err
		}
	}
	return nil
}

func (p *printer) onTranscript(payload []byte) error {
	var msg entities.ChatMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decode transcript message: %w", err)
	}

	switch msg.Role {
	case entities.MessageRoleHuman:
		p.line(p.human, "you", msg.Content)
	case entities.MessageRoleAI:
		name := msg.Name
		if name == "" {
			name = "ai"
		}
		p.line(p.ai, name, msg.Content)
	case entities.MessageRoleTool:
		p.line(p.tool, "tool", fmt.Sprintf("%s [%s]", msg.ToolName, msg.Status))
	}
	return nil
}

func (p *printer) onToast(payload []byte) error {
	var t usecase.Toast
	if err := json.Unmarshal(payload, &t); err != nil {
		return fmt.Errorf("decode toast: %w", err)
	}
	c := p.info
	switch t.Level {
	case usecase.ToastSuccess:
		c = p.success
	case usecase.ToastError:
		c = p.failure
	}
	p.line(c, "*", t.Message)
	return nil
}

func (p *printer) onDenied(payload []byte) error {
	var d billing.Denial
	if err := json.Unmarshal(payload, &d); err != nil {
		return fmt.Errorf("decode denial: %w", err)
	}
	msg := d.Message
	if msg == "" {
		msg = d.Reason
	}
	p.line(p.failure, "billing", msg)
	return nil
}

func (p *printer) onCue(payload []byte) error {
	var cue affinity.CueEvent
	if err := json.Unmarshal(payload, &cue); err != nil {
		return fmt.Errorf("decode affinity cue: %w", err)
	}
	p.line(p.dim, "heart", fmt.Sprintf("%s %.0f (%s, %.0f bpm)",
		cue.Cue, cue.Value, entities.AffinityLevelName(cue.Level), cue.HeartRate))
	return nil
}

func (p *printer) onConnection(payload []byte) error {
	var st map[string]string
	if err := json.Unmarshal(payload, &st); err != nil {
		return fmt.Errorf("decode connection state: %w", err)
	}
	p.line(p.dim, "ws", st["state"])
	return nil
}

func (p *printer) line(c *color.Color, who, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "%s %s\n", c.Sprintf("%s>", who), text)
}
