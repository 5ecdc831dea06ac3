package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/companion/domain/entities"
)

const (
	DefaultHistoryCap = 50

	// resultHookDelay keeps result handling off the update path.
	resultHookDelay = 100 * time.Millisecond
)

// TopicInbound carries raw inbound objects.
const TopicInbound = "ws.inbound"

// ResultHook receives completed tool results, e.g. the music manager.
type ResultHook func(toolName string, result any)

// Source delivers raw payloads published on a topic until ctx is done.
type Source interface {
	Consume(ctx context.Context, topic string, handler func(payload []byte) error) error
}

// Aggregator folds streamed MCP updates into one open session plus a
// bounded history of archived sessions.
type Aggregator struct {
	logger     *zap.Logger
	historyCap int

	mu       sync.Mutex
	current  *entities.McpSessionRecord
	history  []entities.McpSessionRecord
	autoOpen func()
	hooks    []ResultHook
}

type AggregatorOption func(*Aggregator)

func WithHistoryCap(n int) AggregatorOption {
	return func(a *Aggregator) {
		if n > 0 {
			a.historyCap = n
		}
	}
}

func WithResultHook(h ResultHook) AggregatorOption {
	return func(a *Aggregator) { a.hooks = append(a.hooks, h) }
}

func NewAggregator(logger *zap.Logger, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		logger:     logger,
		historyCap: DefaultHistoryCap,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SetAutoOpen registers a callback fired on every update.
func (a *Aggregator) SetAutoOpen(fn func()) {
	a.mu.Lock()
	a.autoOpen = fn
	a.mu.Unlock()
}

// Update is the only mutator of session state.
func (a *Aggregator) Update(update entities.WorkspaceUpdate) {
	a.mu.Lock()

	query := strings.TrimSpace(update.UserQuery)
	isNewQuery := query != "" && (a.current == nil || update.UserQuery != a.current.UserQuery)

	switch {
	case isNewQuery:
		if a.current != nil && a.current.UserQuery != "" {
			a.archive(*a.current)
		}
		rec := newRecord(update)
		a.current = &rec
		a.logger.Debug("MCP session opened",
			zap.String("sessionID", rec.ID),
			zap.String("userQuery", rec.UserQuery))
	case a.current == nil:
		rec := newRecord(update)
		a.current = &rec
	default:
		merge(a.current, update)
	}

	if a.current.Status == entities.McpStatusCompleted && a.current.UserQuery != "" {
		a.archive(*a.current)
	}

	autoOpen := a.autoOpen
	hooks := append([]ResultHook(nil), a.hooks...)
	a.mu.Unlock()

	if update.Status == entities.McpStatusCompleted && len(hooks) > 0 {
		for _, r := range update.ToolResults {
			if r.Status != entities.McpStatusCompleted || !truthy(r.Result) {
				continue
			}
			name, result := r.Name, r.Result
			time.AfterFunc(resultHookDelay, func() {
				for _, h := range hooks {
					h(name, result)
				}
			})
		}
	}

	if autoOpen != nil {
		autoOpen()
	}
}

// HandleRaw normalizes and applies one inbound object. It reports whether the
// object was MCP traffic.
func (a *Aggregator) HandleRaw(raw map[string]any) bool {
	update, ok := FromRaw(raw)
	if !ok {
		return false
	}
	a.Update(update)
	return true
}

// Consume subscribes to the inbound stream and applies every MCP payload on
// it until ctx is done.
func (a *Aggregator) Consume(ctx context.Context, src Source) error {
	return src.Consume(ctx, TopicInbound, func(payload []byte) error {
		var raw map[string]any
		if err := json.Unmarshal(payload, &raw); err != nil {
			return fmt.Errorf("decode inbound payload: %w", err)
		}
		a.HandleRaw(raw)
		return nil
	})
}

// Current returns a copy of the open session.
func (a *Aggregator) Current() (entities.McpSessionRecord, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current == nil {
		return entities.McpSessionRecord{}, false
	}
	return a.current.Clone(), true
}

// History returns copies of the archived sessions, oldest first.
func (a *Aggregator) History() []entities.McpSessionRecord {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]entities.McpSessionRecord, len(a.history))
	for i, r := range a.history {
		out[i] = r.Clone()
	}
	return out
}

// Sessions returns the history followed by the open session unless the open
// session is already archived.
func (a *Aggregator) Sessions() []entities.McpSessionRecord {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]entities.McpSessionRecord, 0, len(a.history)+1)
	archived := false
	for _, r := range a.history {
		if a.current != nil && r.ID == a.current.ID {
			archived = true
		}
		out = append(out, r.Clone())
	}
	if a.current != nil && !archived {
		out = append(out, a.current.Clone())
	}
	return out
}

// Active reports whether there is anything to show.
func (a *Aggregator) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current != nil || len(a.history) > 0
}

// Clear drops the open session.
func (a *Aggregator) Clear() {
	a.mu.Lock()
	a.current = nil
	a.mu.Unlock()
}

// ClearHistory drops the history and the open session.
func (a *Aggregator) ClearHistory() {
	a.mu.Lock()
	a.current = nil
	a.history = nil
	a.mu.Unlock()
}

// archive inserts rec into history, replacing an entry with the same query.
// Caller holds mu.
func (a *Aggregator) archive(rec entities.McpSessionRecord) {
	rec = rec.Clone()
	for i := range a.history {
		if a.history[i].UserQuery == rec.UserQuery {
			a.history[i] = rec
			return
		}
	}
	a.history = append(a.history, rec)
	if over := len(a.history) - a.historyCap; over > 0 {
		a.history = append([]entities.McpSessionRecord(nil), a.history[over:]...)
	}
}

func newRecord(u entities.WorkspaceUpdate) entities.McpSessionRecord {
	status := u.Status
	if status == "" {
		status = entities.McpStatusInProgress
	}
	rec := entities.McpSessionRecord{
		ID:            newSessionID(),
		Timestamp:     u.Timestamp,
		UserQuery:     u.UserQuery,
		Status:        status,
		FinalAnswer:   u.FinalAnswer,
		PartialAnswer: u.PartialAnswer,
	}
	for _, c := range u.ToolCalls {
		mergeCall(&rec, c)
	}
	for _, r := range u.ToolResults {
		mergeResult(&rec, r)
	}
	return rec.Clone()
}

func merge(rec *entities.McpSessionRecord, u entities.WorkspaceUpdate) {
	if u.Status != "" {
		rec.Status = u.Status
	}
	if u.Timestamp != "" {
		rec.Timestamp = u.Timestamp
	}
	for _, c := range u.ToolCalls {
		mergeCall(rec, c)
	}
	for _, r := range u.ToolResults {
		mergeResult(rec, r)
	}

	switch u.Status {
	case entities.McpStatusInProgress:
		if u.PartialAnswer != nil {
			v := *u.PartialAnswer
			rec.PartialAnswer = &v
		}
	case entities.McpStatusCompleted, entities.McpStatusError:
		if u.FinalAnswer != nil {
			v := *u.FinalAnswer
			rec.FinalAnswer = &v
		}
	}
}

func mergeCall(rec *entities.McpSessionRecord, c entities.ToolCallRecord) {
	for i := range rec.ToolCalls {
		existing := &rec.ToolCalls[i]
		if existing.Name != c.Name {
			continue
		}
		if c.Status != "" {
			existing.Status = advance(existing.Status, c.Status)
		}
		if c.Parameters != nil {
			existing.Parameters = c.Parameters
		}
		if c.Result != nil {
			existing.Result = c.Result
		}
		return
	}
	rec.ToolCalls = append(rec.ToolCalls, c)
}

// mergeResult applies the precedence rule: a full result replaces the record,
// a partial result never displaces a stored full one.
func mergeResult(rec *entities.McpSessionRecord, r entities.ToolResultRecord) {
	for i := range rec.ToolResults {
		existing := &rec.ToolResults[i]
		if existing.Name != r.Name {
			continue
		}
		switch {
		case truthy(r.Result):
			status := advance(existing.Status, r.Status)
			*existing = r
			existing.Status = status
		case truthy(r.PartialResult):
			existing.Status = advance(existing.Status, r.Status)
			if !truthy(existing.Result) {
				existing.PartialResult = r.PartialResult
			}
		default:
			existing.Status = advance(existing.Status, r.Status)
			if r.Error != "" {
				existing.Error = r.Error
			}
		}
		return
	}
	rec.ToolResults = append(rec.ToolResults, r)
}

// advance returns next unless that would move a terminal status back.
func advance(prev, next entities.McpStatus) entities.McpStatus {
	if next == "" || (prev.Terminal() && !next.Terminal()) {
		return prev
	}
	return next
}

func newSessionID() string {
	return fmt.Sprintf("session_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}
