package agent

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType 枚举监督器对外发布的生命周期事件。
type EventType string

const (
	EventStarted         EventType = "started"
	EventDecision        EventType = "decision"
	EventExecuting       EventType = "executing"
	EventExecuted        EventType = "executed"
	EventExecutionFailed EventType = "executionFailed"
	EventError           EventType = "error"
	EventStopped         EventType = "stopped"
)

// Event 是事件流上的一条记录。Timestamp 为毫秒级 Unix 时间戳，
// 事件相关字段放在 Fields 中。
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp int64          `json:"timestamp"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Listener 消费事件。投递是同步且按发生顺序的，监听器不应阻塞。
type Listener func(Event)

// emitter 将事件按订阅顺序同步广播给所有监听器，
// 并保留一个有界的最近事件环供状态接口查询。
type emitter struct {
	mu        sync.Mutex
	listeners []Listener
	recent    []Event
	recentCap int
}

func newEmitter(recentCap int) *emitter {
	if recentCap <= 0 {
		recentCap = 64
	}
	return &emitter{recentCap: recentCap}
}

func (e *emitter) subscribe(listener Listener) {
	if listener == nil {
		return
	}
	e.mu.Lock()
	e.listeners = append(e.listeners, listener)
	e.mu.Unlock()
}

func (e *emitter) emit(eventType EventType, fields map[string]any) Event {
	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UnixMilli(),
		Fields:    fields,
	}

	e.mu.Lock()
	listeners := make([]Listener, len(e.listeners))
	copy(listeners, e.listeners)
	e.recent = append(e.recent, event)
	if len(e.recent) > e.recentCap {
		e.recent = append(e.recent[:0], e.recent[len(e.recent)-e.recentCap:]...)
	}
	e.mu.Unlock()

	for _, listener := range listeners {
		listener(event)
	}
	return event
}

func (e *emitter) recentEvents() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Event, len(e.recent))
	copy(out, e.recent)
	return out
}
