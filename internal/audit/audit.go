package audit

import (
	"sync"

	"github.com/mohamedkhairy/squareoff-engine/internal/models"
)

// Sink receives trade-log records. Append is fire-and-forget: it must
// never block on or surface storage failures to the caller, because it
// sits on the tick-evaluation path.
type Sink interface {
	Append(event string, message string, data map[string]interface{})
	AppendForRule(ruleID string, event string, message string, data map[string]interface{})
}

// NopSink discards all records
type NopSink struct{}

func (NopSink) Append(event, message string, data map[string]interface{})                   {}
func (NopSink) AppendForRule(ruleID, event, message string, data map[string]interface{}) {}

// MemorySink records entries in memory for inspection in tests
type MemorySink struct {
	mu      sync.Mutex
	Records []models.TradeLog
}

// NewMemorySink creates a MemorySink
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Append(event, message string, data map[string]interface{}) {
	s.AppendForRule("", event, message, data)
}

func (s *MemorySink) AppendForRule(ruleID, event, message string, data map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Records = append(s.Records, models.TradeLog{
		RuleID:    ruleID,
		EventType: event,
		Message:   message,
		Data:      data,
	})
}

// ByEvent returns the recorded entries with the given event type
func (s *MemorySink) ByEvent(event string) []models.TradeLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]models.TradeLog, 0)
	for _, rec := range s.Records {
		if rec.EventType == event {
			result = append(result, rec)
		}
	}
	return result
}

// Len returns the number of recorded entries
func (s *MemorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Records)
}
