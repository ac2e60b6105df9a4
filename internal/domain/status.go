package domain

import "time"

// EventType enumerates the lifecycle phases of a generation job.
type EventType string

const (
	EventQueued        EventType = "QUEUED"
	EventStarted       EventType = "STARTED"
	EventPolling       EventType = "POLLING"
	EventPartialResult EventType = "PARTIAL_RESULT"
	EventCompleted     EventType = "COMPLETED"
	EventFailed        EventType = "FAILED"
)

// IsTerminal reports whether the event closes a job.
func (t EventType) IsTerminal() bool {
	return t == EventCompleted || t == EventFailed
}

// StatusEvent is one ordered progress record for a request id.
type StatusEvent struct {
	RequestID string     `json:"requestId"`
	Type      EventType  `json:"type"`
	Route     RouteType  `json:"route,omitempty"`
	Message   string     `json:"message,omitempty"`
	Progress  *float64   `json:"progress,omitempty"`
	Previews  []string   `json:"previews,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	Error     *ErrorInfo `json:"error,omitempty"`
}

// FailedEvent builds the terminal FAILED event for an error envelope.
func FailedEvent(requestID string, route RouteType, err *Error) StatusEvent {
	evt := StatusEvent{RequestID: requestID, Type: EventFailed, Route: route}
	if err != nil {
		evt.Message = err.Message
		evt.Error = err.Info()
	}
	return evt
}
