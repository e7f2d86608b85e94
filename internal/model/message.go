package model

import "time"

// MessageKind classifies a progress message.
type MessageKind string

const (
	MessageInfo       MessageKind = "info"
	MessageSuccess    MessageKind = "success"
	MessageWarning    MessageKind = "warning"
	MessageError      MessageKind = "error"
	MessageDetail     MessageKind = "detail"
	MessageCompletion MessageKind = "completion"
)

// CompletionInfo is the payload carried by the final message of a job.
type CompletionInfo struct {
	JobID        string   `json:"job_id"`
	State        JobState `json:"extraction_status"`
	PagesFound   int      `json:"pages_found"`
	PagesScraped int      `json:"pages_scraped"`
}

// Message is an immutable progress event emitted by the worker for its own
// job. A completion message is always the last message for a job.
type Message struct {
	Kind       MessageKind     `json:"type"`
	Timestamp  time.Time       `json:"timestamp"`
	Text       string          `json:"message"`
	Completion *CompletionInfo `json:"completion,omitempty"`
}

func NewMessage(kind MessageKind, text string) Message {
	return Message{
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		Text:      text,
	}
}

func NewCompletion(info CompletionInfo) Message {
	m := NewMessage(MessageCompletion, "extraction finished")
	m.Completion = &info
	return m
}
