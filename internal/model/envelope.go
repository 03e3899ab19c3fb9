package model

type FrameType string

const (
	FrameTypeMemoryReport FrameType = "memory_report"
	FrameTypeError        FrameType = "error"
)

// Envelope is transport-agnostic framing for serve payloads.
type Envelope struct {
	Type          FrameType `json:"type"`
	NodeID        string    `json:"node_id"`
	TimestampUnix int64     `json:"timestamp_unix"`
	Payload       any       `json:"payload"`
}

// ErrorPayload is the payload of an error envelope.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
