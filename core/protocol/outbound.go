package protocol

import "encoding/json"

// ErrorPayload is the data of an outbound "error" frame.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Event is the inbound event that caused the error, if it could be decoded.
	Event string `json:"event,omitempty"`
}

// Error codes reported to clients.
const (
	CodeMalformed           = "malformed"
	CodeUnknownEvent        = "unknown_event"
	CodeHardwareUnavailable = "hardware_unavailable"
	CodeOutOfRange          = "out_of_range"
	CodeDriverError         = "driver_error"
	CodeForbidden           = "forbidden"
)

// Encode builds an outbound frame.
func Encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// ChatFrame builds the "message" frame re-broadcast for a chat text.
func ChatFrame(text string) []byte {
	b, _ := Encode(EventMessage, text)
	return b
}

// ErrorFrame builds an "error" frame.
func ErrorFrame(p ErrorPayload) []byte {
	b, _ := Encode(EventError, p)
	return b
}
