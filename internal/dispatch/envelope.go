package dispatch

import (
	"encoding/json"

	"github.com/rcliao/memoryd/internal/apperr"
)

// Envelope is the only shape a call result takes.
type Envelope struct {
	OK    bool       `json:"ok"`
	Data  any        `json:"data,omitempty"`
	Error *ErrorBody `json:"error,omitempty"`
}

// ErrorBody describes a failed call.
type ErrorBody struct {
	Kind      apperr.Kind `json:"kind"`
	Message   string      `json:"message"`
	Retryable bool        `json:"retryable,omitempty"`
}

func success(data any) Envelope { return Envelope{OK: true, Data: data} }

func failure(err error) Envelope {
	e := apperr.From(err)
	msg := e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return Envelope{Error: &ErrorBody{Kind: e.Kind, Message: msg, Retryable: e.Retryable}}
}

// JSON encodes the envelope. Data that cannot be encoded turns the envelope
// into an Internal failure, so the result is always a valid envelope.
func (e Envelope) JSON() []byte {
	b, err := json.Marshal(e)
	if err != nil {
		b, _ = json.Marshal(failure(apperr.Wrap(apperr.Internal, err, "encode result")))
	}
	return b
}
