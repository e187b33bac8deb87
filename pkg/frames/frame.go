package frames

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MessageType is the "type" discriminator used on the caller socket.
type MessageType string

const (
	TypeStart               MessageType = "start"
	TypeTranscriberResponse MessageType = "transcriber-response"
	TypeError               MessageType = "error"
)

// Channel labels who spoke a transcript.
type Channel string

const (
	ChannelCustomer  Channel = "customer"
	ChannelAssistant Channel = "assistant"
)

// ControlMessage is an inbound text frame from the platform. Only Type is
// required; the audio format fields are sent by the platform but are optional.
type ControlMessage struct {
	Type       MessageType `json:"type"`
	Encoding   string      `json:"encoding,omitempty"`
	Container  string      `json:"container,omitempty"`
	SampleRate int         `json:"sampleRate,omitempty"`
	Channels   int         `json:"channels,omitempty"`
}

// ParseControl decodes a text frame into a ControlMessage.
func ParseControl(raw []byte) (ControlMessage, error) {
	var msg ControlMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ControlMessage{}, fmt.Errorf("decode control message: %w", err)
	}
	msg.Type = MessageType(strings.ToLower(strings.TrimSpace(string(msg.Type))))
	return msg, nil
}

func (m ControlMessage) IsStart() bool { return m.Type == TypeStart }

// TranscriptEnvelope is the outbound transcript frame.
type TranscriptEnvelope struct {
	Type          MessageType `json:"type"`
	Transcription string      `json:"transcription"`
	Channel       Channel     `json:"channel"`
}

func NewTranscript(text string, ch Channel) TranscriptEnvelope {
	return TranscriptEnvelope{
		Type:          TypeTranscriberResponse,
		Transcription: text,
		Channel:       ch,
	}
}

// ErrorFrame is sent once before the relay closes a caller connection.
type ErrorFrame struct {
	Type   MessageType `json:"type"`
	Error  string      `json:"error"`
	Reason string      `json:"reason,omitempty"`
}

func NewError(msg, reason string) ErrorFrame {
	return ErrorFrame{Type: TypeError, Error: msg, Reason: reason}
}
