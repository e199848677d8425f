package gateway

import (
	"errors"
	"fmt"

	"github.com/MrWong99/votevoice/pkg/provider/stt"
)

// Message types sent by the device.
const (
	TypeFocus     = "focus"
	TypeBlur      = "blur"
	TypeTTSDone   = "tts_done"
	TypeTTSError  = "tts_error"
	TypeSTTStart  = "stt_start"
	TypeSTTResult = "stt_result"
	TypeSTTEnd    = "stt_end"
	TypeSTTError  = "stt_error"
	TypeInput     = "input"
	TypeUpload    = "upload"
)

// Message types sent by the server.
const (
	TypeSpeak         = "speak"
	TypeStopSpeaking  = "stop_speaking"
	TypeListen        = "listen"
	TypeStopListening = "stop_listening"
	TypeState         = "state"
	TypeNavigate      = "navigate"
	TypeNotice        = "notice"
	TypeEnded         = "ended"
	TypeUploaded      = "uploaded"
	TypeError         = "error"
)

// Message is one JSON frame in either direction. Only the fields relevant to
// Type are set.
type Message struct {
	Type string `json:"type"`

	// focus, state
	Screen string `json:"screen,omitempty"`

	// speak, tts_done, tts_error
	Utterance string `json:"utterance,omitempty"`
	Text      string `json:"text,omitempty"`
	Language  string `json:"language,omitempty"`

	// listen
	InterimResults  bool `json:"interim_results,omitempty"`
	MaxAlternatives int  `json:"max_alternatives,omitempty"`

	// stt_result
	Transcript string  `json:"transcript,omitempty"`
	Final      bool    `json:"final,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`

	// tts_error, stt_error, ended
	Reason string `json:"reason,omitempty"`

	// input, upload, uploaded
	Field       string `json:"field,omitempty"`
	Value       string `json:"value,omitempty"`
	Name        string `json:"name,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Data        []byte `json:"data,omitempty"`
	URL         string `json:"url,omitempty"`

	// state
	Step      string `json:"step,omitempty"`
	State     string `json:"state,omitempty"`
	Listening bool   `json:"listening,omitempty"`
	Speaking  bool   `json:"speaking,omitempty"`
	Retry     int    `json:"retry,omitempty"`

	// navigate, ended
	Target  string `json:"target,omitempty"`
	Outcome string `json:"outcome,omitempty"`

	// notice
	Blocking bool `json:"blocking,omitempty"`
}

// recognizerError maps a device recogniser error code to an error wrapping
// the matching stt sentinel. Codes follow the Web Speech API; snake_case
// spellings are accepted too.
func recognizerError(reason string) error {
	switch reason {
	case "not-allowed", "permission_denied":
		return fmt.Errorf("gateway: device recognizer: %w", stt.ErrPermissionDenied)
	case "service-not-allowed", "audio-capture", "language-not-supported", "unavailable":
		return fmt.Errorf("gateway: device recognizer %s: %w", reason, stt.ErrUnavailable)
	case "no-speech", "no_speech":
		return fmt.Errorf("gateway: device recognizer: %w", stt.ErrNoSpeech)
	case "":
		return errors.New("gateway: device recognizer failed")
	default:
		return fmt.Errorf("gateway: device recognizer: %s", reason)
	}
}
