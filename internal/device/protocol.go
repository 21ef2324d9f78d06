package device

// Frames sent by the device.
const (
	TypeWakeWord       = "wake_word"
	TypeSpeech         = "speech"
	TypeCaptureError   = "capture_error"
	TypeSpeechFinished = "speech_finished"
	TypeEmergencyStop  = "emergency_stop"
)

// Frames sent to the device.
const (
	TypeHello        = "hello"
	TypeListenStart  = "listen_start"
	TypeListenStop   = "listen_stop"
	TypeCaptureStart = "capture_start"
	TypeCaptureStop  = "capture_stop"
	TypeSpeak        = "speak"
	TypeSpeakStop    = "speak_stop"
	TypeState        = "state"
	TypeNotice       = "notice"
	TypeChat         = "chat"
	TypePartial      = "partial"
	TypeMap          = "map"
	TypeError        = "error"
)

// Frame is the JSON envelope for both directions.
type Frame struct {
	Type     string    `json:"type"`
	ID       uint64    `json:"id,omitempty"`
	Text     string    `json:"text,omitempty"`
	Error    string    `json:"error,omitempty"`
	Role     string    `json:"role,omitempty"`
	From     string    `json:"from,omitempty"`
	To       string    `json:"to,omitempty"`
	Settings *Settings `json:"settings,omitempty"`
}

// Settings are pushed to the device in the hello frame.
type Settings struct {
	SessionID        string   `json:"session_id"`
	WakeWords        []string `json:"wake_words"`
	Language         string   `json:"language"`
	SpeechRate       float64  `json:"speech_rate"`
	SpeechPitch      float64  `json:"speech_pitch"`
	SpeechVolume     float64  `json:"speech_volume"`
	CaptureTimeoutMs int64    `json:"capture_timeout_ms"`
}
