package orchestrator

import "fmt"

// State is the position of the turn state machine. Speaking is not a
// state: playback overlaps the main line and is reported by IsSpeaking.
type State int

const (
	Closed State = iota
	Idle
	Recording
	Transcribing
	AwaitingReply
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Transcribing:
		return "transcribing"
	case AwaitingReply:
		return "awaiting_reply"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// FailureKind classifies what went wrong in a turn.
type FailureKind string

const (
	FailureDeviceUnavailable FailureKind = "device_unavailable"
	FailureEmptyCapture      FailureKind = "empty_capture"
	FailureTranscription     FailureKind = "transcription"
	FailureReplyQuota        FailureKind = "reply_quota_exceeded"
	FailureReplyUnknown      FailureKind = "reply_unknown"
	FailureSynthesis         FailureKind = "synthesis"
	FailurePlayback          FailureKind = "playback"
)

// User-visible messages. Speech failures are announced by the queue.
const (
	MsgListening           = "Listening... Tap to stop."
	MsgMicrophone          = "Could not access microphone. Check permissions."
	MsgNoSpeech            = "No speech detected. Please try again."
	MsgTranscriptionFailed = "Could not transcribe audio. Please try again."
	MsgTranscriptionQuota  = "OpenAI quota exceeded. Please check your OpenAI billing dashboard to ensure your payment method is valid and you have sufficient credits."
	MsgReplyQuota          = "Reply service quota exceeded. Switched to offline replies."
	MsgReplyFailed         = "An error occurred while processing your message."
)
