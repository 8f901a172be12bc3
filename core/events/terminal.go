package events

// Complete terminates a stream that ran to the end.
type Complete struct {
	Base
	Success         bool `json:"success"`
	TotalSentences  int  `json:"totalSentences"`
	TotalObjects    int  `json:"totalObjects"`
	TotalReferences int  `json:"totalReferences"`
}

func NewComplete(totalSentences, totalObjects, totalReferences int) Complete {
	return Complete{
		Base:            NewBase(TypeComplete),
		Success:         true,
		TotalSentences:  totalSentences,
		TotalObjects:    totalObjects,
		TotalReferences: totalReferences,
	}
}

// Error terminates a stream after a model-invocation failure.
type Error struct {
	Base
	Message string `json:"message"`
}

func NewError(message string) Error {
	return Error{Base: NewBase(TypeError), Message: message}
}

// Interruption codes carried by Interrupted events.
const (
	InterruptionCodeUserStop     = "user_stop"
	InterruptionCodeSuperseded   = "superseded"
	InterruptionCodeSessionEnded = "session_ended"
)

// Interrupted terminates a cancelled stream. Message carries the narration
// accumulated up to the moment of cancellation so the client can keep the
// partial answer on screen.
type Interrupted struct {
	Base
	Message string `json:"message"`
	Code    string `json:"code"`
}

func NewInterrupted(message, code string) Interrupted {
	return Interrupted{Base: NewBase(TypeInterrupted), Message: message, Code: code}
}
