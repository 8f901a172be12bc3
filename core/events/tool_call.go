package events

// ToolStart marks the start of a capability invocation.
type ToolStart struct {
	Base
	ToolName    string `json:"toolName"`
	ServerID    string `json:"serverId"`
	Description string `json:"description"`
}

func NewToolStart(toolName, serverID, description string) ToolStart {
	return ToolStart{Base: NewBase(TypeToolStart), ToolName: toolName, ServerID: serverID, Description: description}
}

// ToolComplete marks the end of a capability invocation. Failed invocations
// set Success false and populate Error; they never terminate the turn.
type ToolComplete struct {
	Base
	ToolName string  `json:"toolName"`
	ServerID string  `json:"serverId"`
	Success  bool    `json:"success"`
	Duration float64 `json:"duration"`
	Error    string  `json:"error,omitempty"`
}

func NewToolComplete(toolName, serverID string, success bool, duration float64, errText string) ToolComplete {
	return ToolComplete{
		Base:     NewBase(TypeToolComplete),
		ToolName: toolName,
		ServerID: serverID,
		Success:  success,
		Duration: duration,
		Error:    errText,
	}
}
