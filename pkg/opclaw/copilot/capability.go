package copilot

import (
	"fmt"
	"strings"
)

// Capability is a dispatchable request parsed from a structured call.
type Capability interface {
	// Tool is the registry name the capability was parsed from.
	Tool() string
	isCapability()
}

// PlayMusic plays a query in the operator's voice channel.
type PlayMusic struct{ Query string }

// SkipTrack skips the current track.
type SkipTrack struct{}

// StopPlayback deletes the guild queue.
type StopPlayback struct{}

// ShowQueue shows the current and upcoming tracks.
type ShowQueue struct{}

// TogglePause pauses or resumes playback.
type TogglePause struct{}

// ExecuteCommand synthesizes and runs an administrative action.
type ExecuteCommand struct{ Description string }

func (PlayMusic) Tool() string      { return ToolPlayMusic }
func (SkipTrack) Tool() string      { return ToolSkipTrack }
func (StopPlayback) Tool() string   { return ToolStopPlayback }
func (ShowQueue) Tool() string      { return ToolShowQueue }
func (TogglePause) Tool() string    { return ToolTogglePause }
func (ExecuteCommand) Tool() string { return ToolExecuteCommand }

func (PlayMusic) isCapability()      {}
func (SkipTrack) isCapability()      {}
func (StopPlayback) isCapability()   {}
func (ShowQueue) isCapability()      {}
func (TogglePause) isCapability()    {}
func (ExecuteCommand) isCapability() {}

// ParseCapability maps a structured call onto a capability. Unknown tools and
// missing or mistyped required arguments yield a *DispatchError.
func ParseCapability(call StructuredCall) (Capability, error) {
	switch call.Name {
	case ToolPlayMusic:
		q, err := requiredString(call, "query")
		if err != nil {
			return nil, err
		}
		return PlayMusic{Query: q}, nil
	case ToolSkipTrack:
		return SkipTrack{}, nil
	case ToolStopPlayback:
		return StopPlayback{}, nil
	case ToolShowQueue:
		return ShowQueue{}, nil
	case ToolTogglePause:
		return TogglePause{}, nil
	case ToolExecuteCommand:
		d, err := requiredString(call, "commandDescription")
		if err != nil {
			return nil, err
		}
		return ExecuteCommand{Description: d}, nil
	default:
		return nil, &DispatchError{Tool: call.Name, Reason: fmt.Sprintf("unknown tool %q", call.Name)}
	}
}

func requiredString(call StructuredCall, name string) (string, error) {
	v, ok := call.Args[name]
	if !ok || v == nil {
		return "", &DispatchError{Tool: call.Name, Reason: fmt.Sprintf("%s is missing argument %q", call.Name, name)}
	}
	s, ok := v.(string)
	if !ok {
		return "", &DispatchError{Tool: call.Name, Reason: fmt.Sprintf("%s argument %q must be a string, got %T", call.Name, name, v)}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", &DispatchError{Tool: call.Name, Reason: fmt.Sprintf("%s argument %q is empty", call.Name, name)}
	}
	return s, nil
}
