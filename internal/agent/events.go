package agent

// EventType discriminates the entries of a run's event stream.
type EventType string

const (
	EventText       EventType = "text"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventDone       EventType = "done"
	EventError      EventType = "error"
)

// displayResultLimit bounds tool results on the event surface; the full
// result still goes back to the model.
const displayResultLimit = 500

// Event is one entry of a run's ordered event stream. Text events carry a
// streamed fragment of the model's prose; tool events describe one call and
// its (display-truncated) outcome.
type Event struct {
	Type EventType

	Text string

	ToolName    string
	ToolArgs    map[string]any
	ToolResult  string
	ToolIsError bool

	Err error
}

func truncateForDisplay(s string) string {
	if len(s) <= displayResultLimit {
		return s
	}
	return s[:displayResultLimit] + "..."
}
