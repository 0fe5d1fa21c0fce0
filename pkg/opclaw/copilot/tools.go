package copilot

import "github.com/jholhewres/opclaw/pkg/opclaw/llm"

// Tool names exposed to the model.
const (
	ToolExecuteCommand = "executeDiscordCommand"
	ToolPlayMusic      = "playMusic"
	ToolSkipTrack      = "skipTrack"
	ToolStopPlayback   = "stopPlayback"
	ToolShowQueue      = "showQueue"
	ToolTogglePause    = "togglePauseResume"
)

var toolRegistry = []llm.ToolDefinition{
	{
		Name:        ToolExecuteCommand,
		Description: "For any administrative/moderation action (kick, ban, create channel, etc).",
		Parameters: llm.Schema{
			Properties: map[string]llm.Property{
				"commandDescription": {Type: llm.TypeString, Description: "What the administrative action should do, in plain words."},
			},
			Required: []string{"commandDescription"},
		},
	},
	{
		Name:        ToolPlayMusic,
		Description: "Plays a song in the user's voice channel from a URL or search query.",
		Parameters: llm.Schema{
			Properties: map[string]llm.Property{
				"query": {Type: llm.TypeString, Description: "The song name, YouTube/Spotify URL, or search query."},
			},
			Required: []string{"query"},
		},
	},
	{Name: ToolSkipTrack, Description: "Skips the currently playing song."},
	{Name: ToolStopPlayback, Description: "Stops the music, clears the queue, and leaves the voice channel."},
	{Name: ToolShowQueue, Description: "Shows the current song and the list of upcoming tracks."},
	{Name: ToolTogglePause, Description: "Pauses the music if it is playing, or resumes it if it is paused."},
}

// Tools returns the tool registry in declaration order.
func Tools() []llm.ToolDefinition {
	out := make([]llm.ToolDefinition, len(toolRegistry))
	copy(out, toolRegistry)
	return out
}

// LookupTool returns the definition of a registered tool.
func LookupTool(name string) (llm.ToolDefinition, bool) {
	for _, t := range toolRegistry {
		if t.Name == name {
			return t, true
		}
	}
	return llm.ToolDefinition{}, false
}
