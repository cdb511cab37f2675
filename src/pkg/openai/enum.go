package openai

import "strings"

type TextVerbosity string

const (
	TextVerbosityLow    TextVerbosity = "low"
	TextVerbosityMedium TextVerbosity = "medium" // (default behavior if omitted)
	TextVerbosityHigh   TextVerbosity = "high"
)

type InputRole string

const (
	RoleDeveloper InputRole = "developer"
	RoleUser      InputRole = "user"
	RoleAssistant InputRole = "assistant"
)

// Your organization must be verified to generate reasoning summaries.
type Summary string

type Effort string

const (
	EffortMinimal Effort = "minimal"
	EffortLow     Effort = "low"
	EffortMedium  Effort = "medium"
	EffortHigh    Effort = "high"
)

// ParseEffort maps a config string to an Effort, defaulting to low.
func ParseEffort(value string) Effort {
	switch Effort(strings.ToLower(strings.TrimSpace(value))) {
	case EffortMinimal:
		return EffortMinimal
	case EffortMedium:
		return EffortMedium
	case EffortHigh:
		return EffortHigh
	default:
		return EffortLow
	}
}

// TextFormatType enumerates supported output formats.
type TextFormatType string

const (
	TextFormatTypeText       TextFormatType = "text"
	TextFormatTypeJSONObject TextFormatType = "json_object"
	TextFormatTypeJSONSchema TextFormatType = "json_schema"
)

// terminal statuses of a background response
const (
	statusCompleted  = "completed"
	statusIncomplete = "incomplete"
	statusFailed     = "failed"
	statusCancelled  = "cancelled"
	statusExpired    = "expired"
)
