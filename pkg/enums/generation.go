package enums

// GenerationKind names the external generation call being made.
type GenerationKind string

const (
	GenerationKindLyrics      GenerationKind = "lyrics"
	GenerationKindStylePrompt GenerationKind = "style_prompt"
)

// GenerationOutcomeStatus classifies one generation invocation.
type GenerationOutcomeStatus string

const (
	GenerationOutcomeSuccess              GenerationOutcomeStatus = "success"
	GenerationOutcomeTransient            GenerationOutcomeStatus = "transient_failure"
	GenerationOutcomeFatal                GenerationOutcomeStatus = "fatal_failure"
	GenerationOutcomeMissingPronunciation GenerationOutcomeStatus = "missing_pronunciation"
)

// Retryable is true only for transient failures. Missing pronunciations need
// customer input first.
func (s GenerationOutcomeStatus) Retryable() bool {
	return s == GenerationOutcomeTransient
}

// ProcessMode selects how lyric generation is driven after payment.
//
// Quick returns immediately and generates in the background. Detailed waits
// for the lyrics within the request.
type ProcessMode string

const (
	ProcessModeQuick    ProcessMode = "quick"
	ProcessModeDetailed ProcessMode = "detailed"
)

var processModes = []ProcessMode{ProcessModeQuick, ProcessModeDetailed}

func ParseProcessMode(value string) (ProcessMode, error) {
	return parse("process mode", processModes, value)
}

// FlowAction tells the client where to go next.
type FlowAction string

const (
	FlowActionDashboard  FlowAction = "dashboard"
	FlowActionCreateSong FlowAction = "create-song"
)
