// Package generation wraps the lyric and style-prompt providers behind a single
// gateway that classifies failures and retries transient ones.
package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/cantora-backend/pkg/enums"
)

// Briefing is the customer's creative input for one song.
type Briefing struct {
	HonoreeName         string            `json:"honoreeName"`
	Relationship        string            `json:"relationship,omitempty"`
	Occasion            string            `json:"occasion,omitempty"`
	Story               string            `json:"story"`
	MusicStyle          string            `json:"musicStyle"`
	Mood                string            `json:"mood,omitempty"`
	Tempo               string            `json:"tempo,omitempty"`
	SongStructure       string            `json:"songStructure,omitempty"`
	Instrumentation     string            `json:"instrumentation,omitempty"`
	VoiceType           string            `json:"voiceType,omitempty"`
	Language            string            `json:"language"`
	CustomLyric         string            `json:"customLyric,omitempty"`
	Pronunciations      map[string]string `json:"pronunciations,omitempty"`
	VoiceNoteTranscript string            `json:"voiceNoteTranscript,omitempty"`
	IsInstrumental      bool              `json:"isInstrumental"`
}

// Request is one unit of generation work.
type Request struct {
	Kind     enums.GenerationKind `json:"kind"`
	Briefing Briefing             `json:"briefing"`
	// ApprovedLyric feeds the style prompt; empty for instrumental songs.
	ApprovedLyric string `json:"approvedLyric,omitempty"`
	// Options is how many lyric alternatives to produce.
	Options int `json:"options,omitempty"`
}

// LyricOption is one generated lyric alternative.
type LyricOption struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Response is a provider's successful result.
type Response struct {
	Lyrics      []LyricOption `json:"lyrics,omitempty"`
	StylePrompt string        `json:"stylePrompt,omitempty"`
}

// Provider performs a single generation call without retries.
type Provider interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// ProviderError is a failure reported by the provider itself.
type ProviderError struct {
	StatusCode            int
	Message               string
	MissingPronunciations []string
}

func (e *ProviderError) Error() string {
	if len(e.MissingPronunciations) > 0 {
		return fmt.Sprintf("missing pronunciations: %s", strings.Join(e.MissingPronunciations, ", "))
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider status %d: %s", e.StatusCode, e.Message)
	}
	return e.Message
}

// Outcome is the gateway's verdict on an invocation. It never carries a panic.
type Outcome struct {
	Status                enums.GenerationOutcomeStatus
	Response              *Response
	Err                   error
	Attempts              int
	MissingPronunciations []string
}

// OK reports whether the invocation produced a usable response.
func (o Outcome) OK() bool {
	return o.Status == enums.GenerationOutcomeSuccess && o.Response != nil
}

// ErrorMessage renders the failure for callers that surface it to users.
func (o Outcome) ErrorMessage() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}
