package generation

import (
	"strings"

	"github.com/angelmondragon/cantora-backend/pkg/db/models"
)

// BriefingDefaults fills optional briefing fields the customer skipped.
type BriefingDefaults struct {
	Language  string
	VoiceType string
}

// BriefingFromOrder rebuilds the generation briefing from the persisted order
// columns, the only source of truth once the original request is gone.
func BriefingFromOrder(order *models.Order, defaults BriefingDefaults) Briefing {
	if order == nil {
		return Briefing{}
	}
	b := Briefing{
		HonoreeName:         strings.TrimSpace(order.HonoreeName),
		Relationship:        deref(order.Relationship),
		Occasion:            deref(order.Occasion),
		Story:               strings.TrimSpace(order.Story),
		MusicStyle:          strings.TrimSpace(order.MusicStyle),
		Mood:                deref(order.Mood),
		Tempo:               deref(order.Tempo),
		SongStructure:       deref(order.SongStructure),
		Instrumentation:     deref(order.Instrumentation),
		VoiceType:           deref(order.VoiceType),
		Language:            strings.TrimSpace(order.Language),
		Pronunciations:      copyPronunciations(order.Pronunciations),
		VoiceNoteTranscript: deref(order.VoiceNoteTranscript),
		IsInstrumental:      order.IsInstrumental,
	}
	if order.HasCustomLyric {
		b.CustomLyric = deref(order.CustomLyric)
	}
	if b.VoiceType == "" && !b.IsInstrumental {
		b.VoiceType = defaults.VoiceType
	}
	if b.Language == "" {
		b.Language = defaults.Language
	}
	return b
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}

func copyPronunciations(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for term, sound := range in {
		out[term] = sound
	}
	return out
}
