package generation

import (
	"fmt"
	"sort"
	"strings"
)

const lyricsSystemPrompt = `You write personalized song lyrics for a paid custom-song service.
Respond with a JSON object: {"lyrics":[{"title":"...","content":"..."}],"missingPronunciations":["..."]}.
Write in the requested language, keep verses singable and avoid explicit content.
List in missingPronunciations any proper name you must sing whose pronunciation is ambiguous and was not provided; leave it empty otherwise.`

const stylePromptSystemPrompt = `You write concise style prompts for a music generation model.
Describe genre, tempo, instrumentation, vocal type and mood in a single line under 200 characters.
Never include lyrics or personal names.`

func lyricsUserPrompt(req Request) string {
	b := req.Briefing
	var sb strings.Builder
	options := req.Options
	if options <= 0 {
		options = 1
	}
	fmt.Fprintf(&sb, "Write %d distinct lyric option(s).\n", options)
	writeField(&sb, "Language", b.Language)
	writeField(&sb, "Honoree", b.HonoreeName)
	writeField(&sb, "Relationship", b.Relationship)
	writeField(&sb, "Occasion", b.Occasion)
	writeField(&sb, "Music style", b.MusicStyle)
	writeField(&sb, "Mood", b.Mood)
	writeField(&sb, "Tempo", b.Tempo)
	writeField(&sb, "Song structure", b.SongStructure)
	writeField(&sb, "Voice", b.VoiceType)
	writeField(&sb, "Story", b.Story)
	writeField(&sb, "Voice note transcript", b.VoiceNoteTranscript)
	if b.CustomLyric != "" {
		writeField(&sb, "Base the song on this customer text", b.CustomLyric)
	}
	writePronunciations(&sb, b.Pronunciations)
	return sb.String()
}

func stylePromptUserPrompt(req Request) string {
	b := req.Briefing
	var sb strings.Builder
	writeField(&sb, "Music style", b.MusicStyle)
	writeField(&sb, "Mood", b.Mood)
	writeField(&sb, "Tempo", b.Tempo)
	writeField(&sb, "Instrumentation", b.Instrumentation)
	if b.IsInstrumental {
		sb.WriteString("Instrumental track, no vocals.\n")
	} else {
		writeField(&sb, "Voice", b.VoiceType)
		writeField(&sb, "Lyrics", req.ApprovedLyric)
	}
	writeField(&sb, "Occasion", b.Occasion)
	return sb.String()
}

func writeField(sb *strings.Builder, label, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	fmt.Fprintf(sb, "%s: %s\n", label, value)
}

func writePronunciations(sb *strings.Builder, pronunciations map[string]string) {
	if len(pronunciations) == 0 {
		return
	}
	terms := make([]string, 0, len(pronunciations))
	for term := range pronunciations {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	sb.WriteString("Pronunciations:\n")
	for _, term := range terms {
		fmt.Fprintf(sb, "- %s sounds like %s\n", term, pronunciations[term])
	}
}
