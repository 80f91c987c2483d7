package strategies

import (
	"regexp"
	"strings"

	"ragindex/internal/chunk"
)

// ConversationTurns splits transcripts on speaker-prefix lines (User,
// Assistant, Client, Therapist, Coach, Coachee, Q, A, Vraag, Antwoord,
// each followed by a colon), merging small consecutive turns up to
// max_chars so a chunk reads as a short exchange rather than one line.
type ConversationTurns struct{}

func NewConversationTurns() *ConversationTurns { return &ConversationTurns{} }

func (ConversationTurns) Name() string { return "conversation_turns" }
func (ConversationTurns) Description() string {
	return "splits transcripts on speaker-prefixed turns, merging small consecutive turns"
}

func (ConversationTurns) Defaults() chunk.Config {
	return chunk.Config{MaxChars: 1200, Overlap: 0, Extra: map[string]any{}}
}

var speakerTurnRE = regexp.MustCompile(`(?im)^\s*(User|Assistant|Client|Therapist|Coach|Coachee|Q|A|Vraag|Antwoord)\s*:\s*`)

func (ConversationTurns) Applicability(sample string, meta chunk.Metadata) float64 {
	turns := len(speakerTurnRE.FindAllString(sample, -1))
	if turns == 0 {
		return 0.05
	}
	score := 0.4
	switch {
	case turns >= 6:
		score += 0.35
	case turns >= 3:
		score += 0.2
	default:
		score += 0.1
	}
	return clamp(score)
}

type conversationTurn struct {
	speaker string
	text    string
}

func (c ConversationTurns) Chunk(text string, cfg chunk.Config) ([]string, error) {
	turns := splitConversationTurns(text)
	if len(turns) == 0 {
		return []string{strings.TrimSpace(text)}, nil
	}

	var chunks []string
	var cur strings.Builder
	for _, t := range turns {
		formatted := t.speaker + ": " + t.text
		if cur.Len() > 0 && cur.Len()+1+len(formatted) > cfg.MaxChars {
			chunks = append(chunks, strings.TrimSpace(cur.String()))
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n")
		}
		cur.WriteString(formatted)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, strings.TrimSpace(cur.String()))
	}
	return chunks, nil
}

func splitConversationTurns(text string) []conversationTurn {
	matches := speakerTurnRE.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return nil
	}
	var turns []conversationTurn
	for i, m := range matches {
		speaker := text[m[2]:m[3]]
		contentStart := m[1]
		contentEnd := len(text)
		if i+1 < len(matches) {
			contentEnd = matches[i+1][0]
		}
		body := strings.TrimSpace(text[contentStart:contentEnd])
		if body == "" {
			continue
		}
		turns = append(turns, conversationTurn{speaker: speaker, text: body})
	}
	return turns
}
