package recall

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	EventAudio = "audio_separate_raw.data"
	EventLeave = "participant_events.leave"
)

// SampleRate of the S16LE mono PCM in audio events.
const SampleRate = 16000

type envelope struct {
	Event string `json:"event"`
	Data  struct {
		Bot struct {
			ID string `json:"id"`
		} `json:"bot"`
		Data struct {
			Participant struct {
				ID   json.RawMessage `json:"id"`
				Name string          `json:"name"`
			} `json:"participant"`
			Buffer string `json:"buffer"`
		} `json:"data"`
	} `json:"data"`
}

// Event is one decoded realtime message from a bot.
type Event struct {
	Kind            string
	BotID           string
	ParticipantID   string
	ParticipantName string
	PCM             []byte
}

func Decode(raw []byte) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	ev := &Event{
		Kind:            env.Event,
		BotID:           env.Data.Bot.ID,
		ParticipantID:   participantID(env.Data.Data.Participant.ID),
		ParticipantName: env.Data.Data.Participant.Name,
	}
	if env.Event == EventAudio && env.Data.Data.Buffer != "" {
		pcm, err := base64.StdEncoding.DecodeString(env.Data.Data.Buffer)
		if err != nil {
			return nil, fmt.Errorf("decode audio buffer: %w", err)
		}
		ev.PCM = pcm
	}
	return ev, nil
}

// Participant ids arrive as numbers or strings.
func participantID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// IsTranslator reports whether a participant is one of our own bots.
func IsTranslator(name string) bool {
	return strings.HasPrefix(name, "Translator")
}

func BotName(targetLang string) string {
	return fmt.Sprintf("Translator (%s)", strings.ToUpper(targetLang))
}
