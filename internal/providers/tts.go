package providers

import "context"

// TTSResponse is the common response type from any TTS provider.
type TTSResponse struct {
	AudioData  []byte
	DurationMs int
	Format     string
}

// TTS is the voice contract: synthesize(text, voice_id,
// duration_target?) -> audio_bytes. Duration target is advisory; the
// adapter returns natural length.
type TTS interface {
	Synthesize(ctx context.Context, text, voiceID string, durationTargetMs int) (*TTSResponse, error)
}

// estimateAudioDuration approximates spoken duration from word count and
// speaking rate, used when a provider doesn't report duration directly.
func estimateAudioDuration(text string, speed float64) int {
	words := 0
	inWord := false
	for _, r := range text {
		isSpace := r == ' ' || r == '\n' || r == '\t'
		if !isSpace && !inWord {
			words++
			inWord = true
		} else if isSpace {
			inWord = false
		}
	}
	const wordsPerMinuteAt1x = 150.0
	minutes := float64(words) / (wordsPerMinuteAt1x * speed)
	return int(minutes * 60 * 1000)
}
