package ffmpeg

import (
	"fmt"
	"os"
	"strings"

	"github.com/arcframe/reelforge/internal/models"
)

const (
	wordsPerChunk = 4

	subtitleFontName = "Noto Sans"
	subtitleFontSize = 124

	assColorWhite     = "&H00FFFFFF"
	assColorBlack     = "&H00000000"
	assColorPurple    = "&H00CC3299"
	assColorSemiBlack = "&H80000000"

	outlineNormal    = 6
	outlineHighlight = 16

	subtitleMarginV = 440
)

// wordTimestamp is a single word's placement on the overall timeline. The
// orchestrator has no forced-alignment transcript for generated VO, so
// words within a line are distributed evenly across its time_range — an
// approximation noted in DESIGN.md, good enough for a 3-4 word TikTok-style
// chunk display where exact per-word timing is not load-bearing.
type wordTimestamp struct {
	Word  string
	Start float64
	End   float64
}

func wordsFromLine(line models.ScriptLine) []wordTimestamp {
	fields := strings.Fields(line.Text)
	if len(fields) == 0 {
		return nil
	}
	end := line.TimeRange.StartS + 1
	if line.TimeRange.EndS != nil {
		end = *line.TimeRange.EndS
	}
	span := end - line.TimeRange.StartS
	if span <= 0 {
		span = 1
	}
	perWord := span / float64(len(fields))

	words := make([]wordTimestamp, len(fields))
	for i, f := range fields {
		words[i] = wordTimestamp{
			Word:  f,
			Start: line.TimeRange.StartS + float64(i)*perWord,
			End:   line.TimeRange.StartS + float64(i+1)*perWord,
		}
	}
	return words
}

// GenerateASSSubtitles writes a TikTok-style word-chunk ASS subtitle file
// covering every line in order, sized for a width x height canvas.
func GenerateASSSubtitles(lines []models.ScriptLine, outputPath string, width, height int) error {
	var allWords []wordTimestamp
	for _, line := range lines {
		allWords = append(allWords, wordsFromLine(line)...)
	}
	if len(allWords) == 0 {
		return fmt.Errorf("no words to generate subtitles from")
	}

	chunks := chunkWords(allWords, wordsPerChunk)

	var sb strings.Builder
	sb.WriteString("[Script Info]\n")
	sb.WriteString("ScriptType: v4.00+\n")
	fmt.Fprintf(&sb, "PlayResX: %d\n", width)
	fmt.Fprintf(&sb, "PlayResY: %d\n", height)
	sb.WriteString("WrapStyle: 0\n")
	sb.WriteString("ScaledBorderAndShadow: yes\n\n")

	sb.WriteString("[V4+ Styles]\n")
	sb.WriteString("Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding\n")
	fmt.Fprintf(&sb, "Style: Default,%s,%d,%s,%s,%s,%s,-1,0,0,0,100,100,2,0,1,%d,0,2,40,40,%d,1\n\n",
		subtitleFontName, subtitleFontSize, assColorWhite, assColorWhite, assColorBlack, assColorSemiBlack, outlineNormal, subtitleMarginV)

	sb.WriteString("[Events]\n")
	sb.WriteString("Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")

	for _, chunk := range chunks {
		for wordIdx, word := range chunk {
			var endTime float64
			if wordIdx < len(chunk)-1 {
				endTime = chunk[wordIdx+1].Start
			} else {
				endTime = word.End
			}
			displayText := buildHighlightedChunkText(chunk, wordIdx)
			fmt.Fprintf(&sb, "Dialogue: 0,%s,%s,Default,,0,0,0,,%s\n",
				formatASSTime(word.Start), formatASSTime(endTime), displayText)
		}
	}

	if err := os.WriteFile(outputPath, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("write ASS subtitle file: %w", err)
	}
	return nil
}

func chunkWords(words []wordTimestamp, chunkSize int) [][]wordTimestamp {
	var chunks [][]wordTimestamp
	var current []wordTimestamp
	for _, word := range words {
		current = append(current, word)
		isSentenceEnd := strings.ContainsAny(word.Word, ".!?")
		if len(current) >= chunkSize || (isSentenceEnd && len(current) >= 2) {
			chunks = append(chunks, current)
			current = nil
		}
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

func buildHighlightedChunkText(chunk []wordTimestamp, activeIdx int) string {
	var parts []string
	for i, word := range chunk {
		cleanWord := strings.ToUpper(strings.TrimSpace(word.Word))
		if cleanWord == "" {
			continue
		}
		if i == activeIdx {
			parts = append(parts, fmt.Sprintf("{\\3c%s\\bord%d}%s{\\r}", assColorPurple, outlineHighlight, cleanWord))
		} else {
			parts = append(parts, cleanWord)
		}
	}
	return strings.Join(parts, " ")
}

func formatASSTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	hours := int(seconds) / 3600
	minutes := (int(seconds) % 3600) / 60
	secs := int(seconds) % 60
	centiseconds := int((seconds - float64(int(seconds))) * 100)
	return fmt.Sprintf("%d:%02d:%02d.%02d", hours, minutes, secs, centiseconds)
}

// escapeFilterPath escapes path separators and quoting characters for use
// inside an ffmpeg filtergraph string.
func escapeFilterPath(path string) string {
	path = strings.ReplaceAll(path, "\\", "\\\\")
	path = strings.ReplaceAll(path, ":", "\\:")
	path = strings.ReplaceAll(path, "'", "'\\''")
	return path
}
