package transcribe

import (
	"math"
	"strconv"
	"strings"

	"github.com/K3das/parakeet/messages"
)

type Level string

const (
	LevelChar    Level = "char"
	LevelWord    Level = "word"
	LevelSegment Level = "segment"
)

// Stamp is a span of the transcript. Offsets are encoder frames, Start and
// End are seconds.
type Stamp struct {
	Text        string  `json:"text"`
	StartOffset int     `json:"start_offset"`
	EndOffset   int     `json:"end_offset"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
}

var segmentDelimiters = []string{".", "?", "!"}

func charStamps(tokens []Token, vocab *Vocab, frameSeconds float64) []Stamp {
	stamps := make([]Stamp, 0, len(tokens))
	for _, tok := range tokens {
		stamps = append(stamps, newStamp(vocab.Piece(tok.ID), tok.Frame, tok.Frame+tok.Duration, frameSeconds))
	}
	return stamps
}

// wordStamps joins pieces into words at the word marker.
func wordStamps(chars []Stamp, frameSeconds float64) []Stamp {
	var (
		words   []Stamp
		current *Stamp
	)
	flush := func() {
		if current == nil {
			return
		}
		current.Text = strings.TrimSpace(current.Text)
		if current.Text != "" {
			words = append(words, newStamp(current.Text, current.StartOffset, current.EndOffset, frameSeconds))
		}
		current = nil
	}

	for _, c := range chars {
		piece := c.Text
		if strings.HasPrefix(piece, WordMarker) {
			flush()
			piece = strings.TrimPrefix(piece, WordMarker)
		}
		if current == nil {
			current = &Stamp{StartOffset: c.StartOffset}
		}
		current.Text += piece
		current.EndOffset = c.EndOffset
	}
	flush()
	return words
}

// segmentStamps groups words into sentences ending in . ? or !
func segmentStamps(words []Stamp, frameSeconds float64) []Stamp {
	var (
		segments []Stamp
		text     []string
		start    int
	)
	for i, w := range words {
		if len(text) == 0 {
			start = w.StartOffset
		}
		text = append(text, w.Text)

		last := i == len(words)-1
		if last || endsSegment(w.Text) {
			segments = append(segments, newStamp(strings.Join(text, " "), start, w.EndOffset, frameSeconds))
			text = text[:0]
		}
	}
	return segments
}

func endsSegment(word string) bool {
	for _, d := range segmentDelimiters {
		if strings.HasSuffix(word, d) {
			return true
		}
	}
	return false
}

func newStamp(text string, start, end int, frameSeconds float64) Stamp {
	return Stamp{
		Text:        text,
		StartOffset: start,
		EndOffset:   end,
		Start:       roundSeconds(float64(start) * frameSeconds),
		End:         roundSeconds(float64(end) * frameSeconds),
	}
}

// roundSeconds drops float noise from offset * stride products.
func roundSeconds(s float64) float64 {
	return math.Round(s*1e6) / 1e6
}

// Text joins tokens into the transcript.
func Text(tokens []Token, vocab *Vocab) string {
	var b strings.Builder
	for _, tok := range tokens {
		b.WriteString(vocab.Piece(tok.ID))
	}
	return strings.TrimSpace(strings.ReplaceAll(b.String(), WordMarker, " "))
}

// MessageContext renders the transcript with the given timestamp levels.
func (r *Result) MessageContext(levels ...Level) messages.TranscriptContext {
	mc := messages.TranscriptContext{
		Text:   r.Text,
		Levels: make([]messages.TranscriptLevelContext, 0, len(levels)),
	}
	for _, level := range levels {
		stamps := r.Stamps(level)
		lc := messages.TranscriptLevelContext{
			Name:   string(level),
			Stamps: make([]messages.TranscriptStampContext, 0, len(stamps)),
		}
		for _, s := range stamps {
			lc.Stamps = append(lc.Stamps, messages.TranscriptStampContext{
				Text:  s.Text,
				Start: strconv.FormatFloat(s.Start, 'f', -1, 64),
				End:   strconv.FormatFloat(s.End, 'f', -1, 64),
			})
		}
		mc.Levels = append(mc.Levels, lc)
	}
	return mc
}
