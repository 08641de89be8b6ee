package transcribe

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// WordMarker starts every SentencePiece piece that begins a new word.
const WordMarker = "▁"

// Vocab maps token ids to SentencePiece pieces.
type Vocab struct {
	pieces []string
}

// LoadVocab reads one piece per line. Lines in the "piece<TAB>score" form
// written by SentencePiece keep only the piece.
func LoadVocab(path string) (*Vocab, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening vocabulary: %w", err)
	}
	defer f.Close()

	v := &Vocab{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		piece, _, _ := strings.Cut(scanner.Text(), "\t")
		v.pieces = append(v.pieces, piece)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading vocabulary: %w", err)
	}
	if len(v.pieces) == 0 {
		return nil, fmt.Errorf("vocabulary %s is empty", path)
	}
	return v, nil
}

func NewVocab(pieces []string) *Vocab {
	return &Vocab{pieces: pieces}
}

func (v *Vocab) Size() int {
	return len(v.pieces)
}

// Piece returns the piece for id, or "" for ids outside the vocabulary.
func (v *Vocab) Piece(id int) string {
	if id < 0 || id >= len(v.pieces) {
		return ""
	}
	return v.pieces[id]
}
