package model

import (
	"fmt"
	"sort"
)

const bosLabel = "<BOS>"

// Vocab is the character vocabulary plus one reserved BOS id equal to
// len(Chars). BOS marks both the start and the end of a document.
type Vocab struct {
	Chars []rune
	BOS   int

	index map[rune]int
}

// BuildVocab collects the sorted set of runes used by docs.
func BuildVocab(docs []string) *Vocab {
	charset := map[rune]bool{}
	for _, d := range docs {
		for _, r := range d {
			charset[r] = true
		}
	}
	chars := make([]rune, 0, len(charset))
	for r := range charset {
		chars = append(chars, r)
	}
	sort.Slice(chars, func(i, j int) bool { return chars[i] < chars[j] })
	return newVocab(chars)
}

func newVocab(chars []rune) *Vocab {
	index := make(map[rune]int, len(chars))
	for i, r := range chars {
		index[r] = i
	}
	return &Vocab{Chars: chars, BOS: len(chars), index: index}
}

func (v *Vocab) Size() int { return len(v.Chars) + 1 }

func (v *Vocab) ID(r rune) (int, bool) {
	id, ok := v.index[r]
	return id, ok
}

// Encode returns [BOS, ids..., BOS]. Runes outside the vocabulary are
// skipped.
func (v *Vocab) Encode(doc string) []int {
	out := make([]int, 0, len(doc)+2)
	out = append(out, v.BOS)
	for _, r := range doc {
		if id, ok := v.index[r]; ok {
			out = append(out, id)
		}
	}
	return append(out, v.BOS)
}

// EncodeText encodes doc without the BOS markers.
func (v *Vocab) EncodeText(doc string) []int {
	out := make([]int, 0, len(doc))
	for _, r := range doc {
		if id, ok := v.index[r]; ok {
			out = append(out, id)
		}
	}
	return out
}

// Decode maps ids back to text, ignoring BOS and invalid ids.
func (v *Vocab) Decode(ids []int) string {
	out := make([]rune, 0, len(ids))
	for _, id := range ids {
		if id >= 0 && id < len(v.Chars) {
			out = append(out, v.Chars[id])
		}
	}
	return string(out)
}

// Label is the display form of id.
func (v *Vocab) Label(id int) string {
	switch {
	case id == v.BOS:
		return bosLabel
	case id >= 0 && id < len(v.Chars):
		return string(v.Chars[id])
	default:
		return fmt.Sprintf("<%d>", id)
	}
}

