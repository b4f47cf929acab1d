package tokenizer

import (
	"encoding/json"
	"fmt"
	"os"
)

// ByteBPE is a trainable byte-level byte-pair-encoding tokenizer. The first
// 256 ids are the raw bytes; every learned merge appends one id. Because the
// base vocabulary covers all bytes, any string round-trips without an unknown
// token.
type ByteBPE struct {
	merges []mergePair
	// tokens[id] holds the byte expansion of id.
	tokens [][]byte
	// mergeRank[pair] is the order the merge was learned; lower merges first.
	mergeRank map[mergePair]int
}

type mergePair struct {
	A int `json:"a"`
	B int `json:"b"`
}

// NewByteBPE creates a tokenizer with only the 256 byte tokens.
func NewByteBPE() *ByteBPE {
	bpe := &ByteBPE{
		tokens:    make([][]byte, 256),
		mergeRank: make(map[mergePair]int),
	}
	for i := range bpe.tokens {
		bpe.tokens[i] = []byte{byte(i)}
	}
	return bpe
}

// VocabSize returns the number of tokens, learned merges included.
func (bpe *ByteBPE) VocabSize() int {
	return len(bpe.tokens)
}

// Train learns merges from text until the vocabulary reaches vocabSize or no
// pair repeats. Training replaces any previously learned merges.
func (bpe *ByteBPE) Train(text string, vocabSize int) {
	if vocabSize < 256 {
		vocabSize = 256
	}

	bpe.merges = nil
	bpe.tokens = bpe.tokens[:256]
	bpe.mergeRank = make(map[mergePair]int)

	ids := make([]int, len(text))
	for i := 0; i < len(text); i++ {
		ids[i] = int(text[i])
	}

	for len(bpe.tokens) < vocabSize {
		counts := make(map[mergePair]int)
		for i := 0; i+1 < len(ids); i++ {
			counts[mergePair{ids[i], ids[i+1]}]++
		}

		best := mergePair{-1, -1}
		bestCount := 1
		for pair, count := range counts {
			if count > bestCount || (count == bestCount && best.A >= 0 && lessPair(pair, best)) {
				best = pair
				bestCount = count
			}
		}
		if best.A < 0 {
			break
		}

		newID := len(bpe.tokens)
		bpe.mergeRank[best] = len(bpe.merges)
		bpe.merges = append(bpe.merges, best)
		bpe.tokens = append(bpe.tokens, append(append([]byte(nil), bpe.tokens[best.A]...), bpe.tokens[best.B]...))

		ids = applyMerge(ids, best, newID)
	}
}

// lessPair makes pair selection deterministic when counts tie.
func lessPair(a, b mergePair) bool {
	if a.A != b.A {
		return a.A < b.A
	}
	return a.B < b.B
}

// applyMerge replaces every occurrence of pair in ids with newID.
func applyMerge(ids []int, pair mergePair, newID int) []int {
	out := ids[:0]
	for i := 0; i < len(ids); i++ {
		if i+1 < len(ids) && ids[i] == pair.A && ids[i+1] == pair.B {
			out = append(out, newID)
			i++
			continue
		}
		out = append(out, ids[i])
	}
	return out
}

// Encode converts text to token ids, applying learned merges lowest rank
// first.
func (bpe *ByteBPE) Encode(text string) []int {
	ids := make([]int, len(text))
	for i := 0; i < len(text); i++ {
		ids[i] = int(text[i])
	}

	for len(ids) >= 2 {
		bestRank := -1
		var bestPair mergePair
		for i := 0; i+1 < len(ids); i++ {
			pair := mergePair{ids[i], ids[i+1]}
			if rank, ok := bpe.mergeRank[pair]; ok && (bestRank < 0 || rank < bestRank) {
				bestRank = rank
				bestPair = pair
			}
		}
		if bestRank < 0 {
			break
		}
		ids = applyMerge(ids, bestPair, 256+bestRank)
	}

	return ids
}

// Decode converts token ids back to text.
func (bpe *ByteBPE) Decode(ids []int) string {
	var out []byte
	for _, id := range ids {
		if id < 0 || id >= len(bpe.tokens) {
			continue
		}
		out = append(out, bpe.tokens[id]...)
	}
	return string(out)
}

type bpeFile struct {
	Merges []mergePair `json:"merges"`
}

// Save writes the learned merges to path as JSON.
func (bpe *ByteBPE) Save(path string) error {
	data, err := json.MarshalIndent(bpeFile{Merges: bpe.merges}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal merges: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write tokenizer file: %w", err)
	}
	return nil
}

// LoadByteBPE reads a tokenizer previously written by Save.
func LoadByteBPE(path string) (*ByteBPE, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tokenizer file: %w", err)
	}

	var file bpeFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unmarshal merges: %w", err)
	}

	bpe := NewByteBPE()
	for i, pair := range file.Merges {
		if pair.A < 0 || pair.A >= len(bpe.tokens) || pair.B < 0 || pair.B >= len(bpe.tokens) {
			return nil, fmt.Errorf("merge %d references unknown token: %d+%d", i, pair.A, pair.B)
		}
		bpe.mergeRank[pair] = i
		bpe.merges = append(bpe.merges, pair)
		bpe.tokens = append(bpe.tokens, append(append([]byte(nil), bpe.tokens[pair.A]...), bpe.tokens[pair.B]...))
	}

	return bpe, nil
}
