package tokenizer

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"
)

// Reserved tokens occupy the first vocabulary slots, BERT-style.
var wordPieceSpecials = []string{"[PAD]", "[UNK]", "[CLS]", "[SEP]", "[MASK]"}

// WordPiece tokenizes words by greedy longest-match against a subword
// vocabulary. A word is split into its longest known prefix followed by
// continuation pieces written with a "##" prefix; words with no match at all
// become [UNK].
type WordPiece struct {
	vocab    map[string]int
	invVocab []string
	specials Specials
}

// NewWordPiece builds a tokenizer from a piece list. The reserved tokens are
// prepended if the list does not already start with them.
func NewWordPiece(pieces []string) *WordPiece {
	wp := &WordPiece{vocab: make(map[string]int)}

	for _, s := range wordPieceSpecials {
		wp.add(s)
	}
	for _, p := range pieces {
		wp.add(p)
	}

	wp.specials = Specials{
		Pad:  wp.vocab["[PAD]"],
		Unk:  wp.vocab["[UNK]"],
		CLS:  wp.vocab["[CLS]"],
		SEP:  wp.vocab["[SEP]"],
		Mask: wp.vocab["[MASK]"],
	}
	return wp
}

func (wp *WordPiece) add(piece string) {
	if _, ok := wp.vocab[piece]; ok {
		return
	}
	wp.vocab[piece] = len(wp.invVocab)
	wp.invVocab = append(wp.invVocab, piece)
}

// Specials returns the ids of the reserved tokens.
func (wp *WordPiece) Specials() Specials {
	return wp.specials
}

// VocabSize returns the number of pieces, reserved tokens included.
func (wp *WordPiece) VocabSize() int {
	return len(wp.invVocab)
}

// splitWords lowercases text and splits it into words, treating punctuation
// as standalone words.
func splitWords(text string) []string {
	var words []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			words = append(words, current.String())
			current.Reset()
		}
	}

	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r):
			flush()
			words = append(words, string(r))
		default:
			current.WriteRune(r)
		}
	}
	flush()

	return words
}

// tokenizeWord splits a single word into subword pieces by greedy longest
// match. Returns nil when no prefix of the word is in the vocabulary.
func (wp *WordPiece) tokenizeWord(word string) []int {
	var pieces []int
	runes := []rune(word)
	start := 0

	for start < len(runes) {
		end := len(runes)
		found := -1

		for end > start {
			candidate := string(runes[start:end])
			if start > 0 {
				candidate = "##" + candidate
			}
			if id, ok := wp.vocab[candidate]; ok {
				found = id
				break
			}
			end--
		}

		if found < 0 {
			return nil
		}
		pieces = append(pieces, found)
		start = end
	}

	return pieces
}

// Encode converts text to piece ids. No reserved tokens are inserted; callers
// wrap the result with [CLS] and [SEP] as needed.
func (wp *WordPiece) Encode(text string) []int {
	var ids []int
	for _, word := range splitWords(text) {
		pieces := wp.tokenizeWord(word)
		if pieces == nil {
			ids = append(ids, wp.specials.Unk)
			continue
		}
		ids = append(ids, pieces...)
	}
	return ids
}

// Decode converts piece ids back to a readable string. Continuation pieces
// are joined to the preceding piece; reserved tokens are skipped.
func (wp *WordPiece) Decode(ids []int) string {
	var sb strings.Builder
	for _, id := range ids {
		if id < 0 || id >= len(wp.invVocab) {
			continue
		}
		piece := wp.invVocab[id]
		if strings.HasPrefix(piece, "[") && strings.HasSuffix(piece, "]") {
			continue
		}
		if cont, ok := strings.CutPrefix(piece, "##"); ok {
			sb.WriteString(cont)
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(piece)
	}
	return sb.String()
}

// TrainWordPiece builds a vocabulary from a text corpus: every character seen
// (as both word-initial and continuation piece), then whole words by
// descending frequency until vocabSize is reached.
func TrainWordPiece(texts []string, vocabSize int) *WordPiece {
	wordCounts := make(map[string]int)
	charSet := make(map[rune]bool)

	for _, text := range texts {
		for _, word := range splitWords(text) {
			wordCounts[word]++
			for _, r := range word {
				charSet[r] = true
			}
		}
	}

	chars := make([]rune, 0, len(charSet))
	for r := range charSet {
		chars = append(chars, r)
	}
	sort.Slice(chars, func(i, j int) bool { return chars[i] < chars[j] })

	pieces := make([]string, 0, vocabSize)
	for _, r := range chars {
		pieces = append(pieces, string(r), "##"+string(r))
	}

	words := make([]string, 0, len(wordCounts))
	for w := range wordCounts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if wordCounts[words[i]] != wordCounts[words[j]] {
			return wordCounts[words[i]] > wordCounts[words[j]]
		}
		return words[i] < words[j]
	})

	budget := vocabSize - len(wordPieceSpecials) - len(pieces)
	for _, w := range words {
		if budget <= 0 {
			break
		}
		if len([]rune(w)) < 2 {
			continue
		}
		pieces = append(pieces, w)
		budget--
	}

	return NewWordPiece(pieces)
}

// Save writes the vocabulary as one piece per line, the standard BERT vocab
// file format.
func (wp *WordPiece) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create vocab file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, piece := range wp.invVocab {
		fmt.Fprintln(w, piece)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write vocab file: %w", err)
	}
	return nil
}

// LoadWordPiece reads a vocabulary written by Save (or any one-piece-per-line
// BERT vocab file).
func LoadWordPiece(path string) (*WordPiece, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocab file: %w", err)
	}
	defer f.Close()

	var pieces []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}
		pieces = append(pieces, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read vocab file: %w", err)
	}

	return NewWordPiece(pieces), nil
}
