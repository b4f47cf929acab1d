package tokenizer

import (
	"fmt"

	"github.com/daulet/tokenizers"
)

// HFTokenizer wraps a HuggingFace tokenizer.json file behind the Tokenizer
// interface, so pretrained vocabularies can drive the same pipelines as the
// trainable tokenizers. The underlying binding holds native resources; call
// Close when done.
type HFTokenizer struct {
	tk       *tokenizers.Tokenizer
	specials Specials
}

// LoadHF opens a tokenizer.json file. The reserved token ids start out as -1;
// callers that need them (the classifier pipelines) set them with
// SetSpecials, since tokenizer.json files disagree on names and ids.
func LoadHF(path string) (*HFTokenizer, error) {
	tk, err := tokenizers.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %s: %w", path, err)
	}
	return &HFTokenizer{
		tk:       tk,
		specials: Specials{Pad: -1, Unk: -1, CLS: -1, SEP: -1, Mask: -1},
	}, nil
}

// SetSpecials records the reserved token ids of the loaded vocabulary.
func (h *HFTokenizer) SetSpecials(sp Specials) {
	h.specials = sp
}

// Specials returns the reserved token ids; fields are -1 until SetSpecials
// is called.
func (h *HFTokenizer) Specials() Specials {
	return h.specials
}

// Encode converts text to token ids without adding special tokens.
func (h *HFTokenizer) Encode(text string) []int {
	raw, _ := h.tk.Encode(text, false)
	ids := make([]int, len(raw))
	for i, id := range raw {
		ids[i] = int(id)
	}
	return ids
}

// Decode converts token ids back to text, skipping special tokens.
func (h *HFTokenizer) Decode(ids []int) string {
	raw := make([]uint32, len(ids))
	for i, id := range ids {
		raw[i] = uint32(id)
	}
	return h.tk.Decode(raw, true)
}

// VocabSize returns the vocabulary size.
func (h *HFTokenizer) VocabSize() int {
	return int(h.tk.VocabSize())
}

// Close releases the native tokenizer.
func (h *HFTokenizer) Close() error {
	return h.tk.Close()
}
