// Package tokenizer provides the text-to-token-id layer: a trainable
// byte-level BPE for language modeling, a WordPiece tokenizer for the encoder
// classifier, and an adapter over HuggingFace tokenizer files.
package tokenizer

// Tokenizer converts between text and token ids.
type Tokenizer interface {
	Encode(text string) []int
	Decode(ids []int) string
	VocabSize() int
}

var (
	_ Tokenizer = (*WordPiece)(nil)
	_ Tokenizer = (*ByteBPE)(nil)
	_ Tokenizer = (*HFTokenizer)(nil)
)

// Specials holds the ids of the reserved tokens a model depends on. Fields
// are -1 when the vocabulary does not define the token.
type Specials struct {
	Pad  int
	Unk  int
	CLS  int
	SEP  int
	Mask int
}
