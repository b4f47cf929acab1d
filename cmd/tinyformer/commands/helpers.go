package commands

import (
	"io"

	"tinyformer-go/tokenizer"
)

// openTokenizer picks the text tokenizer for the language-model commands:
// a HuggingFace tokenizer.json when hfPath is set, otherwise the trained
// byte-level BPE at bpePath.
func openTokenizer(hfPath, bpePath string) (tokenizer.Tokenizer, error) {
	if hfPath != "" {
		return tokenizer.LoadHF(hfPath)
	}
	return tokenizer.LoadByteBPE(bpePath)
}

// closeTokenizer releases native resources for tokenizers that hold them.
func closeTokenizer(tok tokenizer.Tokenizer) {
	if c, ok := tok.(io.Closer); ok {
		c.Close()
	}
}
