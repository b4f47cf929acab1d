package tensor

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
)

// Config describes the shape of a GPT model.
type Config struct {
	VocabSize int `json:"vocab_size"`
	SeqLen    int `json:"seq_len"`
	EmbedDim  int `json:"embed_dim"`
	NumHeads  int `json:"num_heads"`
	NumLayers int `json:"num_layers"`
	FFHidden  int `json:"ff_hidden"`

	// EncodingBase sets the sinusoidal positional encoding base. Zero selects
	// the standard 10000.
	EncodingBase float64 `json:"encoding_base"`

	// Seed drives weight initialization so runs are reproducible.
	Seed int64 `json:"seed"`
}

func (c Config) validate() {
	if c.VocabSize <= 0 || c.SeqLen <= 0 || c.NumLayers <= 0 {
		panic("gpt config: vocab size, sequence length and layer count must be positive")
	}
	if c.EmbedDim <= 0 || c.EmbedDim%2 != 0 {
		panic("gpt config: embed dim must be positive and even")
	}
	if c.NumHeads <= 0 || c.EmbedDim%c.NumHeads != 0 {
		panic(fmt.Sprintf("gpt config: embed dim %d not divisible by %d heads", c.EmbedDim, c.NumHeads))
	}
	if c.FFHidden <= 0 {
		panic("gpt config: feed-forward hidden size must be positive")
	}
}

// GPT is a decoder-only transformer language model: token embeddings plus a
// fixed sinusoidal positional encoding, a stack of causal pre-norm blocks, a
// final layer norm and a linear head back to vocabulary logits.
type GPT struct {
	config Config

	tokenEmbed *Tensor // [vocabSize, embedDim]
	posEnc     *SinusoidalEncoding
	blocks     []*TransformerBlock
	normFinal  *LayerNorm
	lmHead     *Tensor // [embedDim, vocabSize]
}

// NewGPT builds a model with randomly initialized weights.
func NewGPT(config Config) *GPT {
	config.validate()
	rng := rand.New(rand.NewSource(config.Seed))

	model := &GPT{
		config:     config,
		tokenEmbed: NewTensorRandn(rng, 0.02, config.VocabSize, config.EmbedDim),
		posEnc:     NewSinusoidalEncoding(config.SeqLen, config.EmbedDim, config.EncodingBase),
		blocks:     make([]*TransformerBlock, config.NumLayers),
		normFinal:  NewLayerNorm(config.EmbedDim),
		lmHead:     NewTensorRandn(rng, math.Sqrt(2.0/float64(config.EmbedDim)), config.EmbedDim, config.VocabSize),
	}

	for i := range model.blocks {
		model.blocks[i] = NewTransformerBlock(config.EmbedDim, config.NumHeads, config.FFHidden, true, rng)
	}

	return model
}

// Config returns the model's configuration.
func (g *GPT) Config() Config {
	return g.config
}

// TokenEmbeddings returns the learned token embedding table:
// [vocabSize, embedDim].
func (g *GPT) TokenEmbeddings() *Tensor {
	return g.tokenEmbed
}

// Parameters returns every trainable tensor in a stable order.
func (g *GPT) Parameters() []*Tensor {
	params := []*Tensor{g.tokenEmbed}
	for _, b := range g.blocks {
		params = append(params, b.Parameters()...)
	}
	params = append(params, g.normFinal.Parameters()...)
	params = append(params, g.lmHead)
	return params
}

// embed looks up token embeddings and adds the positional encoding.
func (g *GPT) embed(ids []int) *Tensor {
	seqLen := len(ids)
	x := NewTensor(seqLen, g.config.EmbedDim)
	for s, id := range ids {
		if id < 0 || id >= g.config.VocabSize {
			panic(fmt.Sprintf("token id %d out of range [0, %d)", id, g.config.VocabSize))
		}
		copy(x.Data[s*g.config.EmbedDim:(s+1)*g.config.EmbedDim], g.tokenEmbed.Data[id*g.config.EmbedDim:(id+1)*g.config.EmbedDim])
	}
	return g.posEnc.Add(x, 0)
}

// Forward computes next-token logits for a token sequence: [seqLen, vocabSize].
func (g *GPT) Forward(ids []int) *Tensor {
	logits, _ := g.ForwardTrain(ids)
	return logits
}

// ForwardCache retains the activations the backward pass replays.
type ForwardCache struct {
	ids         []int
	blockInputs []*Tensor
	blockCaches []*BlockCache
	normInput   *Tensor
	normed      *Tensor
}

// ForwardTrain computes logits and keeps per-layer activations.
func (g *GPT) ForwardTrain(ids []int) (*Tensor, *ForwardCache) {
	if len(ids) == 0 {
		panic("empty token sequence")
	}
	if len(ids) > g.config.SeqLen {
		panic(fmt.Sprintf("sequence length %d exceeds maximum %d", len(ids), g.config.SeqLen))
	}

	cache := &ForwardCache{
		ids:         append([]int(nil), ids...),
		blockInputs: make([]*Tensor, len(g.blocks)),
		blockCaches: make([]*BlockCache, len(g.blocks)),
	}

	x := g.embed(ids)
	for i, b := range g.blocks {
		cache.blockInputs[i] = x
		x, cache.blockCaches[i] = b.ForwardTrain(x, nil)
	}

	cache.normInput = x
	cache.normed = g.normFinal.Forward(x)

	return MatMul(cache.normed, g.lmHead), cache
}

// Backward propagates the logit gradient through the model, accumulating
// parameter gradients.
func (g *GPT) Backward(gradLogits *Tensor, cache *ForwardCache) {
	gradNormed, gradHead := MatMulBackward(cache.normed, g.lmHead, gradLogits)
	g.lmHead.AccumulateGrad(gradHead)

	grad := g.normFinal.Backward(cache.normInput, gradNormed)

	for i := len(g.blocks) - 1; i >= 0; i-- {
		grad = g.blocks[i].Backward(grad, cache.blockCaches[i])
	}

	// Embedding rows accumulate the gradient of every position that used them.
	if g.tokenEmbed.Grad == nil {
		g.tokenEmbed.ZeroGrad()
	}
	embedDim := g.config.EmbedDim
	for s, id := range cache.ids {
		for d := 0; d < embedDim; d++ {
			g.tokenEmbed.Grad[id*embedDim+d] += grad.Data[s*embedDim+d]
		}
	}
}

// Generate extends prompt by up to maxNewTokens tokens. Generation stops early
// when stopToken is produced; pass a negative stopToken to disable that. The
// context window slides when the sequence outgrows the model's maximum length.
func (g *GPT) Generate(prompt []int, maxNewTokens, stopToken int, cfg SampleConfig, rng *rand.Rand) []int {
	ids := append([]int(nil), prompt...)

	for n := 0; n < maxNewTokens; n++ {
		window := ids
		if len(window) > g.config.SeqLen {
			window = window[len(window)-g.config.SeqLen:]
		}

		logits := g.Forward(window)
		next := SampleToken(logits.Row(logits.Shape[0]-1), cfg, rng)

		ids = append(ids, next)
		if stopToken >= 0 && next == stopToken {
			break
		}
	}

	return ids
}

const gptMagic = "TFG1"

// Save writes the model's configuration and weights to path.
func (g *GPT) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create model file: %w", err)
	}
	defer f.Close()

	header, err := json.Marshal(g.config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if _, err := f.Write([]byte(gptMagic)); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, uint32(len(header))); err != nil {
		return fmt.Errorf("write header length: %w", err)
	}
	if _, err := f.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, p := range g.Parameters() {
		if err := binary.Write(f, binary.LittleEndian, p.Data); err != nil {
			return fmt.Errorf("write weights: %w", err)
		}
	}

	return nil
}

// LoadGPT reads a model previously written by Save.
func LoadGPT(path string) (*GPT, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model file: %w", err)
	}
	defer f.Close()

	magic := make([]byte, len(gptMagic))
	if _, err := io.ReadFull(f, magic); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if string(magic) != gptMagic {
		return nil, fmt.Errorf("not a model file: bad magic %q", magic)
	}

	var headerLen uint32
	if err := binary.Read(f, binary.LittleEndian, &headerLen); err != nil {
		return nil, fmt.Errorf("read header length: %w", err)
	}

	header := make([]byte, headerLen)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	var config Config
	if err := json.Unmarshal(header, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	model := NewGPT(config)
	for _, p := range model.Parameters() {
		if err := binary.Read(f, binary.LittleEndian, p.Data); err != nil {
			return nil, fmt.Errorf("read weights: %w", err)
		}
	}

	return model, nil
}
