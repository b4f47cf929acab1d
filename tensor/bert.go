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

// BERTConfig describes the shape of a bidirectional encoder classifier.
type BERTConfig struct {
	VocabSize  int `json:"vocab_size"`
	SeqLen     int `json:"seq_len"`
	EmbedDim   int `json:"embed_dim"`
	NumHeads   int `json:"num_heads"`
	NumLayers  int `json:"num_layers"`
	FFHidden   int `json:"ff_hidden"`
	NumClasses int `json:"num_classes"`

	// Special token ids the model relies on. PadID positions are excluded from
	// attention, ClsID marks the pooled classification position, MaskID is
	// substituted during masked language modeling.
	PadID  int `json:"pad_id"`
	ClsID  int `json:"cls_id"`
	SepID  int `json:"sep_id"`
	MaskID int `json:"mask_id"`

	// MaskProb is the fraction of maskable tokens selected for the MLM
	// objective. Zero selects the standard 0.15.
	MaskProb float64 `json:"mask_prob"`

	Seed int64 `json:"seed"`
}

func (c BERTConfig) validate() {
	if c.VocabSize <= 0 || c.SeqLen <= 0 || c.NumLayers <= 0 {
		panic("bert config: vocab size, sequence length and layer count must be positive")
	}
	if c.EmbedDim <= 0 || c.NumHeads <= 0 || c.EmbedDim%c.NumHeads != 0 {
		panic(fmt.Sprintf("bert config: embed dim %d not divisible by %d heads", c.EmbedDim, c.NumHeads))
	}
	if c.FFHidden <= 0 || c.NumClasses <= 0 {
		panic("bert config: feed-forward hidden size and class count must be positive")
	}
}

// BERT is a bidirectional transformer encoder with two heads: a sequence
// classifier over the pooled [CLS] position and a masked-language-modeling
// head over every position. Positions are encoded with learned embeddings
// rather than the fixed sinusoidal table the decoder uses.
type BERT struct {
	config BERTConfig

	tokenEmbed *Tensor // [vocabSize, embedDim]
	posEmbed   *Tensor // [seqLen, embedDim]
	blocks     []*TransformerBlock
	normFinal  *LayerNorm

	classHead *Tensor // [embedDim, numClasses]
	classBias *Tensor // [numClasses]
	mlmHead   *Tensor // [embedDim, vocabSize]
}

// NewBERT builds a model with randomly initialized weights.
func NewBERT(config BERTConfig) *BERT {
	config.validate()
	if config.MaskProb <= 0 {
		config.MaskProb = 0.15
	}
	rng := rand.New(rand.NewSource(config.Seed))

	model := &BERT{
		config:     config,
		tokenEmbed: NewTensorRandn(rng, 0.02, config.VocabSize, config.EmbedDim),
		posEmbed:   NewTensorRandn(rng, 0.02, config.SeqLen, config.EmbedDim),
		blocks:     make([]*TransformerBlock, config.NumLayers),
		normFinal:  NewLayerNorm(config.EmbedDim),
		classHead:  NewTensorRandn(rng, math.Sqrt(2.0/float64(config.EmbedDim)), config.EmbedDim, config.NumClasses),
		classBias:  NewTensor(config.NumClasses),
		mlmHead:    NewTensorRandn(rng, math.Sqrt(2.0/float64(config.EmbedDim)), config.EmbedDim, config.VocabSize),
	}

	for i := range model.blocks {
		model.blocks[i] = NewTransformerBlock(config.EmbedDim, config.NumHeads, config.FFHidden, false, rng)
	}

	return model
}

// Config returns the model's configuration.
func (b *BERT) Config() BERTConfig {
	return b.config
}

// TokenEmbeddings returns the learned token embedding table:
// [vocabSize, embedDim].
func (b *BERT) TokenEmbeddings() *Tensor {
	return b.tokenEmbed
}

// Parameters returns every trainable tensor in a stable order.
func (b *BERT) Parameters() []*Tensor {
	params := []*Tensor{b.tokenEmbed, b.posEmbed}
	for _, blk := range b.blocks {
		params = append(params, blk.Parameters()...)
	}
	params = append(params, b.normFinal.Parameters()...)
	params = append(params, b.classHead, b.classBias, b.mlmHead)
	return params
}

// PaddingMask reports which positions of ids are real tokens. Positions equal
// to padID come out false and are excluded from attention.
func PaddingMask(ids []int, padID int) []bool {
	mask := make([]bool, len(ids))
	for i, id := range ids {
		mask[i] = id != padID
	}
	return mask
}

func (b *BERT) embed(ids []int) *Tensor {
	seqLen := len(ids)
	x := NewTensor(seqLen, b.config.EmbedDim)
	dim := b.config.EmbedDim
	for s, id := range ids {
		if id < 0 || id >= b.config.VocabSize {
			panic(fmt.Sprintf("token id %d out of range [0, %d)", id, b.config.VocabSize))
		}
		for d := 0; d < dim; d++ {
			x.Data[s*dim+d] = b.tokenEmbed.Data[id*dim+d] + b.posEmbed.Data[s*dim+d]
		}
	}
	return x
}

// BERTCache retains the encoder activations the backward passes replay.
type BERTCache struct {
	ids         []int
	keyMask     []bool
	blockCaches []*BlockCache
	normInput   *Tensor
	normed      *Tensor // [seqLen, embedDim]
}

// encode runs the embedding and block stack, returning the normalized hidden
// states and a cache.
func (b *BERT) encode(ids []int) (*Tensor, *BERTCache) {
	if len(ids) == 0 {
		panic("empty token sequence")
	}
	if len(ids) > b.config.SeqLen {
		panic(fmt.Sprintf("sequence length %d exceeds maximum %d", len(ids), b.config.SeqLen))
	}

	cache := &BERTCache{
		ids:         append([]int(nil), ids...),
		keyMask:     PaddingMask(ids, b.config.PadID),
		blockCaches: make([]*BlockCache, len(b.blocks)),
	}

	x := b.embed(ids)
	for i, blk := range b.blocks {
		x, cache.blockCaches[i] = blk.ForwardTrain(x, cache.keyMask)
	}

	cache.normInput = x
	cache.normed = b.normFinal.Forward(x)
	return cache.normed, cache
}

// Forward computes class logits for a token sequence: [1, numClasses]. The
// sequence is pooled at position 0, which is expected to hold [CLS].
func (b *BERT) Forward(ids []int) *Tensor {
	logits, _ := b.ForwardTrain(ids)
	return logits
}

// ForwardTrain computes class logits and keeps activations for Backward.
func (b *BERT) ForwardTrain(ids []int) (*Tensor, *BERTCache) {
	normed, cache := b.encode(ids)
	pooled := NewTensor(1, b.config.EmbedDim)
	copy(pooled.Data, normed.Data[:b.config.EmbedDim])
	return AddBias(MatMul(pooled, b.classHead), b.classBias), cache
}

// Backward propagates the class logit gradient through the model.
// gradLogits: [1, numClasses].
func (b *BERT) Backward(gradLogits *Tensor, cache *BERTCache) {
	b.classBias.AccumulateGrad(gradLogits.Reshape(b.config.NumClasses))

	pooled := NewTensor(1, b.config.EmbedDim)
	copy(pooled.Data, cache.normed.Data[:b.config.EmbedDim])

	gradPooled, gradHead := MatMulBackward(pooled, b.classHead, gradLogits)
	b.classHead.AccumulateGrad(gradHead)

	// Only the pooled position receives gradient from the classifier head.
	gradNormed := NewTensor(cache.normed.Shape...)
	copy(gradNormed.Data[:b.config.EmbedDim], gradPooled.Data)

	b.backwardEncoder(gradNormed, cache)
}

// ForwardMLM computes per-position vocabulary logits: [seqLen, vocabSize].
func (b *BERT) ForwardMLM(ids []int) (*Tensor, *BERTCache) {
	normed, cache := b.encode(ids)
	return MatMul(normed, b.mlmHead), cache
}

// BackwardMLM propagates the MLM logit gradient through the model.
func (b *BERT) BackwardMLM(gradLogits *Tensor, cache *BERTCache) {
	gradNormed, gradHead := MatMulBackward(cache.normed, b.mlmHead, gradLogits)
	b.mlmHead.AccumulateGrad(gradHead)
	b.backwardEncoder(gradNormed, cache)
}

func (b *BERT) backwardEncoder(gradNormed *Tensor, cache *BERTCache) {
	grad := b.normFinal.Backward(cache.normInput, gradNormed)

	for i := len(b.blocks) - 1; i >= 0; i-- {
		grad = b.blocks[i].Backward(grad, cache.blockCaches[i])
	}

	if b.tokenEmbed.Grad == nil {
		b.tokenEmbed.ZeroGrad()
	}
	if b.posEmbed.Grad == nil {
		b.posEmbed.ZeroGrad()
	}
	dim := b.config.EmbedDim
	for s, id := range cache.ids {
		for d := 0; d < dim; d++ {
			b.tokenEmbed.Grad[id*dim+d] += grad.Data[s*dim+d]
			b.posEmbed.Grad[s*dim+d] += grad.Data[s*dim+d]
		}
	}
}

// ApplyMLMMasking selects tokens for the masked-language-modeling objective
// and returns the corrupted sequence together with per-position labels.
// Each non-special token is chosen with probability MaskProb; of the chosen,
// 80% become [MASK], 10% a random token, 10% stay unchanged. Labels hold the
// original token at chosen positions and IgnoreIndex everywhere else.
func (b *BERT) ApplyMLMMasking(ids []int, rng *rand.Rand) (masked, labels []int) {
	masked = append([]int(nil), ids...)
	labels = make([]int, len(ids))

	for i, id := range ids {
		labels[i] = IgnoreIndex

		if id == b.config.PadID || id == b.config.ClsID || id == b.config.SepID {
			continue
		}
		if rng.Float64() >= b.config.MaskProb {
			continue
		}

		labels[i] = id
		switch r := rng.Float64(); {
		case r < 0.8:
			masked[i] = b.config.MaskID
		case r < 0.9:
			masked[i] = rng.Intn(b.config.VocabSize)
		}
	}

	return masked, labels
}

const bertMagic = "TFB1"

// Save writes the model's configuration and weights to path.
func (b *BERT) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create model file: %w", err)
	}
	defer f.Close()

	header, err := json.Marshal(b.config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if _, err := f.Write([]byte(bertMagic)); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, uint32(len(header))); err != nil {
		return fmt.Errorf("write header length: %w", err)
	}
	if _, err := f.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, p := range b.Parameters() {
		if err := binary.Write(f, binary.LittleEndian, p.Data); err != nil {
			return fmt.Errorf("write weights: %w", err)
		}
	}

	return nil
}

// LoadBERT reads a model previously written by Save.
func LoadBERT(path string) (*BERT, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model file: %w", err)
	}
	defer f.Close()

	magic := make([]byte, len(bertMagic))
	if _, err := io.ReadFull(f, magic); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if string(magic) != bertMagic {
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

	var config BERTConfig
	if err := json.Unmarshal(header, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	model := NewBERT(config)
	for _, p := range model.Parameters() {
		if err := binary.Read(f, binary.LittleEndian, p.Data); err != nil {
			return nil, fmt.Errorf("read weights: %w", err)
		}
	}

	return model, nil
}
