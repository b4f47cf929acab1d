package tinyformer

import (
	"math"
	"testing"

	"tinyformer-go/tensor"
	"tinyformer-go/tokenizer"
)

func tinyClassifierSetup(numClasses int) (*tensor.BERT, *tokenizer.WordPiece) {
	texts := []string{
		"great movie loved it",
		"wonderful acting great story",
		"terrible film hated it",
		"awful boring waste",
	}
	tok := tokenizer.TrainWordPiece(texts, 128)
	sp := tok.Specials()

	model := tensor.NewBERT(tensor.BERTConfig{
		VocabSize:  tok.VocabSize(),
		SeqLen:     16,
		EmbedDim:   32,
		NumHeads:   2,
		NumLayers:  1,
		FFHidden:   64,
		NumClasses: numClasses,
		PadID:      sp.Pad,
		ClsID:      sp.CLS,
		SepID:      sp.SEP,
		MaskID:     sp.Mask,
		Seed:       5,
	})
	return model, tok
}

func sentimentDataset() *Dataset {
	return &Dataset{Examples: []Example{
		{Text: "great movie loved it", Label: 1},
		{Text: "wonderful acting great story", Label: 1},
		{Text: "terrible film hated it", Label: 0},
		{Text: "awful boring waste", Label: 0},
	}}
}

func TestClassifierOverfitsTinyDataset(t *testing.T) {
	model, tok := tinyClassifierSetup(2)
	ds := sentimentDataset()

	cfg := NewTrainConfig(
		WithEpochs(40),
		WithBatchSize(2),
		WithLearningRate(1e-3),
		WithWarmupSteps(5),
		WithLogEvery(1000),
	)
	trainer := NewClassifierTrainer(model, tok, cfg)

	lossBefore, _ := trainer.Evaluate(ds)
	if err := trainer.Train(ds, &Dataset{}); err != nil {
		t.Fatalf("train: %v", err)
	}
	lossAfter, acc := trainer.Evaluate(ds)

	if lossAfter >= lossBefore {
		t.Errorf("loss did not decrease: %v -> %v", lossBefore, lossAfter)
	}
	if acc < 0.75 {
		t.Errorf("expected the model to mostly memorize 4 examples, accuracy %v", acc)
	}
}

// The classifier pipeline accepts any tokenizer that can report its reserved
// token ids, not just WordPiece.
var (
	_ ClassifierTokenizer = (*tokenizer.WordPiece)(nil)
	_ ClassifierTokenizer = (*tokenizer.HFTokenizer)(nil)
)

type stubTokenizer struct{}

func (stubTokenizer) Encode(text string) []int {
	var ids []int
	for _, r := range text {
		ids = append(ids, 5+int(r)%27)
	}
	return ids
}

func (stubTokenizer) Decode(ids []int) string { return "" }
func (stubTokenizer) VocabSize() int          { return 32 }
func (stubTokenizer) Specials() tokenizer.Specials {
	return tokenizer.Specials{Pad: 0, Unk: 1, CLS: 2, SEP: 3, Mask: 4}
}

func TestClassifierTrainerAcceptsAnyTokenizer(t *testing.T) {
	model := tensor.NewBERT(tensor.BERTConfig{
		VocabSize:  32,
		SeqLen:     16,
		EmbedDim:   16,
		NumHeads:   2,
		NumLayers:  1,
		FFHidden:   32,
		NumClasses: 2,
		PadID:      0,
		ClsID:      2,
		SepID:      3,
		MaskID:     4,
		Seed:       8,
	})
	trainer := NewClassifierTrainer(model, stubTokenizer{}, NewTrainConfig(WithLogEvery(1000)))

	label, probs := trainer.Predict("any text at all")
	if label < 0 || label >= 2 {
		t.Errorf("label %d out of range", label)
	}
	sum := float64(0)
	for _, p := range probs {
		sum += float64(p)
	}
	if math.Abs(sum-1.0) > 1e-5 {
		t.Errorf("probabilities sum to %v, expected 1", sum)
	}
}

func TestClassifierEvaluateEmptyDataset(t *testing.T) {
	model, tok := tinyClassifierSetup(2)
	trainer := NewClassifierTrainer(model, tok, NewTrainConfig())

	loss, acc := trainer.Evaluate(&Dataset{})
	if loss != 0 || acc != 0 {
		t.Errorf("empty dataset should score (0, 0), got (%v, %v)", loss, acc)
	}
}

func TestPerClassCounts(t *testing.T) {
	model, tok := tinyClassifierSetup(2)
	ds := sentimentDataset()
	trainer := NewClassifierTrainer(model, tok, NewTrainConfig())

	total, correct := trainer.PerClassCounts(ds)

	if len(total) != 2 || len(correct) != 2 {
		t.Fatalf("expected 2 classes, got %d/%d", len(total), len(correct))
	}
	if total[0] != 2 || total[1] != 2 {
		t.Errorf("per-class totals %v, expected [2 2]", total)
	}

	sumCorrect := 0
	for c := range total {
		if correct[c] < 0 || correct[c] > total[c] {
			t.Errorf("class %d: correct %d outside [0, %d]", c, correct[c], total[c])
		}
		sumCorrect += correct[c]
	}

	_, acc := trainer.Evaluate(ds)
	if got := float64(sumCorrect) / float64(ds.Len()); got != acc {
		t.Errorf("per-class counts give accuracy %v, Evaluate reports %v", got, acc)
	}
}

func TestClassifierPredict(t *testing.T) {
	model, tok := tinyClassifierSetup(2)
	trainer := NewClassifierTrainer(model, tok, NewTrainConfig())

	label, probs := trainer.Predict("great movie")

	if label < 0 || label >= 2 {
		t.Errorf("label %d out of range", label)
	}
	sum := float64(0)
	for _, p := range probs {
		sum += float64(p)
	}
	if math.Abs(sum-1.0) > 1e-5 {
		t.Errorf("probabilities sum to %v, expected 1", sum)
	}
}

func TestClassifierRejectsTooManyClasses(t *testing.T) {
	model, tok := tinyClassifierSetup(2)
	trainer := NewClassifierTrainer(model, tok, NewTrainConfig(WithLogEvery(1000)))

	ds := &Dataset{Examples: []Example{{Text: "x", Label: 5}}}
	if err := trainer.Train(ds, &Dataset{}); err == nil {
		t.Error("expected error when dataset labels exceed model classes")
	}
}

func TestPretrainMLMRuns(t *testing.T) {
	model, tok := tinyClassifierSetup(2)
	ds := sentimentDataset()

	cfg := NewTrainConfig(WithEpochs(2), WithBatchSize(2), WithLogEvery(1000))
	trainer := NewClassifierTrainer(model, tok, cfg)

	if err := trainer.PretrainMLM(ds); err != nil {
		t.Fatalf("mlm pretraining: %v", err)
	}
}

func TestLMTrainerWindows(t *testing.T) {
	model := tensor.NewGPT(tensor.Config{
		VocabSize: 16, SeqLen: 4, EmbedDim: 8, NumHeads: 2, NumLayers: 1, FFHidden: 16, Seed: 1,
	})
	trainer := NewLMTrainer(model, NewTrainConfig())

	tokens := []int{1, 2, 3, 4, 5, 6, 7, 8, 9}
	windows := trainer.windows(tokens)

	if len(windows) != 2 {
		t.Fatalf("got %d windows, expected 2", len(windows))
	}
	for _, w := range windows {
		if len(w) != 5 {
			t.Errorf("window length %d, expected seqLen+1 = 5", len(w))
		}
	}
}

func TestLMTrainerTooShort(t *testing.T) {
	model := tensor.NewGPT(tensor.Config{
		VocabSize: 16, SeqLen: 8, EmbedDim: 8, NumHeads: 2, NumLayers: 1, FFHidden: 16, Seed: 1,
	})
	trainer := NewLMTrainer(model, NewTrainConfig())

	if err := trainer.Train([]int{1, 2, 3}); err == nil {
		t.Error("expected error on a stream shorter than one window")
	}
}

func TestLMTrainerReducesLoss(t *testing.T) {
	model := tensor.NewGPT(tensor.Config{
		VocabSize: 8, SeqLen: 4, EmbedDim: 16, NumHeads: 2, NumLayers: 1, FFHidden: 32, Seed: 2,
	})

	// Strictly periodic stream, trivially learnable.
	var tokens []int
	for i := 0; i < 100; i++ {
		tokens = append(tokens, i%4)
	}

	cfg := NewTrainConfig(
		WithEpochs(10),
		WithBatchSize(4),
		WithLearningRate(3e-3),
		WithWarmupSteps(5),
		WithLogEvery(1000),
	)
	trainer := NewLMTrainer(model, cfg)

	lossBefore, _ := trainer.Evaluate(tokens)
	if err := trainer.Train(tokens); err != nil {
		t.Fatalf("train: %v", err)
	}
	lossAfter, ppl := trainer.Evaluate(tokens)

	if lossAfter >= lossBefore {
		t.Errorf("loss did not decrease: %v -> %v", lossBefore, lossAfter)
	}
	if math.Abs(ppl-math.Exp(lossAfter)) > 1e-6 {
		t.Errorf("perplexity %v inconsistent with loss %v", ppl, lossAfter)
	}
}
