package tinyformer

import (
	"fmt"
	"log"
	"math"
	"math/rand"

	"github.com/schollz/progressbar/v3"

	"tinyformer-go/tensor"
	"tinyformer-go/tokenizer"
)

// ClassifierTokenizer is what the classifier pipelines need from a
// tokenizer: encoding plus the ids of the reserved tokens. WordPiece
// satisfies it directly; HFTokenizer does after SetSpecials.
type ClassifierTokenizer interface {
	tokenizer.Tokenizer
	Specials() tokenizer.Specials
}

// ClassifierTrainer fine-tunes a bidirectional encoder on labeled texts.
type ClassifierTrainer struct {
	model *tensor.BERT
	tok   ClassifierTokenizer
	cfg   *TrainConfig
	opt   *AdamW
	cache *encodingCache
	rng   *rand.Rand
}

// NewClassifierTrainer wires a model, tokenizer and config together.
func NewClassifierTrainer(model *tensor.BERT, tok ClassifierTokenizer, cfg *TrainConfig) *ClassifierTrainer {
	return &ClassifierTrainer{
		model: model,
		tok:   tok,
		cfg:   cfg,
		opt:   NewAdamW(cfg.WeightDecay),
		cache: newEncodingCache(),
		rng:   rand.New(rand.NewSource(cfg.Seed)),
	}
}

// encode turns text into a fixed-length id sequence: [CLS], the truncated
// piece ids, [SEP], then padding.
func (t *ClassifierTrainer) encode(text string) []int {
	ids, ok := t.cache.get(text)
	if !ok {
		ids = t.tok.Encode(text)
		t.cache.put(text, ids)
	}

	sp := t.tok.Specials()
	seqLen := t.model.Config().SeqLen

	if len(ids) > seqLen-2 {
		ids = ids[:seqLen-2]
	}

	out := make([]int, 0, seqLen)
	out = append(out, sp.CLS)
	out = append(out, ids...)
	out = append(out, sp.SEP)
	for len(out) < seqLen {
		out = append(out, sp.Pad)
	}
	return out
}

// Train runs the fine-tuning loop. After each epoch the validation set, if
// non-empty, is scored and logged.
func (t *ClassifierTrainer) Train(train, val *Dataset) error {
	if train.Len() == 0 {
		return fmt.Errorf("training set is empty")
	}
	if classes := train.NumClasses(); classes > t.model.Config().NumClasses {
		return fmt.Errorf("dataset has %d classes but model was built for %d", classes, t.model.Config().NumClasses)
	}

	params := t.model.Parameters()
	stepsPerEpoch := (train.Len() + t.cfg.BatchSize - 1) / t.cfg.BatchSize
	sched := NewSchedule(t.cfg, stepsPerEpoch*t.cfg.Epochs)
	window := newLossWindow(t.cfg.LogEvery)

	step := 0
	for epoch := 1; epoch <= t.cfg.Epochs; epoch++ {
		train.Shuffle(t.rng)

		bar := progressbar.NewOptions(train.Len(),
			progressbar.OptionSetDescription(fmt.Sprintf("epoch %d/%d", epoch, t.cfg.Epochs)),
			progressbar.OptionSetWidth(30),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
		)

		for start := 0; start < train.Len(); start += t.cfg.BatchSize {
			end := start + t.cfg.BatchSize
			if end > train.Len() {
				end = train.Len()
			}
			batch := train.Examples[start:end]

			zeroGrads(params)
			batchLoss := 0.0

			for _, ex := range batch {
				ids := t.encode(ex.Text)
				logits, cache := t.model.ForwardTrain(ids)

				loss := tensor.CrossEntropyLoss(logits, []int{ex.Label})
				batchLoss += float64(loss)

				grad := tensor.CrossEntropyBackward(logits, []int{ex.Label})
				t.model.Backward(tensor.Scale(grad, 1.0/float32(len(batch))), cache)
			}

			batchLoss /= float64(len(batch))
			window.Record(batchLoss)

			gradNorm := ClipGradients(params, t.cfg.ClipNorm)
			lr := sched.LR(step)
			t.opt.Step(params, lr)
			step++

			bar.Add(len(batch))
			if step%t.cfg.LogEvery == 0 {
				log.Printf("epoch=%d step=%d lr=%.2e loss=%.4f grad_norm=%.2f", epoch, step, lr, window.Mean(), gradNorm)
			}
		}
		bar.Finish()

		if val.Len() > 0 {
			loss, acc := t.Evaluate(val)
			log.Printf("epoch=%d val_loss=%.4f val_acc=%.2f%%", epoch, loss, acc*100)
		}
	}

	return nil
}

// Evaluate scores the model on a dataset, returning mean loss and accuracy.
func (t *ClassifierTrainer) Evaluate(ds *Dataset) (loss, accuracy float64) {
	if ds.Len() == 0 {
		return 0, 0
	}

	correct := 0
	for _, ex := range ds.Examples {
		ids := t.encode(ex.Text)
		logits := t.model.Forward(ids)

		loss += float64(tensor.CrossEntropyLoss(logits, []int{ex.Label}))
		if tensor.Argmax(logits.Row(0)) == ex.Label {
			correct++
		}
	}

	return loss / float64(ds.Len()), float64(correct) / float64(ds.Len())
}

// PerClassCounts tallies evaluation results by true label: total[c] is the
// number of examples labeled c, correct[c] how many of them the model got
// right. Slices cover both the model's classes and any higher labels the
// dataset carries.
func (t *ClassifierTrainer) PerClassCounts(ds *Dataset) (total, correct []int) {
	classes := t.model.Config().NumClasses
	// Labels beyond the model's head still get tallied (never as correct).
	if n := ds.NumClasses(); n > classes {
		classes = n
	}
	total = make([]int, classes)
	correct = make([]int, classes)

	for _, ex := range ds.Examples {
		ids := t.encode(ex.Text)
		logits := t.model.Forward(ids)

		total[ex.Label]++
		if tensor.Argmax(logits.Row(0)) == ex.Label {
			correct[ex.Label]++
		}
	}

	return total, correct
}

// Predict classifies a single text, returning the label and the class
// probabilities.
func (t *ClassifierTrainer) Predict(text string) (int, []float32) {
	ids := t.encode(text)
	logits := t.model.Forward(ids)
	probs := tensor.Softmax(logits)
	return tensor.Argmax(probs.Row(0)), probs.Row(0)
}

// PretrainMLM runs masked-language-model pretraining over the dataset's
// texts, ignoring labels. Each text is corrupted fresh every epoch.
func (t *ClassifierTrainer) PretrainMLM(ds *Dataset) error {
	if ds.Len() == 0 {
		return fmt.Errorf("pretraining set is empty")
	}

	params := t.model.Parameters()
	stepsPerEpoch := (ds.Len() + t.cfg.BatchSize - 1) / t.cfg.BatchSize
	sched := NewSchedule(t.cfg, stepsPerEpoch*t.cfg.Epochs)
	window := newLossWindow(t.cfg.LogEvery)

	step := 0
	for epoch := 1; epoch <= t.cfg.Epochs; epoch++ {
		ds.Shuffle(t.rng)

		bar := progressbar.NewOptions(ds.Len(),
			progressbar.OptionSetDescription(fmt.Sprintf("mlm epoch %d/%d", epoch, t.cfg.Epochs)),
			progressbar.OptionSetWidth(30),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
		)

		for start := 0; start < ds.Len(); start += t.cfg.BatchSize {
			end := start + t.cfg.BatchSize
			if end > ds.Len() {
				end = ds.Len()
			}
			batch := ds.Examples[start:end]

			zeroGrads(params)
			batchLoss := 0.0

			for _, ex := range batch {
				ids := t.encode(ex.Text)
				masked, labels := t.model.ApplyMLMMasking(ids, t.rng)

				logits, cache := t.model.ForwardMLM(masked)
				loss := tensor.CrossEntropyLoss(logits, labels)
				batchLoss += float64(loss)

				grad := tensor.CrossEntropyBackward(logits, labels)
				t.model.BackwardMLM(tensor.Scale(grad, 1.0/float32(len(batch))), cache)
			}

			batchLoss /= float64(len(batch))
			window.Record(batchLoss)

			gradNorm := ClipGradients(params, t.cfg.ClipNorm)
			lr := sched.LR(step)
			t.opt.Step(params, lr)
			step++

			bar.Add(len(batch))
			if step%t.cfg.LogEvery == 0 {
				log.Printf("mlm epoch=%d step=%d lr=%.2e loss=%.4f grad_norm=%.2f", epoch, step, lr, window.Mean(), gradNorm)
			}
		}
		bar.Finish()
	}

	return nil
}

// LMTrainer trains a decoder-only language model on a token stream.
type LMTrainer struct {
	model *tensor.GPT
	cfg   *TrainConfig
	opt   *AdamW
	rng   *rand.Rand
}

// NewLMTrainer wires a model and config together.
func NewLMTrainer(model *tensor.GPT, cfg *TrainConfig) *LMTrainer {
	return &LMTrainer{
		model: model,
		cfg:   cfg,
		opt:   NewAdamW(cfg.WeightDecay),
		rng:   rand.New(rand.NewSource(cfg.Seed)),
	}
}

// windows cuts the token stream into non-overlapping training windows of
// seqLen+1 tokens (input plus shifted target).
func (t *LMTrainer) windows(tokens []int) [][]int {
	seqLen := t.model.Config().SeqLen
	var out [][]int
	for start := 0; start+seqLen+1 <= len(tokens); start += seqLen {
		out = append(out, tokens[start:start+seqLen+1])
	}
	return out
}

// Train runs next-token training over the stream. Windows are revisited in a
// fresh random order each epoch.
func (t *LMTrainer) Train(tokens []int) error {
	windows := t.windows(tokens)
	if len(windows) == 0 {
		return fmt.Errorf("token stream too short: need at least %d tokens, got %d", t.model.Config().SeqLen+1, len(tokens))
	}

	params := t.model.Parameters()
	stepsPerEpoch := (len(windows) + t.cfg.BatchSize - 1) / t.cfg.BatchSize
	sched := NewSchedule(t.cfg, stepsPerEpoch*t.cfg.Epochs)
	window := newLossWindow(t.cfg.LogEvery)

	step := 0
	for epoch := 1; epoch <= t.cfg.Epochs; epoch++ {
		t.rng.Shuffle(len(windows), func(i, j int) {
			windows[i], windows[j] = windows[j], windows[i]
		})

		bar := progressbar.NewOptions(len(windows),
			progressbar.OptionSetDescription(fmt.Sprintf("epoch %d/%d", epoch, t.cfg.Epochs)),
			progressbar.OptionSetWidth(30),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
		)

		for start := 0; start < len(windows); start += t.cfg.BatchSize {
			end := start + t.cfg.BatchSize
			if end > len(windows) {
				end = len(windows)
			}
			batch := windows[start:end]

			zeroGrads(params)
			batchLoss := 0.0

			for _, w := range batch {
				input, targets := w[:len(w)-1], w[1:]

				logits, cache := t.model.ForwardTrain(input)
				loss := tensor.CrossEntropyLoss(logits, targets)
				batchLoss += float64(loss)

				grad := tensor.CrossEntropyBackward(logits, targets)
				t.model.Backward(tensor.Scale(grad, 1.0/float32(len(batch))), cache)
			}

			batchLoss /= float64(len(batch))
			window.Record(batchLoss)

			gradNorm := ClipGradients(params, t.cfg.ClipNorm)
			lr := sched.LR(step)
			t.opt.Step(params, lr)
			step++

			bar.Add(len(batch))
			if step%t.cfg.LogEvery == 0 {
				log.Printf("epoch=%d step=%d lr=%.2e loss=%.4f grad_norm=%.2f", epoch, step, lr, window.Mean(), gradNorm)
			}
		}
		bar.Finish()
	}

	return nil
}

// Evaluate computes mean next-token loss and perplexity over the stream.
func (t *LMTrainer) Evaluate(tokens []int) (loss, perplexity float64) {
	windows := t.windows(tokens)
	if len(windows) == 0 {
		return 0, math.Inf(1)
	}

	for _, w := range windows {
		input, targets := w[:len(w)-1], w[1:]
		logits := t.model.Forward(input)
		loss += float64(tensor.CrossEntropyLoss(logits, targets))
	}

	loss /= float64(len(windows))
	return loss, math.Exp(loss)
}
