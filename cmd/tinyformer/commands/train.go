package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tinyformer-go/tensor"
	"tinyformer-go/tinyformer"
)

// train: next-token language model training on a raw text corpus.
func trainCmd() *cobra.Command {
	var (
		tokPath string
		hfPath  string
		out     string

		seqLen    int
		embedDim  int
		numHeads  int
		numLayers int
		ffHidden  int

		epochs    int
		batchSize int
		lr        float64
		warmup    int
		seed      int64
	)

	cmd := &cobra.Command{
		Use:   "train <corpus.txt>",
		Short: "Train a GPT-style language model on a text corpus",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read corpus: %w", err)
			}

			tok, err := openTokenizer(hfPath, tokPath)
			if err != nil {
				return err
			}
			defer closeTokenizer(tok)

			tokens := tok.Encode(string(data))
			fmt.Printf("corpus: %d bytes, %d tokens\n", len(data), len(tokens))

			model := tensor.NewGPT(tensor.Config{
				VocabSize: tok.VocabSize(),
				SeqLen:    seqLen,
				EmbedDim:  embedDim,
				NumHeads:  numHeads,
				NumLayers: numLayers,
				FFHidden:  ffHidden,
				Seed:      seed,
			})

			cfg := tinyformer.NewTrainConfig(
				tinyformer.WithEpochs(epochs),
				tinyformer.WithBatchSize(batchSize),
				tinyformer.WithLearningRate(lr),
				tinyformer.WithWarmupSteps(warmup),
				tinyformer.WithSeed(seed),
			)

			trainer := tinyformer.NewLMTrainer(model, cfg)
			if err := trainer.Train(tokens); err != nil {
				return err
			}

			loss, ppl := trainer.Evaluate(tokens)
			fmt.Printf("final: loss=%.4f perplexity=%.2f\n", loss, ppl)

			if err := model.Save(out); err != nil {
				return err
			}
			fmt.Printf("model saved to %s\n", out)
			return nil
		},
	}

	cmd.Flags().StringVar(&tokPath, "tokenizer", "tokenizer.json", "path to the trained tokenizer")
	cmd.Flags().StringVar(&hfPath, "hf", "", "use a HuggingFace tokenizer.json instead of the trained BPE")
	cmd.Flags().StringVar(&out, "out", "gpt.bin", "output path for the trained model")
	cmd.Flags().IntVar(&seqLen, "seq-len", 64, "context window length")
	cmd.Flags().IntVar(&embedDim, "embed-dim", 128, "embedding dimension")
	cmd.Flags().IntVar(&numHeads, "heads", 4, "attention heads per layer")
	cmd.Flags().IntVar(&numLayers, "layers", 4, "transformer blocks")
	cmd.Flags().IntVar(&ffHidden, "ff-hidden", 512, "feed-forward hidden size")
	cmd.Flags().IntVar(&epochs, "epochs", 5, "training epochs")
	cmd.Flags().IntVar(&batchSize, "batch-size", 8, "windows per optimizer step")
	cmd.Flags().Float64Var(&lr, "lr", 3e-4, "peak learning rate")
	cmd.Flags().IntVar(&warmup, "warmup", 50, "warmup steps")
	cmd.Flags().Int64Var(&seed, "seed", 42, "random seed")
	return cmd
}
