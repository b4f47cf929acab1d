package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tinyformer-go/tensor"
	"tinyformer-go/tinyformer"
	"tinyformer-go/tokenizer"
)

// eval: score a trained classifier on a labeled dataset.
func evalCmd() *cobra.Command {
	var (
		modelPath string
		vocabPath string
	)

	cmd := &cobra.Command{
		Use:   "eval <dataset.tsv>",
		Short: "Evaluate a trained classifier on a labeled dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := tinyformer.LoadTSV(args[0])
			if err != nil {
				return err
			}
			model, err := tensor.LoadBERT(modelPath)
			if err != nil {
				return err
			}
			tok, err := tokenizer.LoadWordPiece(vocabPath)
			if err != nil {
				return err
			}

			trainer := tinyformer.NewClassifierTrainer(model, tok, tinyformer.NewTrainConfig())
			loss, acc := trainer.Evaluate(ds)
			fmt.Printf("examples=%d loss=%.4f accuracy=%.2f%%\n", ds.Len(), loss, acc*100)

			total, correct := trainer.PerClassCounts(ds)
			for c := range total {
				if total[c] == 0 {
					continue
				}
				fmt.Printf("class=%d examples=%d correct=%d accuracy=%.2f%%\n",
					c, total[c], correct[c], float64(correct[c])/float64(total[c])*100)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&modelPath, "model", "bert.bin", "path to the trained model")
	cmd.Flags().StringVar(&vocabPath, "vocab", "bert.bin.vocab", "path to the WordPiece vocab file")
	return cmd
}

// perplexity: score a trained language model on a text corpus.
func perplexityCmd() *cobra.Command {
	var (
		modelPath string
		tokPath   string
		hfPath    string
	)

	cmd := &cobra.Command{
		Use:   "perplexity <corpus.txt>",
		Short: "Compute a language model's perplexity over a text corpus",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			model, err := tensor.LoadGPT(modelPath)
			if err != nil {
				return err
			}
			tok, err := openTokenizer(hfPath, tokPath)
			if err != nil {
				return err
			}
			defer closeTokenizer(tok)

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read corpus: %w", err)
			}
			tokens := tok.Encode(string(data))

			lm := tinyformer.NewLMTrainer(model, tinyformer.NewTrainConfig())
			loss, ppl := lm.Evaluate(tokens)
			fmt.Printf("tokens=%d loss=%.4f perplexity=%.2f\n", len(tokens), loss, ppl)
			return nil
		},
	}

	cmd.Flags().StringVar(&modelPath, "model", "gpt.bin", "path to the trained model")
	cmd.Flags().StringVar(&tokPath, "tokenizer", "tokenizer.json", "path to the trained tokenizer")
	cmd.Flags().StringVar(&hfPath, "hf", "", "use a HuggingFace tokenizer.json instead of the trained BPE")
	return cmd
}
