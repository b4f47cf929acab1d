package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tinyformer-go/tokenizer"
)

// tokenize: train a byte-level BPE tokenizer or run one over text.
func tokenizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokenize",
		Short: "Train or apply a byte-level BPE tokenizer",
	}
	cmd.AddCommand(tokenizeTrainCmd(), tokenizeEncodeCmd())
	return cmd
}

func tokenizeTrainCmd() *cobra.Command {
	var (
		vocabSize int
		out       string
	)

	cmd := &cobra.Command{
		Use:   "train <corpus.txt>",
		Short: "Learn BPE merges from a text corpus",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read corpus: %w", err)
			}

			bpe := tokenizer.NewByteBPE()
			bpe.Train(string(data), vocabSize)

			if err := bpe.Save(out); err != nil {
				return err
			}
			fmt.Printf("trained tokenizer: vocab size %d, saved to %s\n", bpe.VocabSize(), out)
			return nil
		},
	}

	cmd.Flags().IntVar(&vocabSize, "vocab-size", 512, "target vocabulary size (min 256)")
	cmd.Flags().StringVar(&out, "out", "tokenizer.json", "output path for the learned merges")
	return cmd
}

func tokenizeEncodeCmd() *cobra.Command {
	var (
		tokPath string
		hfPath  string
	)

	cmd := &cobra.Command{
		Use:   "encode <text>",
		Short: "Encode text with a trained tokenizer and print the ids",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := openTokenizer(hfPath, tokPath)
			if err != nil {
				return err
			}
			defer closeTokenizer(tok)

			ids := tok.Encode(args[0])
			fmt.Println(ids)
			fmt.Printf("round trip: %q\n", tok.Decode(ids))
			return nil
		},
	}

	cmd.Flags().StringVar(&tokPath, "tokenizer", "tokenizer.json", "path to the trained tokenizer")
	cmd.Flags().StringVar(&hfPath, "hf", "", "use a HuggingFace tokenizer.json instead of the trained BPE")
	return cmd
}
