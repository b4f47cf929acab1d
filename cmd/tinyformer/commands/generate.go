package commands

import (
	"fmt"
	"math/rand"

	"github.com/spf13/cobra"

	"tinyformer-go/tensor"
)

// generate: sample a continuation from a trained language model.
func generateCmd() *cobra.Command {
	var (
		modelPath string
		tokPath   string
		hfPath    string

		maxTokens   int
		temperature float64
		topK        int
		topP        float64
		seed        int64
	)

	cmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Generate text from a trained language model",
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

			prompt := tok.Encode(args[0])
			if len(prompt) == 0 {
				return fmt.Errorf("prompt encoded to zero tokens")
			}

			rng := rand.New(rand.NewSource(seed))
			out := model.Generate(prompt, maxTokens, -1, tensor.SampleConfig{
				Temperature: temperature,
				TopK:        topK,
				TopP:        topP,
			}, rng)

			fmt.Println(tok.Decode(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&modelPath, "model", "gpt.bin", "path to the trained model")
	cmd.Flags().StringVar(&tokPath, "tokenizer", "tokenizer.json", "path to the trained tokenizer")
	cmd.Flags().StringVar(&hfPath, "hf", "", "use a HuggingFace tokenizer.json instead of the trained BPE")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 100, "maximum tokens to generate")
	cmd.Flags().Float64Var(&temperature, "temperature", 0.8, "sampling temperature (0 = greedy)")
	cmd.Flags().IntVar(&topK, "top-k", 0, "keep only the k most likely tokens (0 = off)")
	cmd.Flags().Float64Var(&topP, "top-p", 0, "nucleus sampling threshold (0 = off)")
	cmd.Flags().Int64Var(&seed, "seed", 42, "random seed")
	return cmd
}
