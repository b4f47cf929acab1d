package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"tinyformer-go/tensor"
	"tinyformer-go/tokenizer"
	"tinyformer-go/visualize"
)

// embed: project a model's token embeddings to 2D for plotting.
func embedCmd() *cobra.Command {
	var (
		modelPath string
		tokPath   string
		out       string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Project token embeddings to 2D with PCA and write them as TSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			model, err := tensor.LoadGPT(modelPath)
			if err != nil {
				return err
			}
			bpe, err := tokenizer.LoadByteBPE(tokPath)
			if err != nil {
				return err
			}

			embeds := model.TokenEmbeddings()
			n := embeds.Shape[0]
			if limit > 0 && limit < n {
				n = limit
			}

			subset := tensor.NewTensor(n, embeds.Shape[1])
			copy(subset.Data, embeds.Data[:n*embeds.Shape[1]])

			coords, err := visualize.PCA(subset, 2)
			if err != nil {
				return err
			}

			labels := make([]string, n)
			for i := 0; i < n; i++ {
				labels[i] = fmt.Sprintf("%q", bpe.Decode([]int{i}))
			}

			if err := visualize.WriteTSV(out, labels, coords); err != nil {
				return err
			}
			fmt.Printf("wrote %d points to %s\n", n, out)
			return nil
		},
	}

	cmd.Flags().StringVar(&modelPath, "model", "gpt.bin", "path to the trained model")
	cmd.Flags().StringVar(&tokPath, "tokenizer", "tokenizer.json", "path to the trained tokenizer")
	cmd.Flags().StringVar(&out, "out", "embeddings.tsv", "output TSV path")
	cmd.Flags().IntVar(&limit, "limit", 0, "project only the first N tokens (0 = all)")
	return cmd
}
