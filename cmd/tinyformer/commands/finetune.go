package commands

import (
	"fmt"
	"math/rand"

	"github.com/spf13/cobra"

	"tinyformer-go/tensor"
	"tinyformer-go/tinyformer"
	"tinyformer-go/tokenizer"
)

// finetune: sentiment / text classification with a BERT-style encoder.
func finetuneCmd() *cobra.Command {
	var (
		vocabPath string
		out       string
		vocabSize int

		seqLen    int
		embedDim  int
		numHeads  int
		numLayers int
		ffHidden  int

		epochs    int
		mlmEpochs int
		batchSize int
		lr        float64
		valFrac   float64
		seed      int64
	)

	cmd := &cobra.Command{
		Use:   "finetune <dataset.tsv>",
		Short: "Train a BERT-style classifier on labeled texts",
		Long: `Train a bidirectional encoder classifier on a tab-separated dataset with
one "<label>\t<text>" pair per line. A WordPiece vocabulary is learned from
the dataset unless --vocab points at an existing vocab file. With --mlm-epochs
the encoder is first pretrained with masked language modeling on the same
texts.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := tinyformer.LoadTSV(args[0])
			if err != nil {
				return err
			}

			var tok *tokenizer.WordPiece
			if vocabPath != "" {
				tok, err = tokenizer.LoadWordPiece(vocabPath)
				if err != nil {
					return err
				}
			} else {
				texts := make([]string, ds.Len())
				for i, ex := range ds.Examples {
					texts[i] = ex.Text
				}
				tok = tokenizer.TrainWordPiece(texts, vocabSize)
			}
			fmt.Printf("dataset: %d examples, %d classes, vocab %d\n", ds.Len(), ds.NumClasses(), tok.VocabSize())

			sp := tok.Specials()
			model := tensor.NewBERT(tensor.BERTConfig{
				VocabSize:  tok.VocabSize(),
				SeqLen:     seqLen,
				EmbedDim:   embedDim,
				NumHeads:   numHeads,
				NumLayers:  numLayers,
				FFHidden:   ffHidden,
				NumClasses: ds.NumClasses(),
				PadID:      sp.Pad,
				ClsID:      sp.CLS,
				SepID:      sp.SEP,
				MaskID:     sp.Mask,
				Seed:       seed,
			})

			ds.Shuffle(rand.New(rand.NewSource(seed)))
			train, val := ds.Split(valFrac)

			cfg := tinyformer.NewTrainConfig(
				tinyformer.WithEpochs(epochs),
				tinyformer.WithBatchSize(batchSize),
				tinyformer.WithLearningRate(lr),
				tinyformer.WithSeed(seed),
			)
			trainer := tinyformer.NewClassifierTrainer(model, tok, cfg)

			if mlmEpochs > 0 {
				mlmCfg := tinyformer.NewTrainConfig(
					tinyformer.WithEpochs(mlmEpochs),
					tinyformer.WithBatchSize(batchSize),
					tinyformer.WithLearningRate(lr),
					tinyformer.WithSeed(seed),
				)
				if err := tinyformer.NewClassifierTrainer(model, tok, mlmCfg).PretrainMLM(train); err != nil {
					return err
				}
			}

			if err := trainer.Train(train, val); err != nil {
				return err
			}

			if val.Len() > 0 {
				loss, acc := trainer.Evaluate(val)
				fmt.Printf("validation: loss=%.4f accuracy=%.2f%%\n", loss, acc*100)
			}

			if err := model.Save(out); err != nil {
				return err
			}
			if vocabPath == "" {
				if err := tok.Save(out + ".vocab"); err != nil {
					return err
				}
			}
			fmt.Printf("model saved to %s\n", out)
			return nil
		},
	}

	cmd.Flags().StringVar(&vocabPath, "vocab", "", "existing WordPiece vocab file (default: learn from dataset)")
	cmd.Flags().StringVar(&out, "out", "bert.bin", "output path for the trained model")
	cmd.Flags().IntVar(&vocabSize, "vocab-size", 4096, "vocabulary size when learning from the dataset")
	cmd.Flags().IntVar(&seqLen, "seq-len", 64, "maximum sequence length")
	cmd.Flags().IntVar(&embedDim, "embed-dim", 128, "embedding dimension")
	cmd.Flags().IntVar(&numHeads, "heads", 4, "attention heads per layer")
	cmd.Flags().IntVar(&numLayers, "layers", 2, "transformer blocks")
	cmd.Flags().IntVar(&ffHidden, "ff-hidden", 512, "feed-forward hidden size")
	cmd.Flags().IntVar(&epochs, "epochs", 3, "fine-tuning epochs")
	cmd.Flags().IntVar(&mlmEpochs, "mlm-epochs", 0, "masked-LM pretraining epochs before fine-tuning")
	cmd.Flags().IntVar(&batchSize, "batch-size", 8, "examples per optimizer step")
	cmd.Flags().Float64Var(&lr, "lr", 1e-4, "peak learning rate")
	cmd.Flags().Float64Var(&valFrac, "val-frac", 0.1, "fraction of examples held out for validation")
	cmd.Flags().Int64Var(&seed, "seed", 42, "random seed")
	return cmd
}
