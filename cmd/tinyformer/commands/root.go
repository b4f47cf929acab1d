package commands

import (
	"github.com/spf13/cobra"
)

// Execute builds the command tree and runs it.
func Execute() error {
	root := &cobra.Command{
		Use:           "tinyformer",
		Short:         "Train and run small transformer models from scratch",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(
		tokenizeCmd(),
		trainCmd(),
		generateCmd(),
		finetuneCmd(),
		evalCmd(),
		perplexityCmd(),
		embedCmd(),
	)
	return root.Execute()
}
