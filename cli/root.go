package cli

import (
	"github.com/spf13/cobra"

	"github.com/rishivishwanath/autocont/logging"
)

var (
	verbose bool
	logger  *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "autocont",
	Short: "Narrated short-video generator",
	Long: `Autocont turns a piece of text into a vertical short video.

The text is narrated by a speech provider, split into timed captions and
rendered over a looping background clip with a title and description.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger = logging.NewLogger(verbose)
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().
		BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
}
