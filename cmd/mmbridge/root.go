package mmbridge

import (
	"fmt"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "mmbridge",
	Short: "mmbridge - a multimodal bridge between chat platforms and a vision model",
	Long:  "mmbridge connects QQ and Feishu to a multimodal language model, keeping a durable per-conversation history so media can be recalled across turns.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.mmbridge/mmbridge.toml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(doctorCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of mmbridge",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mmbridge v%s\n", version)
	},
}
