package mmbridge

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dteixeira/mmbridge/pkg/config"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the configuration and environment",
	RunE:  runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		path = config.DefaultConfigPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Printf("✗ config: %v\n", err)
		return err
	}
	fmt.Printf("✓ config loaded (%s)\n", path)

	if cfg.Channels.QQ.Enabled {
		fmt.Println("✓ qq channel enabled")
		if cfg.Channels.QQ.MediaUploadCommand == "" {
			fmt.Println("  note: channels.qq.media_upload_command not set; outbound media will degrade to text notices")
		}
	}
	if cfg.Channels.Feishu.Enabled {
		fmt.Println("✓ feishu channel enabled")
	}
	if !cfg.Channels.QQ.Enabled && !cfg.Channels.Feishu.Enabled {
		fmt.Println("✗ no channels enabled")
	}

	if key := os.Getenv(cfg.Model.APIKeyEnv); key == "" {
		fmt.Printf("✗ model API key env %s is empty\n", cfg.Model.APIKeyEnv)
	} else {
		fmt.Printf("✓ model API key present (%s)\n", cfg.Model.APIKeyEnv)
	}

	if cfg.Recall.RecentImageLimit == 0 {
		fmt.Println("  note: recall.recent_image_limit = 0; image recall disabled")
	} else {
		fmt.Printf("✓ image recall enabled (limit %d)\n", cfg.Recall.RecentImageLimit)
	}

	return nil
}
