package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mxngoc2104/thumbd/pkg/queue"
)

var (
	submitReplies int
	submitOutDir  string
)

var submitCmd = &cobra.Command{
	Use:   "submit <image-path>",
	Short: "Post a job and save the thumbnails streamed back",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmit,
}

func init() {
	submitCmd.Flags().IntVarP(&submitReplies, "replies", "n", 1, "thumbnails to collect before dropping the reply queue")
	submitCmd.Flags().StringVarP(&submitOutDir, "out", "o", "output/thumbs", "directory for received thumbnails")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(submitOutDir, 0o755); err != nil {
		return fmt.Errorf("cannot create output directory %s: %w", submitOutDir, err)
	}

	mq, err := queue.NewRabbitMQ(cfg.RabbitMQ(), queue.DialAMQP, logger)
	if err != nil {
		return err
	}
	defer mq.Close()

	base := filepath.Base(args[0])
	return mq.Submit(cmd.Context(), args[0], submitReplies, func(n int, body []byte) error {
		path := filepath.Join(submitOutDir, fmt.Sprintf("%s.%d.jpg", base, n))
		if err := os.WriteFile(path, body, 0o644); err != nil {
			return err
		}
		logger.Info("thumbnail received", "n", n, "bytes", len(body), "path", path)
		return nil
	})
}
