package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/bryanchriswhite/CamStreamer/internal/camera"
	"github.com/bryanchriswhite/CamStreamer/internal/framebuffer"
	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Capture a single photo",
	Long: `Open the camera, let it warm up, capture one JPEG and close it again.

Uses the camera settings from the configuration (resolution, rotation,
quality and warm-up time). Do not run this while the server has the
camera open.`,
	Example: `  # Save a photo to photo.jpg
  camstreamer snapshot

  # Save to a custom path
  camstreamer snapshot -o /tmp/door.jpg

  # Capture from a specific device
  camstreamer snapshot --device /dev/video2`,
	RunE: runSnapshot,
}

var (
	snapshotOutput  string
	snapshotTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(snapshotCmd)

	snapshotCmd.Flags().StringVarP(&snapshotOutput, "output", "o", "photo.jpg", "output file")
	snapshotCmd.Flags().DurationVar(&snapshotTimeout, "timeout", 30*time.Second, "give up after this long")
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()

	driver, err := openDriver(cfg)
	if err != nil {
		return err
	}

	cam := camera.NewController(driver, framebuffer.New(), camera.OptionsFromConfig(cfg.Camera))

	ctx, cancel := context.WithTimeout(cmd.Context(), snapshotTimeout)
	defer cancel()

	frame, err := cam.CapturePhoto(ctx)
	if err != nil {
		return fmt.Errorf("failed to capture photo: %w", err)
	}
	if frame.IsEmpty() {
		return errors.New("camera returned no image")
	}

	if err := os.WriteFile(snapshotOutput, frame.Data, 0644); err != nil {
		return fmt.Errorf("failed to write photo: %w", err)
	}

	fmt.Printf("✅ Saved %d bytes to %s\n", len(frame.Data), snapshotOutput)
	return nil
}
