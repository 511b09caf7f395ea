package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryanchriswhite/CamStreamer/internal/api"
	"github.com/bryanchriswhite/CamStreamer/internal/camera"
	"github.com/bryanchriswhite/CamStreamer/internal/capture"
	"github.com/bryanchriswhite/CamStreamer/internal/config"
	"github.com/bryanchriswhite/CamStreamer/internal/control"
	"github.com/bryanchriswhite/CamStreamer/internal/framebuffer"
	"github.com/bryanchriswhite/CamStreamer/internal/light"
	"github.com/bryanchriswhite/CamStreamer/internal/logger"
	"github.com/bryanchriswhite/CamStreamer/internal/output"
	"github.com/bryanchriswhite/CamStreamer/internal/status"
	"github.com/bryanchriswhite/CamStreamer/internal/web"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the CamStreamer server",
	Long: `Start the CamStreamer HTTP server.

The server streams the camera at /stream.mjpg, serves photos at
/stream.mjpg?mode=photo and accepts control requests at /control.
The web UI is available at the server root.`,
	Example: `  # Start server on default port (8000)
  camstreamer serve

  # Start server on custom port
  camstreamer serve --port 9090

  # Try it without a camera
  camstreamer serve --driver synthetic

  # Start with debug logging
  camstreamer serve --log-level debug --log-pretty`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}

	cfg := configMgr.Get()
	log := logger.WithComponent("serve")
	log.Info().
		Str("config", configMgr.GetConfigPath()).
		Str("log_level", cfg.LogLevel).
		Msg("Configuration loaded")

	driver, err := openDriver(cfg)
	if err != nil {
		return err
	}

	// Light is optional; a broken one must not keep the stream down
	var (
		gatewayLight control.Light
		statusLight  status.LightSource
		lightSwitch  *light.Switch
	)
	lightDriver, err := light.New(cfg.Light)
	if err != nil {
		log.Warn().Err(err).Str("driver", cfg.Light.Driver).Msg("Light unavailable, continuing without it")
	} else if lightDriver != nil {
		lightSwitch = light.NewSwitch(lightDriver)
		gatewayLight = lightSwitch
		statusLight = lightSwitch
	}

	buffer := framebuffer.New()
	cam := camera.NewController(driver, buffer, camera.OptionsFromConfig(cfg.Camera))
	reporter := status.NewReporter(cam, statusLight)
	gateway := control.NewGateway(cam, gatewayLight, reporter, control.Options{
		LockTimeout:         cfg.Control.LockTimeout,
		MinResolutionChange: cfg.Control.MinResolutionChange,
	})
	// Status listeners learn about a camera that died on its own
	cam.OnLost(func() { gateway.Commit() })
	hub := output.NewHub(buffer, cam, cfg.Stream.WaitTimeout)

	site, err := web.New()
	if err != nil {
		return fmt.Errorf("failed to load web UI: %w", err)
	}

	server := api.NewServer(cam, gateway, reporter, hub, site)

	if cfg.Camera.AutoStart && cam.HasCamera() {
		if s := gateway.Handle(context.Background(), control.Request{Mode: control.ModeStart}); !s.Cam {
			log.Warn().Msg("Camera autostart failed, start it from the UI")
		}
	}

	// Start server in a goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start(cfg.Address())
	}()

	log.Info().
		Int("port", cfg.ServerPort).
		Bool("camera", cam.HasCamera()).
		Msgf("CamStreamer is running, open http://localhost:%d in your browser", cfg.ServerPort)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		if err != nil {
			_ = cam.Close()
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")
	}

	// Stopping the camera ends every stream with its placeholder, which lets
	// Shutdown drain the open connections
	if err := cam.Close(); err != nil {
		log.Warn().Err(err).Msg("Error stopping camera")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown did not complete")
	}

	if lightSwitch != nil {
		if err := lightSwitch.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to switch light off")
		}
	}

	return nil
}

// openDriver builds the configured capture driver. A driver that cannot run
// on this host yields nil so the server still starts, without a camera.
func openDriver(cfg *config.Config) (capture.Driver, error) {
	log := logger.WithComponent("serve")

	driver, err := capture.New(cfg.Camera.Driver)
	if errors.Is(err, capture.ErrUnavailable) {
		log.Warn().Err(err).Str("driver", cfg.Camera.Driver).Msg("Camera unavailable, continuing without it")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if driver == nil {
		log.Info().Msg("No camera configured")
		return nil, nil
	}
	log.Info().Str("driver", driver.Name()).Str("device", cfg.Camera.Device).Msg("Camera driver ready")
	return driver, nil
}
