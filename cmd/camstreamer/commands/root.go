package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/bryanchriswhite/CamStreamer/internal/config"
	"github.com/bryanchriswhite/CamStreamer/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "camstreamer",
		Short: "CamStreamer - Live camera feed over HTTP",
		Long: `CamStreamer serves a camera as a continuous MJPEG stream that any
browser or video player can open, with single-shot photos and runtime
control of the capture.

Features:
  • V4L2 webcams, Raspberry Pi cameras (rpicam-vid) and a test pattern
  • Any number of concurrent stream viewers
  • Photo capture while streaming or from a stopped camera
  • Frame rate, resolution and rotation changes at runtime
  • Auxiliary light control (sysfs LED or GPIO)
  • Live status over WebSocket
  • Persistent YAML configuration`,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/camstreamer/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8000)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-pretty", false, "human readable console logs")
	rootCmd.PersistentFlags().String("driver", "", "camera driver (v4l2, rpicam, synthetic, none)")
	rootCmd.PersistentFlags().String("device", "", "camera device, e.g. /dev/video0")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_pretty", rootCmd.PersistentFlags().Lookup("log-pretty"))
	viper.BindPFlag("camera.driver", rootCmd.PersistentFlags().Lookup("driver"))
	viper.BindPFlag("camera.device", rootCmd.PersistentFlags().Lookup("device"))
}

// initConfig lets CAMSTREAMER_* environment variables stand in for flags,
// e.g. CAMSTREAMER_CAMERA_DRIVER=synthetic
func initConfig() {
	viper.SetEnvPrefix("camstreamer")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// loadConfig opens the config file, applies flag and environment overrides
// and initializes logging from the result
func loadConfig() (*config.Manager, error) {
	logger.Init(viper.GetString("log_level"), viper.GetBool("log_pretty"))

	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Override port from flag if provided
	if viper.IsSet("server_port") {
		if port := viper.GetInt("server_port"); port > 0 {
			configMgr.SetPort(port)
		}
	}

	// Override log level from flag if provided
	if viper.IsSet("log_level") {
		if logLevel := viper.GetString("log_level"); logLevel != "" {
			configMgr.SetLogLevel(logLevel)
		}
	}

	configMgr.SetDriver(viper.GetString("camera.driver"), viper.GetString("camera.device"))

	cfg := configMgr.Get()
	logger.Init(cfg.LogLevel, cfg.LogPretty || viper.GetBool("log_pretty"))

	return configMgr, nil
}
