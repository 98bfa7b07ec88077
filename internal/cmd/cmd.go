// Package cmd holds the flightcore command tree.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/relabs-tech/flightcore/internal/app"
	"github.com/relabs-tech/flightcore/internal/config"
	"github.com/relabs-tech/flightcore/internal/logging"
)

var logCloser io.Closer

var RootCmd = &cobra.Command{
	Use:   "flightcore",
	Short: "attitude estimation core for an MPU6050 flight controller",
	Long: `flightcore reads an MPU6050 over I2C, calibrates it, fuses gyro and
accelerometer into roll and pitch, and publishes the result over MQTT.

Configuration is read, in increasing precedence, from:
1. built-in defaults
2. the KEY=VALUE file given by --config, FLIGHTCORE_CONFIG or ` + config.DefaultPath + `
3. FLIGHTCORE_<KEY> environment variables
4. command line flags`,
	SilenceUsage:       true,
	SilenceErrors:      true,
	PersistentPreRunE:  loadConfig,
	PersistentPostRunE: closeLogging,
}

func RootCmdFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("config", "", "configuration file path")
	cmd.PersistentFlags().String("log-level", "", "log level: trace, debug, info, warn, error")
	cmd.PersistentFlags().String("bus-driver", "", "I2C driver: periph, embd or sim")
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"log-level":   "LOG_LEVEL",
	"bus-driver":  "BUS_DRIVER",
	"calibrate":   "CALIBRATE_ON_START",
	"interval-ms": "LOOP_INTERVAL_MS",
	"port":        "WEB_SERVER_PORT",
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	v := config.NewViper()

	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = os.Getenv(config.EnvPrefix + "_CONFIG")
	}
	explicit := path != ""
	if !explicit {
		path = config.DefaultPath
	}
	if err := config.ReadFile(v, path); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		log.Warnf("config file %s not found, using defaults", path)
	} else {
		log.Debugln("using config file:", path)
	}

	bindFlags(cmd, v)

	cfg, err := config.FromViper(v)
	if err != nil {
		return err
	}
	config.SetGlobal(cfg)

	logCloser, err = logging.Setup(cfg)
	return err
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) {
	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		_ = v.BindPFlag(key, f)
	}
}

func closeLogging(_ *cobra.Command, _ []string) error {
	if logCloser == nil {
		return nil
	}
	return logCloser.Close()
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func RunCmdFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("calibrate", true, "calibrate gyro and accelerometer on start (vehicle level and still)")
	cmd.Flags().Int("interval-ms", 0, "control loop period in milliseconds")
}

var RunCmd = &cobra.Command{
	Use:        "run",
	SuggestFor: []string{"start", "serve"},
	Short:      "run the flight core loop",
	Long: `run initializes the MPU6050, optionally calibrates it, then runs the
control loop, publishing attitude to MQTT and serving Prometheus metrics.
It exits non-zero if the device cannot be initialized or is lost.`,
	Example: `  flightcore run --config=/etc/flightcore/flightcore_config.txt
  flightcore run --bus-driver=sim --log-level=debug`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()
		return app.RunFlightCore(ctx)
	},
}

func WebCmdFlags(cmd *cobra.Command) {
	cmd.Flags().IntP("port", "p", 0, "HTTP port")
}

var WebCmd = &cobra.Command{
	Use:   "web",
	Short: "serve the live attitude over HTTP and websocket",
	Long: `web subscribes to the attitude topic and serves /api/attitude (latest
JSON) and /ws (websocket push). Static files are served from ./web.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()
		return app.RunWeb(ctx)
	},
}

var ConsoleCmd = &cobra.Command{
	Use:   "console",
	Short: "print attitude and imu messages from MQTT",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()
		return app.RunConsoleMQTT(ctx, cmd.OutOrStdout())
	},
}

var DisplayCmd = &cobra.Command{
	Use:   "display",
	Short: "render the attitude on an SSD1306 OLED",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()
		return app.RunDisplay(ctx)
	},
}

func RegistersCmdFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("json", false, "print the dump as JSON")
}

var RegistersCmd = &cobra.Command{
	Use:        "registers",
	SuggestFor: []string{"regs", "dump"},
	Short:      "initialize the device and dump its registers",
	Example: `  flightcore registers
  flightcore registers --json > mpu6050_registers.json`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		ctx, stop := signalContext(cmd)
		defer stop()
		return app.RunRegisterDump(ctx, cmd.OutOrStdout(), asJSON)
	},
}

func ConfigCmdFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("print", false, "print the effective configuration as YAML")
}

var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "validate the configuration",
	Long: `config loads and validates the configuration. If --print is present the
effective configuration, after environment and flag overrides, is printed
as YAML.`,
	Example: `  flightcore config --print`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		printFlag, _ := cmd.Flags().GetBool("print")
		cfg := config.Get()
		if !printFlag {
			fmt.Fprintln(cmd.OutOrStdout(), "configuration OK")
			return nil
		}
		buf, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(buf)
		return err
	},
}

func getRootCmd() *cobra.Command {
	RootCmdFlags(RootCmd)

	RunCmdFlags(RunCmd)
	RootCmd.AddCommand(RunCmd)

	WebCmdFlags(WebCmd)
	RootCmd.AddCommand(WebCmd)

	RootCmd.AddCommand(ConsoleCmd)
	RootCmd.AddCommand(DisplayCmd)

	RegistersCmdFlags(RegistersCmd)
	RootCmd.AddCommand(RegistersCmd)

	ConfigCmdFlags(ConfigCmd)
	RootCmd.AddCommand(ConfigCmd)

	return RootCmd
}

func Execute() error {
	return getRootCmd().Execute()
}
