package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	iec61850 "github.com/marrasen/iec61850server"
)

var (
	configFile string
	rootCmd    *cobra.Command
	logger     = zerolog.Nop()
)

func init() {
	rootCmd = &cobra.Command{
		Use:   "mmsmap",
		Short: "IEC 61850 to MMS mapping tool",
		Long: `Compiles IEC 61850 model descriptions into their MMS mapping and runs the
report and GOOSE engine against simulated data.

Examples:
  mmsmap compile test/server/simpleIO_direct_control_goose.yaml
  mmsmap vars test/server/simpleIO_direct_control_goose.yaml --datasets
  mmsmap values test/server/simpleIO_direct_control_goose.yaml
  mmsmap simulate test/server/simpleIO_direct_control_goose.yaml --duration 10s

Settings are read from flags, from the file given with --config and from
environment variables prefixed with MMSMAP_ (e.g. MMSMAP_LOG_LEVEL=debug).`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (yaml, json or toml)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().Int("report-buffer-size", 65536, "Byte budget of each buffered report control block")
	rootCmd.PersistentFlags().Duration("event-interval", 10*time.Millisecond, "Event worker interval")

	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("report_buffer_size", rootCmd.PersistentFlags().Lookup("report-buffer-size"))
	_ = viper.BindPFlag("event_interval", rootCmd.PersistentFlags().Lookup("event-interval"))

	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(varsCmd)
	rootCmd.AddCommand(valuesCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadConfig() error {
	viper.SetEnvPrefix("mmsmap")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config %s: %w", configFile, err)
		}
	}

	level, err := zerolog.ParseLevel(viper.GetString("log_level"))
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).With().Timestamp().Logger()
	iec61850.SetLogger(logger)
	return nil
}

// serverConfig builds the mapping configuration from the current settings.
func serverConfig() *iec61850.ServerConfig {
	cfg := iec61850.NewServerConfig()
	cfg.ReportBufferSize = viper.GetInt("report_buffer_size")
	cfg.EventWorkerInterval = viper.GetDuration("event_interval")
	return cfg
}

// compileModel loads and compiles a model description file.
func compileModel(path string, cfg *iec61850.ServerConfig) (*iec61850.DeviceMapping, error) {
	model, err := iec61850.CreateModelFromConfigFile(path)
	if err != nil {
		return nil, err
	}
	return iec61850.Compile(model, cfg)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(iec61850.GetVersionString())
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
