package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/ffstamp/ffstamp/internal/config"
	"github.com/ffstamp/ffstamp/internal/log"
)

var (
	configPath string // actual config file used (if any)
	cfg        config.Config

	flagConfig  string // value of --config flag
	flagVerbose bool   // value of --verbose flag
)

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file to load - default is ffstamp.yaml in current directory or in "+config.DefaultPath())
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse the config, setup logging
	rootCmd.PersistentPreRunE = initFFStamp

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(stampCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("ffstamp failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "ffstamp",
	Short:        "Batch video watermarking driven by ffmpeg",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provides the version of ffstamp",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("ffstamp: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config:  %s\n", configPath)
		}
		fmt.Printf("ffstamp: %s\n", info.Main.Version)
		fmt.Printf("go:      %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:  %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:    %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:   %s\n", s.Value)
			}
		}
	},
}

func initFFStamp(cmd *cobra.Command, _ []string) error {
	if envConfig, ok := os.LookupEnv("FFSTAMPCONFIG"); ok {
		configPath = envConfig
	} else {
		configPath = flagConfig
	}

	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	// --verbose has precedence over the config file
	if flagVerbose {
		cfg.Verbose = true
	}

	slog.SetDefault(log.New(cfg.Verbose))

	slog.Debug("ffstamp starting", "config_path", configPath)
	return nil
}
