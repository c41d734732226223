package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/CZERTAINLY/autoroam/internal/log"
	"github.com/CZERTAINLY/autoroam/internal/model"
)

var (
	userConfigPath string // /default/config/path/autoroam on given OS
	configPath     string // actual config file used (if loaded)
	config         *model.Config

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag

	// run parameter overrides, flags bound as iface/rssi, env as AUTOROAM_IFACE/AUTOROAM_RSSI
	overrides = viper.New()
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		d = "."
	}
	userConfigPath = filepath.Join(d, "autoroam")
}

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is autoroam.yaml in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	runCmd.Flags().String("iface", "", "Wi-Fi interface of the remote test (default from config, then wlan0)")
	runCmd.Flags().Int("rssi", 0, "minimum RSSI threshold in dBm (default from config, then -75)")
	must(overrides.BindPFlag("iface", runCmd.Flags().Lookup("iface")))
	must(overrides.BindPFlag("rssi", runCmd.Flags().Lookup("rssi")))
	overrides.SetEnvPrefix("AUTOROAM")
	must(overrides.BindEnv("iface"))
	must(overrides.BindEnv("rssi"))

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initAutoroam

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("autoroam failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "autoroam",
	Short:        "Runs Wi-Fi roam cycles on a remote test endpoint and follows their progress",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run triggers a roam cycle on the endpoint, streams its log and reports the summary",
	RunE:  doRun,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve exposes the roam test process as a remote run endpoint",
	RunE:  doServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of an autoroam",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("autoroam: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config:   %s\n", configPath)
		}
		fmt.Printf("autoroam: %s\n", info.Main.Version)
		fmt.Printf("go:       %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:   %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:     %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:    %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func initAutoroam(cmd *cobra.Command, _ []string) error {
	if envConfig, ok := os.LookupEnv("AUTOROAMCONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{userConfigPath, "."} {
			path := filepath.Join(d, "autoroam.yaml")
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	var err error
	if configPath == "" {
		configPath = filepath.Join(userConfigPath, "autoroam.yaml")
		config, err = storeDefaultConfig(configPath)
	} else {
		config, err = loadConfig(configPath)
	}
	if err != nil {
		return err
	}

	// --verbose has a precedence over config file
	verbose := flagVerbose || (config.Service.Verbose != nil && *config.Service.Verbose)
	slog.SetDefault(log.New(os.Stderr, verbose))

	slog.Debug("autoroam", "configPath", configPath)
	slog.Debug("autoroam", "config", config)
	return nil
}

func storeDefaultConfig(path string) (*model.Config, error) {
	cfg := model.DefaultConfig()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", filepath.Dir(path), err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating file %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	if err := model.WriteConfig(f, cfg); err != nil {
		return nil, fmt.Errorf("storing configuration: %w", err)
	}
	return cfg, nil
}

func loadConfig(path string) (*model.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	cfg, err := model.LoadConfig(f)
	if err != nil {
		for _, d := range model.CueErrDetails(err) {
			slog.Error("invalid configuration", d.Attr("detail"))
		}
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
