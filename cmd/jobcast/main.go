package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/CZERTAINLY/jobcast/internal/log"
	"github.com/CZERTAINLY/jobcast/internal/model"
)

var (
	userConfigPath string // /default/config/path/jobcast on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config
	closeLog       = func() error { return nil }

	flagConfigFilePath string // value of --config flag
	v                  = viper.New()
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "jobcast")
}

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is jobcast.yaml in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().Bool("verbose", false, "verbose logging")
	serveCmd.Flags().String("listen", "", "address to listen on, overrides service.listen")
	if err := v.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose")); err != nil {
		panic(err)
	}
	if err := v.BindPFlag("listen", serveCmd.Flags().Lookup("listen")); err != nil {
		panic(err)
	}
	v.SetEnvPrefix("JOBCAST")
	v.AutomaticEnv()

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initJobcast
	rootCmd.PersistentPostRunE = func(*cobra.Command, []string) error {
		return closeLog()
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("jobcast failed", "err", err)
		_ = closeLog()
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "jobcast",
	Short:        "Runs background jobs and broadcasts their progress",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of a jobcast",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("jobcast: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config:  %s\n", configPath)
		}
		fmt.Printf("jobcast: %s\n", info.Main.Version)
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
		fmt.Println()
	},
}

// buildInfo returns the module version and the vcs revision.
func buildInfo() (version, commit string) {
	version, commit = "unknown", "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = info.Main.Version
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			commit = s.Value
		}
	}
	return
}

func initJobcast(cmd *cobra.Command, _ []string) error {
	// a missing .env is fine
	_ = godotenv.Load()

	if envConfig, ok := os.LookupEnv("JOBCASTCONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{userConfigPath, "."} {
			path := filepath.Join(d, "jobcast.yaml")
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	var err error
	if configPath == "" {
		config, err = storeDefault(cmd.Context())
	} else {
		config, err = loadConfig(configPath)
	}
	if err != nil {
		return err
	}

	// flags and JOBCAST_ environment have a precedence over config file
	if v.IsSet("verbose") {
		verbose := v.GetBool("verbose")
		config.Service.Verbose = &verbose
	}
	if v.IsSet("listen") && v.GetString("listen") != "" {
		config.Service.Listen = v.GetString("listen")
	}

	// initialize logging
	var dest string
	if config.Service.Log != nil {
		dest = *config.Service.Log
	}
	var w io.Writer
	w, closeLog, err = log.Output(dest)
	if err != nil {
		return err
	}
	verbose := config.Service.Verbose != nil && *config.Service.Verbose
	slog.SetDefault(log.New(w, verbose))

	slog.Debug("jobcast run", "configPath", configPath)
	slog.Debug("jobcast run", "config", config)
	return nil
}

func loadConfig(path string) (model.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Config{}, fmt.Errorf("opening config file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	cfg, err := model.LoadConfig(f)
	if err != nil {
		for _, d := range model.CueErrDetails(err) {
			slog.Error("invalid configuration", d.Attr("detail"))
		}
		return model.Config{}, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// storeDefault writes the default configuration to the user config dir.
func storeDefault(ctx context.Context) (model.Config, error) {
	cfg := model.DefaultConfig(ctx)
	configPath = filepath.Join(userConfigPath, "jobcast.yaml")
	err := os.MkdirAll(filepath.Dir(configPath), 0755)
	if err != nil {
		return cfg, fmt.Errorf("creating directory %s: %w", filepath.Dir(configPath), err)
	}

	f, err := os.Create(configPath)
	if err != nil {
		return cfg, fmt.Errorf("creating file %s: %w", configPath, err)
	}
	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	err = errors.Join(enc.Encode(cfg), enc.Close(), f.Close())
	if err != nil {
		return cfg, fmt.Errorf("storing configuration: %w", err)
	}
	return cfg, nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
