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

	"github.com/CZERTAINLY/diskbench-bridge/internal/log"
	"github.com/CZERTAINLY/diskbench-bridge/internal/model"
	"github.com/CZERTAINLY/diskbench-bridge/internal/service"
	"gopkg.in/yaml.v3"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const configName = "diskbench-bridge.yaml"

var (
	userConfigPath string // /default/config/path/diskbench-bridge on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config
	overrides      *viper.Viper
	closeLog       = func() error { return nil }

	flagConfigFilePath string // value of --config flag
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "diskbench-bridge")
}

func main() {
	overrides = service.NewViper()

	// root flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is "+configName+" in current directory or in "+userConfigPath)
	flags.Bool("verbose", false, "verbose logging")
	flags.String("binary", "", "path to the diskbench executable")
	flags.String("history", "", "sqlite database with the run history")
	mustBind(service.KeyVerbose, "verbose")
	mustBind(service.KeyBinary, "binary")
	mustBind(service.KeyHistory, "history")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initBridge
	rootCmd.PersistentPostRunE = func(*cobra.Command, []string) error { return closeLog() }

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(typesCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("diskbench-bridge failed", "err", err)
		os.Exit(1)
	}
}

func mustBind(key, flag string) {
	if err := overrides.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

var rootCmd = &cobra.Command{
	Use:          "diskbench-bridge",
	Short:        "Runs diskbench benchmarks and collects their results",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of a diskbench-bridge",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("diskbench-bridge: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config: %s\n", configPath)
		}
		fmt.Printf("diskbench-bridge: %s\n", info.Main.Version)
		fmt.Printf("go:     %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit: %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:   %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:  %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func initBridge(cmd *cobra.Command, _ []string) error {
	if envConfig, ok := os.LookupEnv("DISKBENCH_CONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{".", userConfigPath} {
			path := filepath.Join(d, configName)
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	// store default configuration
	if configPath == "" {
		config = model.DefaultConfig(cmd.Context())
		configPath = filepath.Join(userConfigPath, configName)
		if err := storeConfig(configPath, config); err != nil {
			return err
		}
	} else {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		config = *cfg
	}

	// flags and DISKBENCH_* variables have a precedence over config file
	service.ApplyOverrides(&config, overrides)

	w, closeFn, err := log.Output(config.Service.Log)
	if err != nil {
		return err
	}
	closeLog = closeFn
	slog.SetDefault(log.New(w, config.Service.Verbose))

	slog.Debug("diskbench-bridge", "configPath", configPath)
	slog.Debug("diskbench-bridge", "config", config)
	return nil
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
		for i, d := range model.CueErrDetails(err) {
			slog.Error("invalid configuration", d.Attr(fmt.Sprintf("detail%d", i)))
		}
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

func storeConfig(path string, cfg model.Config) error {
	err := os.MkdirAll(filepath.Dir(path), 0755)
	if err != nil {
		return fmt.Errorf("creating directory %s: %w", filepath.Dir(path), err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	enc := yaml.NewEncoder(f)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("storing configuration: %w", err)
	}
	return enc.Close()
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func printYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func cmdContext(ctx context.Context, name string) context.Context {
	return log.ContextAttrs(ctx, slog.Group("diskbench-bridge",
		slog.String("cmd", name),
		slog.Int("pid", os.Getpid()),
	))
}

var errRunFailed = errors.New("benchmark run failed")
