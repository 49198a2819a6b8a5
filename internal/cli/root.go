package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"reflect"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ppiankov/policheck/internal/logging"
	"github.com/ppiankov/policheck/internal/model"
)

// Version is overridden at build time with
// -ldflags "-X github.com/ppiankov/policheck/internal/cli.Version=...".
var Version = "v0.1.0-dev"

var (
	cfgFile  string
	verbose  bool
	logLevel string

	// configErr holds a config file error found by initConfig; commands
	// that need configuration fail with it.
	configErr error
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "policheck",
	Short: "PoliCheck - flow-to-policy consistency analysis for mobile apps",
	Long: `PoliCheck checks whether the data flows an app was observed making are
disclosed by its privacy policy.

Every flow is reduced to (entity, data type) and every policy sentence to
(entity, collect|not_collect, data type). Both are interpreted against an
entity ontology and a data ontology, and each flow is reported as
consistent, inconsistent or unjustified. Statement pairs inside a policy
that contradict each other are reported separately.

PoliCheck reports disclosure consistency. It does not decide compliance.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command. SIGINT and SIGTERM cancel the running
// command's context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Display the version number and build information for PoliCheck.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "policheck %s\n", Version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.policheck/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	// Bind flags to viper
	_ = viper.BindPFlag("output.verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and ENV variables
func initConfig() {
	v := viper.GetViper()
	setDefaults(v, "", reflect.ValueOf(*model.DefaultConfig()))
	configureEnv(v)

	if cfgFile != "" {
		// Use config file from the flag
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			return
		}
		v.AddConfigPath(filepath.Join(home, ".policheck"))
		v.SetConfigType("yaml")
		v.SetConfigName("config")
	}

	configErr = readConfig(v, cfgFile != "")
	if configErr == nil && verbose && v.ConfigFileUsed() != "" {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", v.ConfigFileUsed())
	}
}

// configureEnv maps POLICHECK_SECTION_KEY variables onto section.key.
func configureEnv(v *viper.Viper) {
	v.SetEnvPrefix("POLICHECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// readConfig reads the config file. A missing default file is fine; an
// explicit file that is missing, or any file that does not parse, is not.
func readConfig(v *viper.Viper, explicit bool) error {
	err := v.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if !explicit && errors.As(err, &notFound) {
		return nil
	}
	return fmt.Errorf("read config: %w", err)
}

// setDefaults registers every key of the config struct with viper so that
// environment variables and flags apply even when the config file does
// not mention the key.
func setDefaults(v *viper.Viper, prefix string, rv reflect.Value) {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		key := rt.Field(i).Tag.Get("mapstructure")
		if key == "" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		fv := rv.Field(i)
		switch {
		case fv.Kind() == reflect.Struct:
			setDefaults(v, key, fv)
			continue
		case fv.Kind() == reflect.Slice && fv.IsNil():
			continue
		}
		v.SetDefault(key, fv.Interface())
	}
}

// loadConfig decodes the merged configuration (defaults, file, env, flags)
// and validates it.
func loadConfig(v *viper.Viper) (*model.Config, error) {
	if configErr != nil {
		return nil, configErr
	}

	cfg := model.DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindFlags binds the named flags of cmd to config keys. It runs from a
// command's PreRunE so commands sharing a flag name do not override each
// other's bindings.
func bindFlags(cmd *cobra.Command, keys map[string]string) error {
	for flag, key := range keys {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			continue
		}
		if err := viper.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind --%s: %w", flag, err)
		}
	}
	return nil
}

func newLogger(cfg *model.Config) (*slog.Logger, error) {
	logger, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	return logger, nil
}
