package common

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ConfigFlags are the flags every command shares.
type ConfigFlags struct {
	File     string
	Includes []string
	Profile  string
}

// Register adds --config, --include, --profile, --log.level and
// --log.format to cmd.
func (f *ConfigFlags) Register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.File, "config", "", "config file path")
	cmd.Flags().StringSliceVar(&f.Includes, "include", nil, "extra config files merged in order")
	cmd.Flags().StringVar(&f.Profile, "profile", "", "profile under profiles.<name> to overlay")
	cmd.Flags().String("log.level", "", "log level: debug|info|warn|error")
	cmd.Flags().String("log.format", "", "log format: console|json")
}

// Resolve loads the config, binds the command flags over it, sets up
// logging and validates the result. keys maps flag names to config keys;
// flags named like a key (log.level) bind directly.
func (f *ConfigFlags) Resolve(cmd *cobra.Command, keys map[string]string) (*viper.Viper, *Config, *slog.Logger, error) {
	v, err := Load(f.File, f.Includes, f.Profile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	// only flags the user set override the file
	var bindErr error
	cmd.Flags().Visit(func(fl *pflag.Flag) {
		key, ok := keys[fl.Name]
		if !ok && strings.Contains(fl.Name, ".") {
			key, ok = fl.Name, true
		}
		if ok && bindErr == nil {
			bindErr = v.BindPFlag(key, fl)
		}
	})
	if bindErr != nil {
		return nil, nil, nil, bindErr
	}
	c, err := Decode(v)
	if err != nil {
		return nil, nil, nil, err
	}
	logger := SetupLogger(c.Log)
	if f.File != "" {
		logger.Info("config loaded", "file", f.File, "profile", f.Profile)
	}
	if err := ValidateConfig(c, false); err != nil {
		return nil, nil, nil, fmt.Errorf("config invalid: %w", err)
	}
	return v, c, logger, nil
}
