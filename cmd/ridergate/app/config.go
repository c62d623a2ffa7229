package app

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/autopeer-io/ridergate/pkg/log"
)

const (
	envPrefix         = "RIDERGATE"
	defaultConfigName = ".ridergate.yaml"
)

// defaultConfigFile is $HOME/.ridergate.yaml, or ./.ridergate.yaml when the
// home directory is unknown.
func defaultConfigFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(home, defaultConfigName)
}

// loadConfig layers the config file and RIDERGATE_* environment variables
// under the command line flags and decodes the result into opts.
func loadConfig(v *viper.Viper, file string, flags *pflag.FlagSet, opts any) error {
	v.SetConfigFile(file)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(flags); err != nil {
		return err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

	return v.Unmarshal(opts)
}

// watchConfig logs external edits of the config file. Settings read at start
// are not reloaded.
func watchConfig(v *viper.Viper) {
	if v.ConfigFileUsed() == "" {
		return
	}
	if _, err := os.Stat(v.ConfigFileUsed()); err != nil {
		return
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		log.Info("Config file changed, restart to apply", "file", e.Name, "op", e.Op.String())
	})
	v.WatchConfig()
}

// brokerPersister writes broker changes back to the config file.
func brokerPersister(v *viper.Viper) func(host string, port int) error {
	return func(host string, port int) error {
		v.Set("mqtt.host", host)
		v.Set("mqtt.port", port)
		if err := v.WriteConfig(); err != nil {
			return err
		}
		log.Info("Saved broker to config file", "file", v.ConfigFileUsed(), "host", host, "port", port)
		return nil
	}
}
