//go:build !rp2040 && !rp2350

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. BENCHIO_USB_FLUSH_TICKS.
const EnvPrefix = "BENCHIO"

// Load reads path (YAML, JSON or TOML by extension) over Defaults, applies
// BENCHIO_* environment overrides and validates the result. An empty path
// yields the defaults plus environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if errors.As(err, &nf) {
				return nil, fmt.Errorf("config file not found: %w", err)
			}
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := Defaults()
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers the scalar defaults so AutomaticEnv can override
// keys that the file does not mention. Lists (serial, spi) come from
// Defaults and are replaced wholesale by the file.
func setDefaults(v *viper.Viper) {
	d := Defaults()

	v.SetDefault("usb.enabled", d.USB.Enabled)
	v.SetDefault("usb.function", d.USB.Function)
	v.SetDefault("usb.rx_size", d.USB.RxSize)
	v.SetDefault("usb.tx_size", d.USB.TxSize)
	v.SetDefault("usb.flush_ticks", d.USB.FlushTicks)

	v.SetDefault("acquire.enabled", d.Acquire.Enabled)
	v.SetDefault("acquire.sample_rate_hz", d.Acquire.SampleRateHz)
	v.SetDefault("acquire.samples", d.Acquire.Samples)
	v.SetDefault("acquire.timer_id", d.Acquire.TimerID)
	v.SetDefault("acquire.channel", d.Acquire.Channel)
	v.SetDefault("acquire.bits", d.Acquire.Bits)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)
	v.SetDefault("logging.max_size", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", false)

	v.SetDefault("host.metrics_addr", "")
}
