// Package settings loads and represents the process-wide configuration
// snapshot. A Settings value is immutable once constructed; reloading
// (SIGHUP, or an edited config file) produces a brand new instance rather
// than mutating one in place.
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Global holds directories and run-mode metadata that apply to the whole
// process rather than to the MUD listener specifically.
type Global struct {
	ConfigDir string `mapstructure:"config_dir"`
	DataDir   string `mapstructure:"data_dir"`
	LogFile   string `mapstructure:"log_file"`
	RunMode   string `mapstructure:"run_mode"`
	Debug     bool   `mapstructure:"debug"`
}

// Mud holds the options the networking core reads directly: where to
// listen, what to call itself, and whether it is turning away new players.
type Mud struct {
	BindIP        string `mapstructure:"bind_ip"`
	Port          uint16 `mapstructure:"port"`
	Name          string `mapstructure:"name"`
	Wizlocked     bool   `mapstructure:"wizlocked"`
	WizlockReason string `mapstructure:"wizlock_reason"`
}

// Settings is the configuration snapshot broadcast on the control bus as
// part of a Reconfigure signal.
type Settings struct {
	Global Global `mapstructure:"global"`
	Mud    Mud    `mapstructure:"mud"`
}

const envPrefix = "HAVOK"

// defaults mirrors the table in §6 of the networking spec: every key the
// core recognizes gets a sane out-of-the-box value so a bare config
// directory still produces a bindable server.
func defaults(appName, configDir, dataDir string) Settings {
	return Settings{
		Global: Global{
			ConfigDir: configDir,
			DataDir:   dataDir,
			LogFile:   filepath.Join(dataDir, appName+".log"),
			RunMode:   "development",
			Debug:     false,
		},
		Mud: Mud{
			BindIP:        "0.0.0.0",
			Port:          4000,
			Name:          appName,
			Wizlocked:     false,
			WizlockReason: "",
		},
	}
}

// Load reads default.toml, <run_mode>.toml, and local.toml from configDir
// (each optional), then overlays environment variables prefixed HAVOK_
// (e.g. HAVOK_MUD_PORT). It is safe to call repeatedly, such as on every
// SIGHUP, producing a new immutable Settings each time.
func Load(appName, configDir, dataDir string) (*Settings, error) {
	if configDir == "" {
		configDir = "config"
	}
	if dataDir == "" {
		dataDir = "data"
	}

	for _, dir := range []string{configDir, dataDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("settings: creating %s: %w", dir, err)
		}
	}

	def := defaults(appName, configDir, dataDir)

	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, def)

	runMode := os.Getenv(envPrefix + "_RUN_MODE")
	if runMode == "" {
		runMode = def.Global.RunMode
	}

	for _, name := range []string{"default", runMode, "local"} {
		v.SetConfigName(name)
		v.AddConfigPath(configDir)
		if err := v.MergeInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return nil, fmt.Errorf("settings: reading %s.toml: %w", name, err)
			}
		}
	}

	v.Set("global.config_dir", configDir)
	v.Set("global.data_dir", dataDir)
	if !v.IsSet("global.log_file") {
		v.Set("global.log_file", def.Global.LogFile)
	}
	v.Set("global.run_mode", runMode)

	var out Settings
	if err := v.Unmarshal(&out); err != nil {
		return nil, fmt.Errorf("settings: decoding: %w", err)
	}

	return &out, nil
}

func setDefaults(v *viper.Viper, def Settings) {
	v.SetDefault("global.config_dir", def.Global.ConfigDir)
	v.SetDefault("global.data_dir", def.Global.DataDir)
	v.SetDefault("global.log_file", def.Global.LogFile)
	v.SetDefault("global.run_mode", def.Global.RunMode)
	v.SetDefault("global.debug", def.Global.Debug)
	v.SetDefault("mud.bind_ip", def.Mud.BindIP)
	v.SetDefault("mud.port", def.Mud.Port)
	v.SetDefault("mud.name", def.Mud.Name)
	v.SetDefault("mud.wizlocked", def.Mud.Wizlocked)
	v.SetDefault("mud.wizlock_reason", def.Mud.WizlockReason)
}

// Clone returns a deep copy. Settings is never mutated after construction,
// but callers that want to be defensive (e.g. before local test tweaks) can
// use this instead of taking the address of a shared value.
func (s *Settings) Clone() *Settings {
	if s == nil {
		return nil
	}
	out := *s
	return &out
}
