package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var (
	hostname     = os.Hostname
	standardPath = StandardPath
)

func readConfig(configFilePath string, defaults *Config) (*Config, error) {
	vp := viper.New()
	vp.SetEnvPrefix("UNIT_ENROLL")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	if defaults != nil {
		defaultsMap := map[string]interface{}{}
		if err := mapstructure.Decode(defaults, &defaultsMap); err != nil {
			return nil, fmt.Errorf("could not decode defaults: %w", err)
		}
		setDefaults(vp, "", defaultsMap)
	}

	if configFilePath != "" {
		vp.SetConfigFile(configFilePath)
		if err := vp.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error while processing config file: %w", err)
		}
	}

	var config Config
	if err := vp.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("could not unmarshal config: %w", err)
	}
	return &config, nil
}

// setDefaults registers leaves under dotted keys so a partial section in
// the file does not shadow the rest of its defaults.
func setDefaults(vp *viper.Viper, prefix string, values map[string]interface{}) {
	for key, value := range values {
		if prefix != "" {
			key = prefix + "." + key
		}
		switch v := value.(type) {
		case map[string]interface{}:
			setDefaults(vp, key, v)
		case nil, string:
			if v != nil && v != "" {
				vp.SetDefault(key, v)
			}
		default:
			vp.SetDefault(key, v)
		}
	}
}

// LoadConfig reads path when given, otherwise the file named by
// UNIT_ENROLL_CONFIG_FILE, otherwise the standard path. A missing standard
// file is not an error: the defaults are used.
func LoadConfig(path string) (*Config, error) {
	defaults := Defaults()
	var (
		conf *Config
		err  error
	)

	switch {
	case path != "":
		log.Infof("loading config file from %s", path)
		conf, err = readConfig(path, &defaults)
	case os.Getenv(ConfigFileEnvVar) != "":
		envPath := os.Getenv(ConfigFileEnvVar)
		log.Infof("loading config file from %s", envPath)
		conf, err = readConfig(envPath, &defaults)
		if err != nil {
			log.Warnf("failed to load config file specified in ENV '%s' variable. will try to load from standard paths: %s", ConfigFileEnvVar, err)
			conf, err = readStandard(&defaults)
		}
	default:
		log.Debugf("ENV '%s' variable not set, will try to load from standard paths", ConfigFileEnvVar)
		conf, err = readStandard(&defaults)
	}
	if err != nil {
		return nil, err
	}

	if err := conf.normalize(); err != nil {
		return nil, err
	}
	if err := validator.New().Struct(conf); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return conf, nil
}

func readStandard(defaults *Config) (*Config, error) {
	if _, err := os.Stat(standardPath); errors.Is(err, fs.ErrNotExist) {
		log.Debugf("%s not found, using defaults", standardPath)
		return readConfig("", defaults)
	}
	return readConfig(standardPath, defaults)
}

func (c *Config) normalize() error {
	if len(c.Units) == 0 {
		c.Units = []Unit{{KeysDir: DefaultKeysDir}}
	}
	for i := range c.Units {
		if strings.TrimSpace(c.Units[i].Name) != "" {
			continue
		}
		name, err := DefaultUnitName()
		if err != nil {
			return err
		}
		c.Units[i].Name = name
	}
	return nil
}

// DefaultUnitName is the host name without a trailing ".local".
func DefaultUnitName() (string, error) {
	name, err := hostname()
	if err != nil {
		return "", fmt.Errorf("reading host name: %w", err)
	}
	return strings.TrimSuffix(strings.TrimSpace(name), ".local"), nil
}
