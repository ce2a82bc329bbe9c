package config

import (
	"net"
	"strconv"
	"time"

	"github.com/oxygenesis/enrollment/internal/service"
	"github.com/oxygenesis/enrollment/internal/transport"
	"github.com/oxygenesis/enrollment/pkg/logger"
)

const (
	ConfigFileEnvVar = "UNIT_ENROLL_CONFIG_FILE"
	StandardPath     = "/etc/unit-enroll/config.yml"
	// DefaultKeysDir holds id_rsa and id_rsa.pub when no unit is configured.
	DefaultKeysDir = "/etc/pwnagotchi"
)

type Config struct {
	Logs       Logging    `mapstructure:"logs"`
	Server     HTTPServer `mapstructure:"server"`
	Enrollment Enrollment `mapstructure:"enrollment"`
	Units      []Unit     `mapstructure:"units" validate:"dive"`
}

type Logging struct {
	Level string `mapstructure:"level" validate:"omitempty,oneof=info debug trace none warn error"`
}

type HTTPServer struct {
	ListenAddress string `mapstructure:"listen_address"`
	Port          int    `mapstructure:"port" validate:"gte=0,lte=65535"`
}

func (s HTTPServer) Addr() string {
	return net.JoinHostPort(s.ListenAddress, strconv.Itoa(s.Port))
}

type Enrollment struct {
	Endpoint   string        `mapstructure:"endpoint" validate:"required,url"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"gte=0"`
	UserAgent  string        `mapstructure:"user_agent"`
	SaltLength int           `mapstructure:"salt_length" validate:"gte=0"`
	SelfCheck  bool          `mapstructure:"self_check"`
	TokenTTL   time.Duration `mapstructure:"token_ttl" validate:"gte=0"`
	// TokenDir keeps the last enrollment response per unit. Empty disables it.
	TokenDir  string    `mapstructure:"token_dir"`
	RateLimit RateLimit `mapstructure:"rate_limit"`
}

// RateLimit bounds enrollment attempts per unit on the agent API.
type RateLimit struct {
	RPS   float64 `mapstructure:"rps" validate:"gte=0"`
	Burst int     `mapstructure:"burst" validate:"gte=0"`
}

// Unit names a key pair to register at startup. Either PrivateKeyPath or
// KeysDir must be set; an empty Name falls back to the host name.
type Unit struct {
	Name           string `mapstructure:"name"`
	PrivateKeyPath string `mapstructure:"private_key_path" validate:"required_without=KeysDir"`
	PublicKeyPath  string `mapstructure:"public_key_path"`
	KeysDir        string `mapstructure:"keys_dir" validate:"required_without=PrivateKeyPath"`
}

func Defaults() Config {
	return Config{
		Logs: Logging{Level: logger.LevelInfo},
		Server: HTTPServer{
			ListenAddress: "127.0.0.1",
			Port:          8666,
		},
		Enrollment: Enrollment{
			Endpoint:  service.DefaultEndpoint,
			Timeout:   transport.DefaultTimeout,
			UserAgent: "unit-enroll",
			SelfCheck: true,
			TokenTTL:  service.DefaultTokenTTL,
			RateLimit: RateLimit{RPS: 0.2, Burst: 3},
		},
	}
}
