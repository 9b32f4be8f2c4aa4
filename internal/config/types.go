package config

const (
	DefaultHost            = "localhost"
	DefaultPort            = 6800
	DefaultPath            = "/jsonrpc"
	DefaultBinary          = "aria2c"
	DefaultMaxRetries      = 3
	DefaultConnectAttempts = 10
)

type Config struct {
	Version       int               `yaml:"version"`
	Daemon        Daemon            `yaml:"daemon"`
	Download      Download          `yaml:"download"`
	GlobalOptions map[string]string `yaml:"global_options,omitempty"`
}

// Daemon describes where the aria2 JSON-RPC endpoint lives and, when Spawn is
// set, how to start it.
type Daemon struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	Path            string   `yaml:"path"`
	Secure          bool     `yaml:"secure"`
	Spawn           bool     `yaml:"spawn"`
	Binary          string   `yaml:"binary"`
	ExtraArgs       []string `yaml:"extra_args,omitempty"`
	ConnectAttempts int      `yaml:"connect_attempts"`
}

type Download struct {
	Dir        string `yaml:"dir"`
	MaxRetries int    `yaml:"max_retries"`
}

func DefaultConfig() Config {
	return Config{
		Version: 1,
		Daemon: Daemon{
			Host:            DefaultHost,
			Port:            DefaultPort,
			Path:            DefaultPath,
			Binary:          DefaultBinary,
			ConnectAttempts: DefaultConnectAttempts,
		},
		Download: Download{
			Dir:        ".",
			MaxRetries: DefaultMaxRetries,
		},
		GlobalOptions: map[string]string{},
	}
}
