package config

import "fmt"

func DefaultTemplate() string {
	return fmt.Sprintf(`version: 1
daemon:
  host: %q
  port: %d
  path: %q
  secure: false
  # start aria2c before the batch and stop it afterwards
  spawn: false
  binary: %q
  extra_args: []
  connect_attempts: %d
download:
  dir: "~/Downloads/ariadl"
  max_retries: %d
global_options:
  max-concurrent-downloads: "5"
`, DefaultHost, DefaultPort, DefaultPath, DefaultBinary, DefaultConnectAttempts, DefaultMaxRetries)
}
