// Package config holds the settings of the fetch command that are not
// specific to a single download.
//
// Values are resolved in this order, later sources winning:
//   - built-in defaults ([Default])
//   - a YAML file, by default $XDG_CONFIG_HOME/fetch/config.yaml
//   - environment variables (FETCH_ prefix)
//   - command-line flags
//
// # File format
//
//	user_agent: mirror-bot/1.0
//	read_buffer_size: 32768
//	write_buffer_size: 65536
//	rate_limit: 2 MB        # bytes per second, 0 or empty is unlimited
//	timeout: 30m
//	report_interval: 1s
//	window: 5
//	checksum_algorithm: sha256
//	metrics_addr: localhost:9090
//	verbose: false
package config
