// Package config handles loading and validating SerialHome Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Durations (serial.response_timeout, scheduler.startup_stagger, ...) use Go
// duration syntax in YAML, e.g. "10s" or "250ms".
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Serial.Device)
package config
