// Package config handles loading and validating LumiSync Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (LUMISYNC_*)
//   - Validation of ranges and required fields
//   - Default value handling
//
// Credentials (MQTT password, InfluxDB token) should be supplied through the
// environment rather than the file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Network.ListenPort)
package config
