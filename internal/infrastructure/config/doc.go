// Package config handles loading and validating the hub link configuration.
//
// This package manages:
//   - Loading configuration from an optional YAML file
//   - Overriding with environment variables (HASS_* for the hub, GRAYLOGIC_* for infrastructure)
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - The hub access token should be set via HASS_ACCESS_TOKEN, not committed to a file
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/hass.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Hub.Host)
package config
