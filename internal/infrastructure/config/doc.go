// Package config loads and validates the CellFleet Core configuration.
//
// Configuration comes from a YAML file, with environment variable
// overrides applied on top and defaults filled in for anything left
// unset. Validation runs once after loading; a config that passes is
// immutable for the life of the process.
//
// Secrets (broker passwords, InfluxDB tokens) belong in environment
// variables rather than the YAML file, and the file itself should be
// kept at restrictive permissions.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Fleet.Name)
package config
