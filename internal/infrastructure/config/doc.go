// Package config loads config.yaml for the substation service.
//
// Values resolve in three layers: compiled-in defaults, the YAML file, and
// SUBSTATION_* environment variables. Unknown YAML keys are rejected so a
// misspelt setting fails at startup instead of silently keeping its default.
// Credentials such as SUBSTATION_JWT_SECRET, SUBSTATION_MQTT_PASSWORD and
// SUBSTATION_INFLUXDB_TOKEN are best supplied through the environment.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//		return err
//	}
//	srv.ReadTimeout = cfg.API.Timeouts.ReadTimeout()
package config
