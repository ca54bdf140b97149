// Package config loads the IOC's config.yaml.
//
// Values are layered: built-in defaults, then the file, then P2PLANT_*
// environment variables such as P2PLANT_PLANT_CONNECTION or
// P2PLANT_MQTT_PASSWORD. Keep secrets (MQTT password, InfluxDB token, JWT
// secret) in the environment. Validate reports every problem at once.
//
//	cfg, err := config.Load(path)
//	if errors.Is(err, fs.ErrNotExist) {
//	    cfg, err = config.LoadDefaults()
//	}
package config
