package main

import (
	"os"

	"gopkg.in/yaml.v3"
)

// config holds broker defaults for the demo CLI only; the core library
// itself takes no config file (spec.md §"Configuration"). Fields left
// zero in the YAML file fall back to the defaults applied in loadConfig,
// following alibo-simple-mqtt-network-lab/go-backend/main.go's
// loadConfig pattern.
type config struct {
	Broker struct {
		Host          string `yaml:"host"`
		Port          int    `yaml:"port"`
		ClientIDPrefix string `yaml:"client_id_prefix"`
		KeepAliveSecs int    `yaml:"keepalive_secs"`
	} `yaml:"broker"`
	QoS int `yaml:"qos"`
}

func loadConfig(path string) (config, error) {
	var c config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return config{}, err
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return config{}, err
		}
	}

	if c.Broker.Host == "" {
		c.Broker.Host = "localhost"
	}
	if c.Broker.Port == 0 {
		c.Broker.Port = 1883
	}
	if c.Broker.ClientIDPrefix == "" {
		c.Broker.ClientIDPrefix = "mqttcore"
	}
	if c.Broker.KeepAliveSecs == 0 {
		c.Broker.KeepAliveSecs = 30
	}
	return c, nil
}
