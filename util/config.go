package util

import (
	_ "embed"
	"fmt"
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

const Name = "vireo"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host     string
		HttpPort int `yaml:"httpPort"`
		// Domain is the public hostname this node is reachable under; every
		// FQID minted here starts with https://<domain>.
		Domain   string `yaml:"domain"`
		NodeName string `yaml:"nodeName"`
		WithFed  bool   `yaml:"withFed"`

		// Outbound delivery tuning.
		MaxAttempts        int `yaml:"maxAttempts"`
		BackoffBaseSec     int `yaml:"backoffBaseSec"`
		BackoffCapSec      int `yaml:"backoffCapSec"`
		DeliveryTimeoutSec int `yaml:"deliveryTimeoutSec"`
	}
}

// BaseURL returns the canonical prefix of every FQID this node mints.
func (c *AppConfig) BaseURL() string {
	return fmt.Sprintf("https://%s", c.Conf.Domain)
}

func ReadConf() (*AppConfig, error) {

	c := &AppConfig{}

	// Try to resolve config file path (local first, then user dir)
	configPath := ResolveFilePath(ConfigFileName)

	var buf []byte
	var err error

	// Try to read from resolved path
	buf, err = os.ReadFile(configPath)
	if err != nil {
		// If file doesn't exist, use embedded config and create user config file
		log.Printf("Config file not found at %s, using embedded defaults", configPath)
		buf = embeddedConfig

		// Try to write default config to user config directory
		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644)
			if writeErr != nil {
				log.Printf("Warning: could not write default config to %s: %v", userConfigPath, writeErr)
			} else {
				log.Printf("Created default config file at %s", userConfigPath)
			}
		}
	}

	err = yaml.Unmarshal(buf, c)
	if err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	envHost := os.Getenv("VIREO_HOST")
	envHttpPort := os.Getenv("VIREO_HTTPPORT")
	envDomain := os.Getenv("VIREO_DOMAIN")
	envNodeName := os.Getenv("VIREO_NODENAME")
	envWithFed := os.Getenv("VIREO_WITH_FED")
	envMaxAttempts := os.Getenv("VIREO_MAX_ATTEMPTS")

	if envHost != "" {
		c.Conf.Host = envHost
	}

	if envHttpPort != "" {
		v, err := strconv.Atoi(envHttpPort)
		if err != nil {
			fmt.Println(err)
		}
		c.Conf.HttpPort = v
	}

	if envDomain != "" {
		c.Conf.Domain = envDomain
	}

	if envNodeName != "" {
		c.Conf.NodeName = envNodeName
	}

	if envWithFed == "true" {
		c.Conf.WithFed = true
	}

	if envMaxAttempts != "" {
		v, err := strconv.Atoi(envMaxAttempts)
		if err != nil {
			fmt.Println(err)
		}
		c.Conf.MaxAttempts = v
	}

	applyDeliveryDefaults(c)

	return c, nil
}

func applyDeliveryDefaults(c *AppConfig) {
	if c.Conf.MaxAttempts <= 0 {
		c.Conf.MaxAttempts = 5
	}
	if c.Conf.BackoffBaseSec <= 0 {
		c.Conf.BackoffBaseSec = 30
	}
	if c.Conf.BackoffCapSec <= 0 {
		c.Conf.BackoffCapSec = 3600
	}
	if c.Conf.DeliveryTimeoutSec <= 0 {
		c.Conf.DeliveryTimeoutSec = 15
	}
}
