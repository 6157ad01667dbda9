package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Device DeviceConfig `yaml:"device"`
	MQTT   MQTTConfig   `yaml:"mqtt"`
	Zones  []ZoneConfig `yaml:"zones"`
	Log    string       `yaml:"log"`
}

type DeviceConfig struct {
	// Type is socket, serial or usb.
	Type string `yaml:"type"`

	// Address is host:port for socket devices, or the port path for serial
	// and usb devices.
	Address string `yaml:"address"`

	Baud int `yaml:"baud"`

	// Mode is ADEMCO or DSC.
	Mode string `yaml:"mode"`

	// Code is the user code used for arm/disarm commands received over MQTT.
	Code string `yaml:"code"`

	AddressMask string `yaml:"address_mask"`

	// TLS material for ser2sock authenticated mode.
	CA   string `yaml:"ca"`
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

type MQTTConfig struct {
	ClientID  string `yaml:"client_id"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Keepalive int    `yaml:"keepalive"`
	Password  string `yaml:"password"`
	QOS       int    `yaml:"qos"`
	Retain    bool   `yaml:"retain"`
	RetainLog bool   `yaml:"retain_log"`
	Username  string `yaml:"username"`
	Prefix    string `yaml:"prefix"`
	Clean     bool   `yaml:"clean"`
}

type ZoneConfig struct {
	Number int    `yaml:"number"`
	Name   string `yaml:"name"`

	// RFSerial ties a wireless transmitter to this zone.
	RFSerial string `yaml:"rf_serial"`
}

func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %v", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %v", err)
	}

	// Set default values
	if config.Device.Type == "" {
		config.Device.Type = "socket"
	}
	if config.Device.Address == "" {
		config.Device.Address = "localhost:10000"
	}
	if config.Device.Mode == "" {
		config.Device.Mode = "ADEMCO"
	}
	if config.MQTT.ClientID == "" {
		config.MQTT.ClientID = "ad2mqtt"
	}
	if config.MQTT.Host == "" {
		config.MQTT.Host = "localhost"
	}
	if config.MQTT.Port == 0 {
		config.MQTT.Port = 1883
	}
	if config.MQTT.Keepalive == 0 {
		config.MQTT.Keepalive = 60
	}
	if config.MQTT.Prefix == "" {
		config.MQTT.Prefix = "ad2mqtt"
	}
	if config.Log == "" {
		config.Log = "info"
	}

	return &config, nil
}

// TLSConfig builds the client TLS configuration from the device's
// certificate material. Returns nil when no material is configured.
func (d DeviceConfig) TLSConfig() (*tls.Config, error) {
	if d.CA == "" && d.Cert == "" && d.Key == "" {
		return nil, nil
	}

	cfg := &tls.Config{}

	if d.CA != "" {
		pem, err := os.ReadFile(d.CA)
		if err != nil {
			return nil, fmt.Errorf("error reading CA file: %v", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in CA file %s", d.CA)
		}
		cfg.RootCAs = pool
	}

	if d.Cert != "" || d.Key != "" {
		cert, err := tls.LoadX509KeyPair(d.Cert, d.Key)
		if err != nil {
			return nil, fmt.Errorf("error loading client certificate: %v", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

// RFZones extracts the serial-to-zone mapping from the configured zones.
func (c *Config) RFZones() map[string]int {
	out := make(map[string]int)
	for _, z := range c.Zones {
		if z.RFSerial != "" && z.Number > 0 {
			out[z.RFSerial] = z.Number
		}
	}
	return out
}

// ZoneName returns the configured display name for a zone, or a generic one.
func (c *Config) ZoneName(number int) string {
	for _, z := range c.Zones {
		if z.Number == number && z.Name != "" {
			return z.Name
		}
	}
	return fmt.Sprintf("Zone %d", number)
}
