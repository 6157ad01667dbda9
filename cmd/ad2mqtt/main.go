package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/nutechsoftware/alarmdecoder"
	"github.com/nutechsoftware/alarmdecoder/device"
	"github.com/nutechsoftware/alarmdecoder/internal/config"
	"github.com/nutechsoftware/alarmdecoder/internal/log"
	"github.com/nutechsoftware/alarmdecoder/internal/mqtt"
	"github.com/nutechsoftware/alarmdecoder/protocol"
)

func main() {
	configFile := flag.String("config", "config.yml", "Path to configuration file")
	listPorts := flag.Bool("list", false, "List candidate AD2USB serial ports and exit")
	flag.Parse()

	if *listPorts {
		ports, err := device.FindAll()
		if err != nil {
			fmt.Printf("Error listing serial ports: %v\n", err)
			os.Exit(1)
		}
		for _, port := range ports {
			fmt.Println(port)
		}
		return
	}

	// Load configuration
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Create logger
	logger := log.NewLogger(cfg.Log)

	// Create transport
	transport, err := newTransport(cfg.Device)
	if err != nil {
		logger.Error("Failed to configure device: %v", err)
		os.Exit(1)
	}

	// Create alarm session
	var mode protocol.Mode
	switch cfg.Device.Mode {
	case "ADEMCO", "A":
		mode = protocol.ModeADEMCO
	case "DSC", "D":
		mode = protocol.ModeDSC
	default:
		logger.Error("Unknown panel mode: %s", cfg.Device.Mode)
		os.Exit(1)
	}

	sessionCfg := alarmdecoder.Config{
		Mode:        mode,
		RFZones:     cfg.RFZones(),
		AddressMask: parseMask(cfg.Device.AddressMask, logger),
	}
	session := alarmdecoder.New(transport, sessionCfg, logger)

	// Create MQTT client
	mqttClient := mqtt.NewMQTT(cfg, session, logger)

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Connect to the AD2 device
	if err := session.Open(); err != nil {
		logger.Error("Failed to open device: %v", err)
		os.Exit(1)
	}

	// Connect to MQTT broker
	if err := mqttClient.Connect(); err != nil {
		logger.Error("Failed to connect to MQTT broker: %v", err)
		session.Close()
		os.Exit(1)
	}

	// Wait for termination signal
	<-sigChan

	// Graceful shutdown
	logger.Info("Shutting down...")
	mqttClient.Close()
	session.Close()
}

func newTransport(cfg config.DeviceConfig) (device.Transport, error) {
	switch cfg.Type {
	case "socket":
		tlsCfg, err := cfg.TLSConfig()
		if err != nil {
			return nil, err
		}
		return device.NewSocketDevice(device.SocketConfig{
			Address: cfg.Address,
			TLS:     tlsCfg,
		}), nil
	case "serial":
		return device.NewSerialDevice(device.SerialConfig{
			Path:     cfg.Address,
			BaudRate: cfg.Baud,
		}), nil
	case "usb":
		return device.NewUSBDevice(cfg.Address), nil
	default:
		return nil, fmt.Errorf("unknown device type: %s", cfg.Type)
	}
}

func parseMask(s string, logger *log.Logger) uint32 {
	if s == "" {
		return 0
	}
	mask, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		logger.Warning("Invalid address mask %q, listening to all addresses", s)
		return 0
	}
	return uint32(mask)
}
