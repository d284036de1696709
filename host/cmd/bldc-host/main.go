package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/abiosoft/ishell"

	"gobldc/config"
	"gobldc/host/mcu"
	"gobldc/host/serial"
)

var (
	device     = flag.String("device", "", "Serial device path (overrides BLDC_PORT and the config file)")
	configPath = flag.String("config", "", "YAML configuration file (default $BLDC_CONFIG)")
	verbose    = flag.Bool("verbose", false, "Enable verbose output")
	listPorts  = flag.Bool("list", false, "List serial ports and exit")
)

const defaultDevice = "/dev/ttyACM0"

func main() {
	flag.Parse()

	if *listPorts {
		if err := printPorts(os.Stdout); err != nil {
			fatalf("Failed to list ports: %v", err)
		}
		return
	}

	e, err := config.LoadEnv()
	if err != nil {
		fatalf("%v", err)
	}
	cfg, err := loadConfig(*configPath, e)
	if err != nil {
		fatalf("%v", err)
	}

	fmt.Println("bldc-host - actuator firmware shell")
	fmt.Println("===================================")

	m := mcu.NewMCU()
	if *verbose || e.Debug {
		m.SetLogOutput(os.Stderr)
	}
	m.SetResponseTimeout(cfg.ResponseTimeout)

	fmt.Printf("Connecting to MCU on %s...\n", cfg.Port)
	err = m.ConnectWithConfig(&serial.Config{
		Device:      cfg.Port,
		Baud:        cfg.Baud,
		ReadTimeout: int(cfg.ReadTimeout / time.Millisecond),
	})
	if err != nil {
		fatalf("Failed to connect: %v", err)
	}
	defer m.Close()

	if err := m.RetrieveDictionary(); err != nil {
		fatalf("Failed to retrieve dictionary: %v", err)
	}
	fmt.Printf("Connected, firmware %s\n", m.GetDictionary().Version)

	m.OnMessage(func(msg mcu.Message) {
		if msg.Name == "shutdown" {
			fmt.Printf("\n!! MCU shutdown: %s\n", msg.Bytes("reason"))
		}
	})

	for _, a := range cfg.Actuators {
		if err := m.ApplyCalibration(a); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			continue
		}
		fmt.Printf("Calibrated %s (oid %d)\n", a.Name, a.OID)
	}

	shell := ishell.New()
	shell.Println("Type 'help' for available commands")
	shell.ShowPrompt(true)
	newSession(m, cfg).register(shell)
	shell.Start()
}

// loadConfig reads the configuration file, falling back to defaults when it
// does not exist, and applies the environment and the -device flag
func loadConfig(path string, e config.Env) (*config.Config, error) {
	if path == "" {
		path = e.ConfigPath
	}

	cfg, err := config.Load(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		cfg = config.DefaultConfig()
	case err != nil:
		return nil, err
	}

	cfg.ApplyEnv(e)
	if *device != "" {
		cfg.Port = *device
	}
	if cfg.Port == "" {
		cfg.Port = defaultDevice
	}
	return cfg, nil
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
