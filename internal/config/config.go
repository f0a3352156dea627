package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	GNSS      GNSSConfig      `yaml:"gnss"`
	LoRa      LoRaConfig      `yaml:"lora"`
	Cycle     CycleConfig     `yaml:"cycle"`
	Indicator IndicatorConfig `yaml:"indicator"`
	Web       WebConfig       `yaml:"web"`
}

type GNSSConfig struct {
	// Device is the receiver's serial node; empty means auto-detect
	// /dev/ttyACM* then /dev/ttyUSB*.
	Device  string        `yaml:"device"`
	Baud    int           `yaml:"baud"`
	Timeout time.Duration `yaml:"timeout"`
	// EnablePin is the BCM pin powering the receiver; 0 means none.
	EnablePin    int           `yaml:"enable_pin"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type LoRaConfig struct {
	Enable bool `yaml:"enable"`
	// EnablePin is read with the pull-up on; a low level disables the radio.
	EnablePin int    `yaml:"enable_pin"`
	Backend   string `yaml:"backend"`
	Device    string `yaml:"device"`
	Baud      int    `yaml:"baud"`
	UDPDest   string `yaml:"udp_dest"`

	Mode    string `yaml:"mode"`
	DevEUI  string `yaml:"dev_eui"`
	AppEUI  string `yaml:"app_eui"`
	AppKey  string `yaml:"app_key"`
	DevAddr string `yaml:"dev_addr"`
	NwkSKey string `yaml:"nwk_skey"`
	AppSKey string `yaml:"app_skey"`

	DataRate    int           `yaml:"data_rate"`
	Port        int           `yaml:"port"`
	JoinBackoff time.Duration `yaml:"join_backoff"`
}

type CycleConfig struct {
	Period           time.Duration `yaml:"period"`
	StartImmediately bool          `yaml:"start_immediately"`
	LEDHold          time.Duration `yaml:"led_hold"`
}

type IndicatorConfig struct {
	GPIO RGBConfig  `yaml:"gpio"`
	MQTT MQTTConfig `yaml:"mqtt"`
}

type RGBConfig struct {
	Enable   bool `yaml:"enable"`
	RedPin   int  `yaml:"red_pin"`
	GreenPin int  `yaml:"green_pin"`
	BluePin  int  `yaml:"blue_pin"`
}

type MQTTConfig struct {
	Enable   bool   `yaml:"enable"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
}

type WebConfig struct {
	// Listen is host:port for the status server; empty disables it.
	Listen string `yaml:"listen"`
}

// Default returns the configuration used for keys absent from the file.
func Default() Config {
	return Config{
		GNSS: GNSSConfig{
			Baud:         9600,
			Timeout:      5 * time.Second,
			PollInterval: 50 * time.Millisecond,
		},
		LoRa: LoRaConfig{
			Enable:      true,
			Backend:     "at",
			Baud:        115200,
			Mode:        "otaa",
			DataRate:    5,
			Port:        2,
			JoinBackoff: 2500 * time.Millisecond,
		},
		Cycle: CycleConfig{
			Period:  180 * time.Second,
			LEDHold: 200 * time.Millisecond,
		},
		Indicator: IndicatorConfig{
			MQTT: MQTTConfig{ClientID: "loramapper", Topic: "loramapper/state"},
		},
	}
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	g := &cfg.GNSS
	g.Device = strings.TrimSpace(g.Device)
	if g.Baud <= 0 {
		return fmt.Errorf("gnss.baud must be > 0")
	}
	if g.Timeout <= 0 {
		return fmt.Errorf("gnss.timeout must be > 0")
	}
	if g.PollInterval <= 0 {
		return fmt.Errorf("gnss.poll_interval must be > 0")
	}
	if g.EnablePin < 0 {
		return fmt.Errorf("gnss.enable_pin must be >= 0")
	}

	if cfg.Cycle.Period <= 0 {
		return fmt.Errorf("cycle.period must be > 0")
	}
	if cfg.Cycle.Period < g.Timeout {
		return fmt.Errorf("cycle.period (%s) must be >= gnss.timeout (%s)", cfg.Cycle.Period, g.Timeout)
	}
	if cfg.Cycle.LEDHold < 0 {
		return fmt.Errorf("cycle.led_hold must be >= 0")
	}

	if err := cfg.LoRa.validate(); err != nil {
		return err
	}

	rgb := cfg.Indicator.GPIO
	if rgb.Enable && (rgb.RedPin <= 0 || rgb.GreenPin <= 0 || rgb.BluePin <= 0) {
		return fmt.Errorf("indicator.gpio red_pin, green_pin and blue_pin are required when indicator.gpio.enable is true")
	}
	mq := &cfg.Indicator.MQTT
	if mq.Enable {
		if strings.TrimSpace(mq.Broker) == "" {
			return fmt.Errorf("indicator.mqtt.broker is required when indicator.mqtt.enable is true")
		}
		if strings.TrimSpace(mq.Topic) == "" {
			return fmt.Errorf("indicator.mqtt.topic is required when indicator.mqtt.enable is true")
		}
	}

	cfg.Web.Listen = strings.TrimSpace(cfg.Web.Listen)
	return nil
}

func (l *LoRaConfig) validate() error {
	l.Backend = strings.ToLower(strings.TrimSpace(l.Backend))
	l.Mode = strings.ToLower(strings.TrimSpace(l.Mode))
	if l.EnablePin < 0 {
		return fmt.Errorf("lora.enable_pin must be >= 0")
	}
	if !l.Enable {
		return nil
	}

	switch l.Backend {
	case "at":
		if strings.TrimSpace(l.Device) == "" {
			return fmt.Errorf("lora.device is required when lora.backend=at")
		}
		if l.Baud <= 0 {
			return fmt.Errorf("lora.baud must be > 0")
		}
	case "udp":
		if strings.TrimSpace(l.UDPDest) == "" {
			return fmt.Errorf("lora.udp_dest is required when lora.backend=udp")
		}
	default:
		return fmt.Errorf("lora.backend must be at or udp (got %q)", l.Backend)
	}

	if l.Mode != "otaa" && l.Mode != "abp" {
		return fmt.Errorf("lora.mode must be otaa or abp (got %q)", l.Mode)
	}

	// Keys are optional here: a missing key is reported by the joiner so
	// the operator sees the device EUI first. Present keys must be well formed.
	for _, k := range []struct {
		name  string
		value *string
		bytes int
	}{
		{"lora.dev_eui", &l.DevEUI, 8},
		{"lora.app_eui", &l.AppEUI, 8},
		{"lora.app_key", &l.AppKey, 16},
		{"lora.dev_addr", &l.DevAddr, 4},
		{"lora.nwk_skey", &l.NwkSKey, 16},
		{"lora.app_skey", &l.AppSKey, 16},
	} {
		v := strings.ToUpper(strings.TrimSpace(*k.value))
		*k.value = v
		if v == "" {
			continue
		}
		b, err := hex.DecodeString(v)
		if err != nil {
			return fmt.Errorf("%s must be hex: %v", k.name, err)
		}
		if len(b) != k.bytes {
			return fmt.Errorf("%s must be %d bytes (%d hex chars), got %d", k.name, k.bytes, 2*k.bytes, len(b))
		}
	}

	if l.DataRate < 0 || l.DataRate > 15 {
		return fmt.Errorf("lora.data_rate must be in [0,15]")
	}
	if l.Port < 1 || l.Port > 223 {
		return fmt.Errorf("lora.port must be in [1,223]")
	}
	if l.JoinBackoff <= 0 {
		return fmt.Errorf("lora.join_backoff must be > 0")
	}
	return nil
}
