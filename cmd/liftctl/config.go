package main

import (
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/fieldstation/lift_interface/input"
	"github.com/fieldstation/lift_interface/lift"
	"github.com/fieldstation/lift_interface/telemetry"
	"github.com/fieldstation/lift_interface/wifi"
)

type inputsConfig struct {
	// Driver selects "gpio" (default) or "modbus".
	Driver string `yaml:"driver"`
	Modbus struct {
		Address string `yaml:"address"`
		Port    string `yaml:"port"`
		Baud    int    `yaml:"baud"`
		SlaveID byte   `yaml:"slave_id"`
	} `yaml:"modbus"`
	GPIOBase string `yaml:"gpio_base"`
}

type influxConfig struct {
	Server string `yaml:"server"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

type stationConfig struct {
	Lift          lift.Config   `yaml:"lift"`
	Inputs        inputsConfig  `yaml:"inputs"`
	WifiInterface string        `yaml:"wifi_interface"`
	Influx        *influxConfig `yaml:"influx"`
}

func loadConfig(path string) (*stationConfig, error) {
	cfg := &stationConfig{Lift: lift.DefaultConfig()}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logrus.Warnf("config file %q not found, using defaults", path)
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	return cfg, cfg.Lift.Validate()
}

func (cfg *stationConfig) inputs() (input.Reader, func(), error) {
	switch cfg.Inputs.Driver {
	case "", "gpio":
		return &input.GPIO{Base: cfg.Inputs.GPIOBase}, func() {}, nil
	case "modbus":
		bank := &input.ModbusBank{
			Port:     cfg.Inputs.Modbus.Port,
			BaudRate: cfg.Inputs.Modbus.Baud,
			SlaveID:  cfg.Inputs.Modbus.SlaveID,
			Address:  cfg.Inputs.Modbus.Address,
		}
		if err := bank.Connect(); err != nil {
			return nil, nil, err
		}
		return bank, func() { bank.Close() }, nil
	}
	return nil, nil, errors.Errorf("unknown input driver %q", cfg.Inputs.Driver)
}

// controller wires a lift.Controller from the station config. The returned
// cleanup closes the input bank and flushes telemetry.
func (cfg *stationConfig) controller() (*lift.Controller, func(), error) {
	log := logrus.WithField("component", "lift")

	inputs, closeInputs, err := cfg.inputs()
	if err != nil {
		return nil, nil, err
	}

	var recorder telemetry.Recorder
	var closeInflux func()
	if cfg.Influx != nil {
		influx := telemetry.NewInflux(cfg.Influx.Server, cfg.Influx.Token, cfg.Influx.Org, cfg.Influx.Bucket, log)
		recorder = influx
		closeInflux = influx.Close
	}

	c, err := lift.New(cfg.Lift, lift.Deps{
		Inputs:   inputs,
		Network:  wifi.NewSupplicant(cfg.WifiInterface, logrus.WithField("component", "wifi")),
		Recorder: recorder,
		Log:      log,
	})
	if err != nil {
		closeInputs()
		if closeInflux != nil {
			closeInflux()
		}
		return nil, nil, err
	}
	cleanup := func() {
		closeInputs()
		if closeInflux != nil {
			closeInflux()
		}
	}
	return c, cleanup, nil
}
