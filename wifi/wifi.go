// Package wifi joins and leaves WPA networks by driving wpa_supplicant and
// dhclient, the way the station image does networking.
package wifi

import (
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Network identifies a WPA2 network.
type Network struct {
	SSID string `yaml:"ssid"`
	PSK  string `yaml:"psk"`
}

// ConnectionError reports a failure to join or leave a network.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string { return "wifi: " + e.Err.Error() }
func (e *ConnectionError) Unwrap() error { return e.Err }

// Manager joins and leaves a named wireless network. Implementations
// serialize their own access; callers bracket Connect/Disconnect around
// exclusive device use.
type Manager interface {
	Connect(network Network) error
	Disconnect() error
}

// Supplicant is the production Manager. It owns at most one wpa_supplicant
// process at a time.
type Supplicant struct {
	Interface string
	Log       *logrus.Entry

	supplicant *exec.Cmd
}

func NewSupplicant(iface string, log *logrus.Entry) *Supplicant {
	if iface == "" {
		iface = "wlan0"
	}
	return &Supplicant{Interface: iface, Log: log}
}

// generateConfig writes a wpa_supplicant config for the network and returns
// its path. wpa_passphrase derives the PSK hash.
func (s *Supplicant) generateConfig(network Network) (string, error) {
	name := base64.StdEncoding.EncodeToString([]byte(network.SSID))
	path := filepath.Join(os.TempDir(), fmt.Sprintf("wpa_%s.conf", name))
	s.Log.Debugf("generating wpa config at %s", path)

	out, err := exec.Command("wpa_passphrase", network.SSID, network.PSK).Output()
	if err != nil {
		return "", errors.Wrap(err, "wpa_passphrase")
	}
	if err := os.WriteFile(path, out, 0600); err != nil {
		return "", err
	}
	return path, nil
}

func run(args ...string) error {
	out, err := exec.Command(args[0], args[1:]...).CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "%s: %s", args[0], out)
	}
	return nil
}

func (s *Supplicant) Connect(network Network) error {
	s.Log.Infof("connecting to wifi %q", network.SSID)
	if s.supplicant != nil {
		if err := s.Disconnect(); err != nil {
			return err
		}
	}

	configPath, err := s.generateConfig(network)
	if err != nil {
		return &ConnectionError{Err: err}
	}

	cmd := exec.Command("wpa_supplicant", "-c", configPath, "-i", s.Interface)
	if err := cmd.Start(); err != nil {
		return &ConnectionError{Err: errors.Wrap(err, "wpa_supplicant")}
	}
	s.supplicant = cmd

	if err := run("dhclient", s.Interface); err != nil {
		s.kill()
		return &ConnectionError{Err: err}
	}
	s.Log.Info("wifi connection established")
	return nil
}

func (s *Supplicant) Disconnect() error {
	s.Log.Info("disconnecting wifi")
	if err := run("dhclient", "-r", s.Interface); err != nil {
		s.Log.Warnf("releasing dhcp lease: %v", err)
	}
	s.kill()
	if err := run("ifconfig", s.Interface, "down"); err != nil {
		return &ConnectionError{Err: err}
	}
	s.Log.Info("wifi disconnected")
	return nil
}

func (s *Supplicant) kill() {
	if s.supplicant == nil {
		return
	}
	s.Log.Debug("stopping wpa_supplicant")
	if err := s.supplicant.Process.Signal(syscall.SIGINT); err != nil {
		s.Log.Warnf("signaling wpa_supplicant: %v", err)
	}
	s.supplicant.Wait()
	s.supplicant = nil
}
