package sensor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	iioTemperatureFile = "in_temp_input"
	iioHumidityFile    = "in_humidityrelative_input"

	minTemperature = -40.0
	maxTemperature = 80.0
)

// IIOProbe reads a humidity/temperature sensor exposed through the Linux
// industrial I/O sysfs interface, such as a DHT22 bound to the dht11 driver.
// Values are reported in milli-units.
type IIOProbe struct {
	dir         string
	temperature float64
	humidity    float64
}

// NewIIOProbe returns a probe for the device directory, for example
// /sys/bus/iio/devices/iio:device0.
func NewIIOProbe(dir string) (*IIOProbe, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("sensor: iio device directory must be provided")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("sensor: stat iio device: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sensor: %s is not a directory", dir)
	}
	return &IIOProbe{dir: dir}, nil
}

// Measure samples both channels. The driver returns EIO when the sensor
// misses its timing window, which surfaces here as a transient error.
func (p *IIOProbe) Measure(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	temp, err := readMilli(filepath.Join(p.dir, iioTemperatureFile))
	if err != nil {
		return err
	}
	hum, err := readMilli(filepath.Join(p.dir, iioHumidityFile))
	if err != nil {
		return err
	}

	if temp < minTemperature || temp > maxTemperature {
		return fmt.Errorf("sensor: temperature %.1f out of range", temp)
	}
	if hum < 0 || hum > 100 {
		return fmt.Errorf("sensor: humidity %.1f out of range", hum)
	}

	p.temperature = temp
	p.humidity = hum
	return nil
}

// Temperature returns degrees Celsius from the last successful Measure.
func (p *IIOProbe) Temperature() float64 { return p.temperature }

// Humidity returns relative humidity percent from the last successful Measure.
func (p *IIOProbe) Humidity() float64 { return p.humidity }

func readMilli(path string) (float64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("sensor: read %s: %w", filepath.Base(path), err)
	}
	value, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("sensor: parse %s: %w", filepath.Base(path), err)
	}
	return float64(value) / 1000, nil
}
