package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/omnicirculus/dealengine/internal/domain"
)

// fleetFile is the on-disk shape of FLEET_FILE:
//
//	drivers:
//	  - name: Ramesh Kumar
//	    vehicle: Tata Ace
//	    plate: MH-12-AB-1234
//	    contact: "+91 98765 43210"
type fleetFile struct {
	Drivers []domain.Driver `yaml:"drivers"`
}

// LoadFleet reads the delivery pool from path. An empty path returns the
// built-in pool.
func LoadFleet(path string) ([]domain.Driver, error) {
	if path == "" {
		return domain.DefaultFleet(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.LoadFleet: %w", err)
	}
	return ParseFleet(raw)
}

// ParseFleet decodes a fleet document. Every driver needs a name and a plate.
func ParseFleet(raw []byte) ([]domain.Driver, error) {
	var f fleetFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("config.ParseFleet: %w", err)
	}
	if len(f.Drivers) == 0 {
		return nil, errors.New("config.ParseFleet: fleet has no drivers")
	}
	var errs []error
	for i, d := range f.Drivers {
		if strings.TrimSpace(d.Name) == "" {
			errs = append(errs, fmt.Errorf("driver %d: name is required", i))
		}
		if strings.TrimSpace(d.Plate) == "" {
			errs = append(errs, fmt.Errorf("driver %d: plate is required", i))
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("config.ParseFleet: %w", errors.Join(errs...))
	}
	return f.Drivers, nil
}
