package records

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"keepwarm/internal/models"
)

// PlaceholderName labels targets stored without a name.
const PlaceholderName = "Unnamed"

// DefaultSeed is the target set written on first start.
func DefaultSeed() []models.TargetInput {
	return []models.TargetInput{
		{URL: "https://www.baidu.com", Name: "Baidu", Mode: string(models.ModeContinuous)},
		{URL: "https://www.yahoo.com", Name: "Yahoo", Mode: string(models.ModeContinuous)},
		{URL: "https://www.google.com", Name: "Google", Mode: string(models.ModeScheduled)},
	}
}

type seedFile struct {
	Targets []models.TargetInput `yaml:"targets"`
}

// LoadSeedFile reads a YAML list of targets to use in place of DefaultSeed:
//
//	targets:
//	  - url: https://app.example.com/healthz
//	    name: app
//	    mode: continuous
//	    active: true
func LoadSeedFile(path string) ([]models.TargetInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing seed file: %w", err)
	}
	for i, in := range f.Targets {
		if _, _, _, err := validate(in); err != nil {
			return nil, fmt.Errorf("seed target %d: %w", i, err)
		}
	}
	return f.Targets, nil
}
