package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"spacehire/internal/models"
)

// WindowConfig is one open-hours window of a space.
type WindowConfig struct {
	Day   string `yaml:"day"`   // weekday name, "weekdays", "daily" or YYYY-MM-DD
	Start string `yaml:"start"` // "09:00"
	End   string `yaml:"end"`   // "17:00"
}

// SpaceConfig represents a single space in spaces.yaml.
type SpaceConfig struct {
	ID              int64          `yaml:"id"`
	HostID          int64          `yaml:"host_id"`
	Name            string         `yaml:"name"`
	RatePerHour     int64          `yaml:"rate_per_hour"`
	MinHours        int            `yaml:"min_hours"`
	DiscountHours   int            `yaml:"discount_hours"`
	DiscountPercent int            `yaml:"discount_percent"`
	Published       bool           `yaml:"published"`
	Timezone        string         `yaml:"timezone"`
	Jurisdiction    string         `yaml:"jurisdiction"`
	PayoutAccount   string         `yaml:"payout_account"`
	Availability    []WindowConfig `yaml:"availability,omitempty"`
}

// SpacesConfig is the root configuration for spaces.yaml.
type SpacesConfig struct {
	Spaces   []SpaceConfig `yaml:"spaces"`
	Defaults struct {
		Timezone     string         `yaml:"timezone"`
		Availability []WindowConfig `yaml:"availability"`
	} `yaml:"defaults"`
}

// LoadSpacesConfig loads and validates spaces configuration from YAML file.
func LoadSpacesConfig(path string) (*SpacesConfig, error) {
	if path == "" {
		path = "configs/spaces.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spaces config: %w", err)
	}
	return ParseSpacesConfig(data)
}

// ParseSpacesConfig decodes spaces.yaml content, fills defaults and validates it.
func ParseSpacesConfig(data []byte) (*SpacesConfig, error) {
	var cfg SpacesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse spaces config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate spaces config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration for errors.
func (c *SpacesConfig) Validate() error {
	ids := make(map[int64]bool)
	for i, sp := range c.Spaces {
		if sp.ID <= 0 {
			return fmt.Errorf("space[%d]: id must be positive, got %d", i, sp.ID)
		}
		if ids[sp.ID] {
			return fmt.Errorf("space[%d]: duplicate id %d", i, sp.ID)
		}
		ids[sp.ID] = true

		if sp.Name == "" {
			return fmt.Errorf("space[%d]: name is required", i)
		}
		if sp.HostID <= 0 {
			return fmt.Errorf("space[%d]: host_id is required", i)
		}
		if sp.RatePerHour < 0 {
			return fmt.Errorf("space[%d]: rate_per_hour cannot be negative", i)
		}
		if sp.DiscountPercent < 0 || sp.DiscountPercent > 100 {
			return fmt.Errorf("space[%d]: discount_percent must be 0-100", i)
		}
		if _, err := models.ParseTimezone(sp.Timezone); err != nil {
			return fmt.Errorf("space[%d]: %w", i, err)
		}
		for j, row := range sp.Rows() {
			if err := row.Validate(); err != nil {
				return fmt.Errorf("space[%d].availability[%d]: %w", i, j, err)
			}
		}
	}
	return nil
}

func (c *SpacesConfig) applyDefaults() {
	for i := range c.Spaces {
		if len(c.Spaces[i].Availability) == 0 {
			c.Spaces[i].Availability = c.Defaults.Availability
		}
		if c.Spaces[i].Timezone == "" {
			c.Spaces[i].Timezone = c.Defaults.Timezone
		}
	}
}

// Model converts the entry into a Space row.
func (s *SpaceConfig) Model() *models.Space {
	status := models.SpaceDraft
	if s.Published {
		status = models.SpacePublished
	}
	return &models.Space{
		ID:              s.ID,
		HostID:          s.HostID,
		Name:            s.Name,
		RatePerHour:     s.RatePerHour,
		MinHours:        s.MinHours,
		DiscountHours:   s.DiscountHours,
		DiscountPercent: s.DiscountPercent,
		Status:          status,
		Timezone:        s.Timezone,
		Jurisdiction:    s.Jurisdiction,
		PayoutAccount:   s.PayoutAccount,
	}
}

// Rows expands shorthand days ("daily", "weekdays", "weekends") into
// one availability row per weekday.
func (s *SpaceConfig) Rows() []models.Availability {
	var out []models.Availability
	for _, w := range s.Availability {
		for _, day := range expandDay(w.Day) {
			out = append(out, models.Availability{
				SpaceID:   s.ID,
				Day:       day,
				StartTime: w.Start,
				EndTime:   w.End,
			})
		}
	}
	return out
}

func expandDay(day string) []string {
	switch strings.ToLower(day) {
	case "daily":
		return []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}
	case "weekdays":
		return []string{"monday", "tuesday", "wednesday", "thursday", "friday"}
	case "weekends":
		return []string{"saturday", "sunday"}
	default:
		return []string{strings.ToLower(day)}
	}
}

// GetSpaceByID returns space config by ID.
func (c *SpacesConfig) GetSpaceByID(id int64) *SpaceConfig {
	for i := range c.Spaces {
		if c.Spaces[i].ID == id {
			return &c.Spaces[i]
		}
	}
	return nil
}

func (c *SpacesConfig) String() string {
	published := 0
	for _, sp := range c.Spaces {
		if sp.Published {
			published++
		}
	}
	return fmt.Sprintf("SpacesConfig: %d spaces (%d published)", len(c.Spaces), published)
}
