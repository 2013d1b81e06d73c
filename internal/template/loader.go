package template

import (
	"fmt"
	"os"
	"strings"

	"github.com/kursadbilgin/dispatch-core/internal/domain"
	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Templates []seedTemplate `yaml:"templates"`
}

type seedTemplate struct {
	ID       string `yaml:"id"`
	Channel  string `yaml:"channel"`
	Language string `yaml:"language"`
	Subject  string `yaml:"subject"`
	Body     string `yaml:"body"`
	Version  int    `yaml:"version"`
	Active   *bool  `yaml:"active"`
}

// LoadFile reads template seeds from a YAML file.
func LoadFile(path string) ([]domain.NotificationTemplate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template seeds: %w", err)
	}
	return Parse(raw)
}

// Parse decodes YAML template seeds of the form:
//
//	templates:
//	  - id: order_confirmed
//	    channel: email
//	    subject: Order {{orderId}}
//	    body: Order {{orderId}} confirmed
func Parse(raw []byte) ([]domain.NotificationTemplate, error) {
	var file seedFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("%w: invalid template seed yaml: %v", domain.ErrValidation, err)
	}

	templates := make([]domain.NotificationTemplate, 0, len(file.Templates))
	for i, seed := range file.Templates {
		channel, err := domain.ParseChannelFromString(seed.Channel)
		if err != nil {
			return nil, fmt.Errorf("template seed %d: %w", i, err)
		}

		tpl := domain.NotificationTemplate{
			TemplateID: strings.TrimSpace(seed.ID),
			Channel:    channel,
			Language:   strings.ToLower(strings.TrimSpace(seed.Language)),
			Subject:    seed.Subject,
			Body:       seed.Body,
			Version:    seed.Version,
			Active:     seed.Active == nil || *seed.Active,
		}
		if tpl.Language == "" {
			tpl.Language = domain.DefaultLanguage
		}
		if tpl.Version == 0 {
			tpl.Version = 1
		}
		if err := tpl.Validate(); err != nil {
			return nil, fmt.Errorf("template seed %d: %w", i, err)
		}
		templates = append(templates, tpl)
	}

	return templates, nil
}
