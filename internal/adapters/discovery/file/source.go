// Package file seeds the registry from a YAML services file.
package file

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"go.yaml.in/yaml/v2"

	"github.com/tjfontaine/service-gateway/internal/core/domain"
	"github.com/tjfontaine/service-gateway/internal/core/ports"
)

// Service is one entry of the services file.
type Service struct {
	Name      string `yaml:"name"`
	Instances []struct {
		ID     string `yaml:"id"`
		Scheme string `yaml:"scheme"`
		Host   string `yaml:"host"`
		Port   int    `yaml:"port"`
	} `yaml:"instances"`
}

// Source reads instances from a YAML file listing services.
type Source struct {
	path   string
	logger *slog.Logger
}

var _ ports.InstanceSource = (*Source)(nil)

func New(path string, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{path: path, logger: logger}
}

func (s *Source) Name() string { return "file" }

func (s *Source) Instances(ctx context.Context, services []string) ([]domain.ServiceInstance, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read services file: %w", err)
	}

	var entries []Service
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse services file %s: %w", s.path, err)
	}

	wanted := make(map[string]bool, len(services))
	for _, svc := range services {
		wanted[svc] = true
	}

	var out []domain.ServiceInstance
	for _, svc := range entries {
		if !wanted[svc.Name] {
			s.logger.Debug("ignoring unrouted service", "service", svc.Name, "source", s.Name())
			continue
		}
		for _, inst := range svc.Instances {
			id := inst.ID
			if id == "" {
				id = uuid.NewString()
			}
			out = append(out, domain.ServiceInstance{
				ID:          id,
				ServiceName: svc.Name,
				Scheme:      inst.Scheme,
				Host:        inst.Host,
				Port:        inst.Port,
			})
		}
	}

	s.logger.Info("loaded services file", "path", s.path, "instances", len(out))
	return out, nil
}
