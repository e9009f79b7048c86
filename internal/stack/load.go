package stack

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	platformerrors "github.com/louisbranch/devstack/internal/platform/errors"
)

// Wire types mirror the YAML schema. Durations travel as strings so stack
// files can say "5s" instead of nanosecond counts.

type stackFile struct {
	Name     string                 `yaml:"name"`
	Services map[string]serviceFile `yaml:"services"`
	Volumes  []string               `yaml:"volumes"`
}

type serviceFile struct {
	Image     string            `yaml:"image"`
	Env       map[string]string `yaml:"env"`
	Ports     []string          `yaml:"ports"`
	Mounts    []string          `yaml:"mounts"`
	DependsOn map[string]string `yaml:"depends_on"`
	Restart   string            `yaml:"restart"`
	Probe     *probeFile        `yaml:"probe"`
}

type probeFile struct {
	Type        string   `yaml:"type"`
	Command     []string `yaml:"command"`
	Target      string   `yaml:"target"`
	Interval    string   `yaml:"interval"`
	Timeout     string   `yaml:"timeout"`
	Retries     int      `yaml:"retries"`
	StartPeriod string   `yaml:"start_period"`
}

// Load reads, parses, and validates a stack definition file.
func Load(path string) (*Stack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.CodeStackInvalid,
			fmt.Sprintf("read stack file %s", path), err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML stack definition.
func Parse(data []byte) (*Stack, error) {
	var file stackFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, platformerrors.Wrap(platformerrors.CodeStackInvalid, "decode stack yaml", err)
	}

	result := &Stack{Name: strings.TrimSpace(file.Name)}
	for _, name := range file.Volumes {
		result.Volumes = append(result.Volumes, Volume{Name: name})
	}

	serviceNames := make([]string, 0, len(file.Services))
	for name := range file.Services {
		serviceNames = append(serviceNames, name)
	}
	sort.Strings(serviceNames)

	for _, name := range serviceNames {
		svcFile := file.Services[name]
		svc := Service{
			Name:    name,
			Image:   svcFile.Image,
			Env:     svcFile.Env,
			Restart: RestartPolicy(svcFile.Restart),
		}
		if svc.Restart == "" {
			svc.Restart = RestartNever
		}

		for _, port := range svcFile.Ports {
			mapping, err := parsePort(name, port)
			if err != nil {
				return nil, err
			}
			svc.Ports = append(svc.Ports, mapping)
		}
		for _, mount := range svcFile.Mounts {
			parsed, err := parseMount(name, mount)
			if err != nil {
				return nil, err
			}
			svc.Mounts = append(svc.Mounts, parsed)
		}

		depNames := make([]string, 0, len(svcFile.DependsOn))
		for dep := range svcFile.DependsOn {
			depNames = append(depNames, dep)
		}
		sort.Strings(depNames)
		for _, dep := range depNames {
			svc.DependsOn = append(svc.DependsOn, Dependency{
				Service:   dep,
				Condition: Condition(svcFile.DependsOn[dep]),
			})
		}

		if svcFile.Probe != nil {
			probe, err := parseProbe(name, svcFile.Probe)
			if err != nil {
				return nil, err
			}
			svc.Probe = probe
		}
		result.Services = append(result.Services, svc)
	}

	if err := result.Validate(); err != nil {
		return nil, err
	}
	return result, nil
}

func parsePort(service, value string) (PortMapping, error) {
	var mapping PortMapping
	if _, err := fmt.Sscanf(value, "%d:%d", &mapping.Host, &mapping.Container); err != nil {
		return PortMapping{}, platformerrors.WithMetadata(platformerrors.CodeStackInvalid,
			"port mapping must be host:container",
			map[string]string{"service": service, "port": value})
	}
	return mapping, nil
}

func parseMount(service, value string) (Mount, error) {
	volume, path, ok := strings.Cut(value, ":")
	if !ok || volume == "" || path == "" {
		return Mount{}, platformerrors.WithMetadata(platformerrors.CodeStackInvalid,
			"mount must be volume:path",
			map[string]string{"service": service, "mount": value})
	}
	return Mount{Volume: volume, Path: path}, nil
}

func parseProbe(service string, file *probeFile) (*ProbeSpec, error) {
	probe := &ProbeSpec{
		Type:     ProbeType(file.Type),
		Command:  file.Command,
		Target:   file.Target,
		Retries:  file.Retries,
		Interval: DefaultProbeInterval,
		Timeout:  DefaultProbeTimeout,
	}
	if probe.Retries == 0 {
		probe.Retries = DefaultProbeRetries
	}

	var err error
	if probe.Interval, err = parseDuration(service, "interval", file.Interval, DefaultProbeInterval); err != nil {
		return nil, err
	}
	if probe.Timeout, err = parseDuration(service, "timeout", file.Timeout, DefaultProbeTimeout); err != nil {
		return nil, err
	}
	if probe.StartPeriod, err = parseDuration(service, "start_period", file.StartPeriod, 0); err != nil {
		return nil, err
	}
	return probe, nil
}

func parseDuration(service, field, value string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(value) == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, platformerrors.WithMetadata(platformerrors.CodeProbeInvalid,
			"invalid probe duration",
			map[string]string{"service": service, "field": field, "value": value})
	}
	return parsed, nil
}
