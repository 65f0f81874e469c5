// Package config loads the multi-forward configuration document and turns it
// into runnable session configs.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"kpfgw/internal/resource"
	"kpfgw/internal/session"
	"kpfgw/pkg/logging"
)

// For mocking in tests
var osReadFile = os.ReadFile

// Load reads a configuration document. The format follows the file
// extension: .yaml/.yml is parsed as YAML, everything else as JSON.
func Load(path string) (File, error) {
	data, err := osReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	var file File
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	default:
		err = json.Unmarshal(data, &file)
	}
	if err != nil {
		return File{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if len(file.Forwards) == 0 {
		return File{}, fmt.Errorf("config %s defines no forwards", path)
	}
	return file, nil
}

// Defaults fill in per-forward settings the document leaves out.
type Defaults struct {
	Namespace           string
	Verbosity           int
	RequestLogPath      string
	RequestLogVerbosity int
}

// BuildSessions turns the document into session configs. Malformed entries
// are logged and skipped; the remaining entries still run. An error is
// returned only when nothing at all survives.
func BuildSessions(file File, defaults Defaults, log *logging.Logger) ([]session.Config, error) {
	seen := map[string]bool{}
	var configs []session.Config

	for i, fwd := range file.Forwards {
		cfg, err := buildSession(fwd, defaults)
		if err != nil {
			log.Error("Config", err, "skipping forward %d (%q)", i+1, fwd.Resource)
			continue
		}
		if seen[cfg.Key()] {
			log.Error("Config", fmt.Errorf("duplicate resource %s", cfg.Key()), "skipping forward %d", i+1)
			continue
		}
		seen[cfg.Key()] = true
		configs = append(configs, cfg)
	}

	if len(configs) == 0 {
		return nil, errors.New("no usable forwards in configuration")
	}
	return configs, nil
}

func buildSession(fwd Forward, defaults Defaults) (session.Config, error) {
	desc, err := resource.Parse(fwd.Resource)
	if err != nil {
		return session.Config{}, err
	}
	if !desc.Supported() {
		return session.Config{}, fmt.Errorf("unsupported resource kind %q", desc.Kind)
	}

	localPort := fwd.LocalPort
	if localPort == 0 {
		localPort = desc.RemotePort
	}
	namespace := fwd.Namespace
	if namespace == "" {
		namespace = defaults.Namespace
	}

	return session.Config{
		Descriptor:          desc,
		Namespace:           namespace,
		LocalPort:           localPort,
		ProbePath:           fwd.LivenessProbe,
		ProbeTimeout:        time.Duration(fwd.Timeout) * time.Second,
		Verbosity:           defaults.Verbosity,
		RequestLogPath:      defaults.RequestLogPath,
		RequestLogVerbosity: defaults.RequestLogVerbosity,
	}, nil
}
