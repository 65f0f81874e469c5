package config

// Forward is one tunnel definition from the configuration document.
type Forward struct {
	// Resource is the kind/name:port locator, e.g. "pod/web:8080".
	Resource string `json:"resource" yaml:"resource"`
	// LocalPort is the client-facing port. Zero means "same as the remote
	// port".
	LocalPort uint16 `json:"local_port,omitempty" yaml:"local_port,omitempty"`
	// Timeout bounds a single liveness probe, in seconds.
	Timeout uint64 `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	// LivenessProbe is the HTTP path probed on the target. Empty disables
	// probing for this forward.
	LivenessProbe string `json:"liveness_probe,omitempty" yaml:"liveness_probe,omitempty"`
	Namespace     string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
}

// File is the multi-forward configuration document.
type File struct {
	Forwards []Forward `json:"forwards" yaml:"forwards"`
	// Verbose overrides the command-line verbosity when set.
	Verbose *int `json:"verbose,omitempty" yaml:"verbose,omitempty"`
}
