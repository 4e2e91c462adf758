package install

import (
	_ "embed"

	"github.com/GoCodeAlone/provision/config"
)

//go:embed pipelines.yaml
var defaultPipelines []byte

// DefaultPipelines returns the built-in install and delete definitions.
func DefaultPipelines() (*config.PipelinesConfig, error) {
	return config.Parse(defaultPipelines, config.FormatYAML)
}

// DefaultSource returns the built-in definitions as a config source.
func DefaultSource() *config.BytesSource {
	return config.NewBytesSource("install/pipelines.yaml", defaultPipelines, config.FormatYAML)
}
