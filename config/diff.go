package config

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// PipelineDiff lists pipeline names by how they changed between two
// documents. Each list is sorted.
type PipelineDiff struct {
	Added     []string
	Removed   []string
	Modified  []string
	Unchanged []string
}

// Empty reports whether nothing was added, removed or modified.
func (d *PipelineDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Modified) == 0
}

// DiffPipelines compares two documents pipeline by pipeline. A nil config
// counts as empty.
func DiffPipelines(old, new *PipelinesConfig) *PipelineDiff {
	diff := &PipelineDiff{}
	oldDefs, newDefs := pipelinesOf(old), pipelinesOf(new)

	for name, def := range newDefs {
		prev, exists := oldDefs[name]
		switch {
		case !exists:
			diff.Added = append(diff.Added, name)
		case hashDefinition(prev) != hashDefinition(def):
			diff.Modified = append(diff.Modified, name)
		default:
			diff.Unchanged = append(diff.Unchanged, name)
		}
	}
	for name := range oldDefs {
		if _, exists := newDefs[name]; !exists {
			diff.Removed = append(diff.Removed, name)
		}
	}

	sort.Strings(diff.Added)
	sort.Strings(diff.Removed)
	sort.Strings(diff.Modified)
	sort.Strings(diff.Unchanged)
	return diff
}

func pipelinesOf(cfg *PipelinesConfig) map[string]PipelineDefinition {
	if cfg == nil {
		return nil
	}
	return cfg.Pipelines
}

// hashDefinition ignores Name, which is filled from the map key on load.
func hashDefinition(def PipelineDefinition) string {
	def.Name = ""
	data, err := yaml.Marshal(def)
	if err != nil {
		return fmt.Sprintf("error:%v", err)
	}
	return HashBytes(data)
}
