// Copyright (C) 2021 Couchbase, Inc.
//
// Use of this software is subject to the Couchbase Inc. License Agreement
// which may be found at https://www.couchbase.com/LA03012021.

package values

import (
	"embed"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// RecommendedMonitorDefinition maps a catalog entry to information to display about it. The monitor document
// itself lives in a separate JSON file so it stays byte-for-byte in the interchange format.
type RecommendedMonitorDefinition struct {
	Title       string `yaml:"title" json:"title"`
	Integration string `yaml:"integration" json:"integration"`
	File        string `yaml:"file" json:"-"`
}

// RecommendedMonitor is a catalog monitor together with its definition metadata.
type RecommendedMonitor struct {
	RecommendedMonitorDefinition
	Monitor *Monitor `json:"monitor"`
}

// AllRecommendedMonitors holds every catalog monitor keyed by catalog name.
var AllRecommendedMonitors map[string]RecommendedMonitor

//go:embed catalog_defs.yaml
var catalogDefsData []byte

//go:embed catalog/*.json
var catalogFS embed.FS

func init() {
	var defs map[string]RecommendedMonitorDefinition
	if err := yaml.Unmarshal(catalogDefsData, &defs); err != nil {
		panic(fmt.Errorf("failed to load catalog definitions YAML: %w", err))
	}

	AllRecommendedMonitors = make(map[string]RecommendedMonitor, len(defs))
	for name, def := range defs {
		data, err := catalogFS.ReadFile("catalog/" + def.File)
		if err != nil {
			panic(fmt.Errorf("failed to read catalog monitor %q: %w", name, err))
		}

		var monitor Monitor
		if err := json.Unmarshal(data, &monitor); err != nil {
			panic(fmt.Errorf("failed to parse catalog monitor %q: %w", name, err))
		}

		AllRecommendedMonitors[name] = RecommendedMonitor{RecommendedMonitorDefinition: def, Monitor: &monitor}
	}
}

// RecommendedMonitorsForIntegration returns the catalog monitors of one integration keyed by catalog name.
func RecommendedMonitorsForIntegration(integration string) map[string]RecommendedMonitor {
	out := make(map[string]RecommendedMonitor)
	for name, monitor := range AllRecommendedMonitors {
		if monitor.Integration == integration {
			out[name] = monitor
		}
	}

	return out
}
