package config

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/jpalmerr/reachboard"
)

// BuildTargets converts the configured targets and groups into SDK targets,
// direct targets first and then each group in file order.
func BuildTargets(cfg *Config) ([]reachboard.Target, error) {
	var targets []reachboard.Target

	for i, tc := range cfg.Targets {
		t, err := reachboard.NewTarget(tc.Name, tc.Address)
		if err != nil {
			return nil, fmt.Errorf("targets[%d]: %w", i, err)
		}
		targets = append(targets, t)
	}

	for _, gc := range cfg.Groups {
		groupTargets, err := buildGroupTargets(gc)
		if err != nil {
			return nil, err
		}
		targets = append(targets, groupTargets...)
	}

	return targets, nil
}

// BuildOptions converts a validated Config into [reachboard.Option] values
// for [reachboard.New].
func BuildOptions(cfg *Config) ([]reachboard.Option, error) {
	targets, err := BuildTargets(cfg)
	if err != nil {
		return nil, err
	}

	opts := []reachboard.Option{
		reachboard.WithTargets(targets...),
		reachboard.WithPort(cfg.Port),
		reachboard.WithProbeInterval(cfg.ProbeInterval.Duration()),
		reachboard.WithProbeTimeout(cfg.ProbeTimeout.Duration()),
		reachboard.WithProbeMode(cfg.ProbeMode),
		reachboard.WithLatencyThreshold(cfg.LatencyThreshold.Duration()),
		reachboard.WithHistoryCapacity(cfg.HistoryCapacity),
		reachboard.WithMaxConcurrency(cfg.MaxConcurrency),
		reachboard.WithProbeRate(cfg.ProbeRate),
		reachboard.WithStoreURL(cfg.Store),
	}
	if cfg.Title != "" {
		opts = append(opts, reachboard.WithTitle(cfg.Title))
	}
	return opts, nil
}

// buildGroupTargets expands a group into one target per dimension
// combination.
func buildGroupTargets(gc GroupConfig) ([]reachboard.Target, error) {
	tmpl, err := template.New("address").Option("missingkey=error").Parse(gc.AddressTemplate)
	if err != nil {
		return nil, err
	}

	var targets []reachboard.Target
	for _, combo := range cartesianProduct(gc.Dimensions) {
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, combo); err != nil {
			return nil, fmt.Errorf("group (%s) with dimensions %v: template execution failed: %w", gc.Name, combo, err)
		}

		t, err := reachboard.NewTarget(groupTargetName(gc.Name, combo), buf.String())
		if err != nil {
			return nil, fmt.Errorf("group (%s): %w", gc.Name, err)
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// groupTargetName joins the base name with the combination values in
// dimension-key order.
func groupTargetName(base string, combo map[string]string) string {
	keys := sortedKeys(combo)
	parts := make([]string, 0, len(keys)+1)
	parts = append(parts, base)
	for _, k := range keys {
		parts = append(parts, combo[k])
	}
	return strings.Join(parts, " ")
}

// cartesianProduct generates every combination of dimension values, with
// dimensions iterated in key order.
func cartesianProduct(dimensions map[string][]string) []map[string]string {
	if len(dimensions) == 0 {
		return nil
	}

	result := []map[string]string{{}}
	for _, key := range sortedKeys(dimensions) {
		next := make([]map[string]string, 0, len(result)*len(dimensions[key]))
		for _, combo := range result {
			for _, val := range dimensions[key] {
				c := make(map[string]string, len(combo)+1)
				for k, v := range combo {
					c[k] = v
				}
				c[key] = val
				next = append(next, c)
			}
		}
		result = next
	}
	return result
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
