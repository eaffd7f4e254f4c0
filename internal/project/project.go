// Package project implements spec.md §4.E: resolving the project manifest's
// targets into target groups keyed by governing package manifest, detecting
// duplicate inputs/outputs and missing or inconsistent elm.json files, and
// computing the watch root. Pure resolution logic over internal/manifest and
// internal/paths; free functions and fmt.Errorf wrapping in the teacher's
// style, no direct teacher equivalent (wave has no analogous multi-target
// resolution step).
package project

import (
	"errors"
	"os"
	"sort"
	"strings"

	"github.com/elm-watch/elm-watch/internal/errs"
	"github.com/elm-watch/elm-watch/internal/manifest"
	"github.com/elm-watch/elm-watch/internal/paths"
)

// ResolvedTarget is one target after input/output resolution.
type ResolvedTarget struct {
	Name                string
	Inputs              []paths.AbsolutePath
	OriginalInputStrings []string
	Output              paths.AbsolutePath
	PackageManifestPath paths.AbsolutePath
}

// TargetGroup is every target sharing a package manifest, compiled
// sequentially (one dependency installation, one typecheck-only batch).
type TargetGroup struct {
	PackageManifestPath paths.AbsolutePath
	Targets             []ResolvedTarget
}

// Project is the fully resolved build plan for one invocation.
type Project struct {
	TargetGroups    []*TargetGroup
	DisabledTargets []string
	WatchRoot       paths.AbsolutePath
}

// Resolve builds a Project from a decoded project manifest, located at
// manifestPath, filtering targets by enabledFilter (a substring match;
// empty string enables every target).
func Resolve(manifestPath paths.AbsolutePath, pm *manifest.ProjectManifest, enabledFilter string) (*Project, *errs.Error) {
	projectDir := paths.Dirname(manifestPath)

	var groups []*TargetGroup
	groupIndex := make(map[paths.AbsolutePath]*TargetGroup)
	var disabled []string
	outputOwners := make(map[paths.AbsolutePath][]string)

	// Iterate in a stable order so error reporting (and tests) are
	// deterministic despite map iteration over pm.Targets.
	names := make([]string, 0, len(pm.Targets))
	for name := range pm.Targets {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		target := pm.Targets[name]
		if enabledFilter != "" && !strings.Contains(name, enabledFilter) {
			disabled = append(disabled, name)
			continue
		}

		resolved, manifestPathForTarget, err := resolveTarget(projectDir, name, target)
		if err != nil {
			return nil, err
		}

		outputAbs, err2 := paths.Resolve(string(projectDir), target.Output)
		if err2 != nil {
			return nil, errs.New(errs.TagInputsFailedToResolve, "resolve output path", err2).WithPath(target.Output)
		}
		resolved.Output = outputAbs
		outputOwners[outputAbs] = append(outputOwners[outputAbs], name)

		group, ok := groupIndex[manifestPathForTarget]
		if !ok {
			group = &TargetGroup{PackageManifestPath: manifestPathForTarget}
			groupIndex[manifestPathForTarget] = group
			groups = append(groups, group)
		}
		group.Targets = append(group.Targets, *resolved)
	}

	for out, owners := range outputOwners {
		if len(owners) >= 2 {
			return nil, errs.New(errs.TagDuplicateOutputs, "multiple targets resolve to the same output path", nil).
				WithPath(string(out)).WithPaths(owners)
		}
	}

	watchRootInputs := []paths.AbsolutePath{projectDir}
	for manifestPath := range groupIndex {
		watchRootInputs = append(watchRootInputs, paths.Dirname(manifestPath))
	}
	watchRoot, ok := paths.LongestCommonAncestor(watchRootInputs)
	if !ok {
		return nil, errs.New(errs.TagNoCommonRoot, "no common watch root across manifests", nil)
	}

	return &Project{TargetGroups: groups, DisabledTargets: disabled, WatchRoot: watchRoot}, nil
}

func resolveTarget(projectDir paths.AbsolutePath, name string, target manifest.Target) (*ResolvedTarget, paths.AbsolutePath, *errs.Error) {
	inputRealpaths := make([]paths.AbsolutePath, 0, len(target.Inputs))
	realpathCounts := make(map[paths.AbsolutePath]int)

	for _, in := range target.Inputs {
		abs, err := paths.Resolve(string(projectDir), in)
		if err != nil {
			return nil, "", errs.New(errs.TagInputsFailedToResolve, "resolve input path", err).WithPath(in)
		}
		real, err := paths.Realpath(abs)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, "", errs.New(errs.TagInputsNotFound, "input file not found", err).WithPath(in)
			}
			return nil, "", errs.New(errs.TagInputsFailedToResolve, "resolve input realpath", err).WithPath(in)
		}
		inputRealpaths = append(inputRealpaths, real)
		realpathCounts[real]++
	}

	var dupes []string
	for p, count := range realpathCounts {
		if count >= 2 {
			dupes = append(dupes, string(p))
		}
	}
	if len(dupes) > 0 {
		return nil, "", errs.New(errs.TagDuplicateInputs, "target "+name+" lists the same input more than once", nil).WithPaths(dupes)
	}

	var manifestPaths []paths.AbsolutePath
	seenManifest := make(map[paths.AbsolutePath]struct{})
	for _, real := range inputRealpaths {
		mp, found := paths.FindClosest("elm.json", paths.Dirname(real))
		if !found {
			return nil, "", errs.New(errs.TagElmJsonNotFound, "no elm.json found above input", nil).WithPath(string(real))
		}
		if _, ok := seenManifest[mp]; !ok {
			seenManifest[mp] = struct{}{}
			manifestPaths = append(manifestPaths, mp)
		}
	}
	if len(manifestPaths) > 1 {
		strs := make([]string, len(manifestPaths))
		for i, p := range manifestPaths {
			strs[i] = string(p)
		}
		return nil, "", errs.New(errs.TagNonUniqueElmJsonPaths, "target "+name+" inputs resolve to more than one elm.json", nil).WithPaths(strs)
	}

	return &ResolvedTarget{
		Name:                 name,
		Inputs:               inputRealpaths,
		OriginalInputStrings: target.Inputs,
		PackageManifestPath:  manifestPaths[0],
	}, manifestPaths[0], nil
}
