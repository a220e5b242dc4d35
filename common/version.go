// Copyright 2025-2026
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"
)

// Injected at link time through the magefile; blank in ad-hoc builds.
var (
	commitHash string
	buildDate  string
)

// Version is a SemVer 2.0.0 build version.
type Version struct {
	Major int
	Minor int
	Patch int

	// Suffix marks pre-release builds ("dev", "rc1"). Blank on releases.
	Suffix string
}

func (v Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Suffix == "" {
		return s
	}
	s += "-" + v.Suffix
	if commitHash != "" {
		s += "+" + strings.ToLower(commitHash)
	}
	return s
}

// GetDependencyList returns the module's dependencies as sorted
// path="version" strings.
func GetDependencyList() []string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return nil
	}

	deps := make([]string, 0, len(bi.Deps))
	for _, dep := range bi.Deps {
		deps = append(deps, fmt.Sprintf("%s=%q", dep.Path, dep.Version))
	}
	sort.Strings(deps)
	return deps
}

// BuildVersionString renders the full report shown by "svengine version".
func BuildVersionString() string {
	date := buildDate
	if date == "" {
		date = "unknown"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "svengine v%s %s/%s\n\n", CurrentVersion.String(), runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&sb, "Build Date: %s\n", date)
	fmt.Fprintf(&sb, "Commit: %s\n", commitHash)
	fmt.Fprintf(&sb, "Built with: %s\n", runtime.Version())
	sb.WriteString("\nDependencies:\n\n")
	sb.WriteString(strings.Join(GetDependencyList(), "\n"))
	return sb.String()
}
