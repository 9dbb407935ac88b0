// Package version returns the version string for the currently running
// process. The coordinator also records these values into every contribution
// document as the verification software identity.
package version

import (
	"fmt"
	"log"
	"os/exec"
	"strings"
	"time"
)

// SoftwareName identifies the verifier implementation recorded alongside
// each verified contribution.
const SoftwareName = "ceremonyd"

// The value of these vars are set through linker options.
var gitCommit = "Local build"
var buildDate = "Moments ago"
var gitTag = "Unknown"

// GetVersion returns the version string of this build.
func GetVersion() string {
	if buildDate == "{DATE}" {
		now := time.Now().Format(time.RFC3339)
		buildDate = now
	}
	return fmt.Sprintf("%s. Built at: %s", GetBuildData(), buildDate)
}

// GetBuildData returns the git tag and commit of the current build.
func GetBuildData() string {
	// if doing a local build, these values are not interpolated
	if gitCommit == "{STABLE_GIT_COMMIT}" {
		commit, err := exec.Command("git", "rev-parse", "HEAD").Output()
		if err != nil {
			log.Println(err)
		} else {
			gitCommit = strings.TrimRight(string(commit), "\r\n")
		}
	}
	return fmt.Sprintf("%s/%s/%s", SoftwareName, gitTag, gitCommit)
}

// SemanticVersion returns the bare git tag of this build.
func SemanticVersion() string {
	return gitTag
}

// GitCommit returns the bare commit hash of this build.
func GitCommit() string {
	return gitCommit
}
