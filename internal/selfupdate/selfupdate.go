// Package selfupdate implements the --update flag: an in-place binary
// replace from the latest GitHub release. This is treated as a thin
// external collaborator, not part of the core engine — a failure here
// never affects a running supervisor, since --update always exits
// immediately after attempting (or skipping) the update.
package selfupdate

import (
	"fmt"

	"github.com/blang/semver/v4"
	"github.com/rhysd/go-github-selfupdate/selfupdate"
)

const (
	repoSlug      = "lumenforge/taskwatch"
	currentVerStr = "0.1.0"
)

// Update checks the repository's latest release and, if it is newer than
// the running binary, replaces the current executable in place.
func Update() error {
	current, err := semver.Parse(currentVerStr)
	if err != nil {
		return fmt.Errorf("parse current version: %w", err)
	}

	latest, err := selfupdate.UpdateSelf(current, repoSlug)
	if err != nil {
		return fmt.Errorf("self-update: %w", err)
	}

	if latest.Version.Equals(current) {
		fmt.Println("already running the latest version:", current)
		return nil
	}
	fmt.Println("updated to version", latest.Version)
	return nil
}
