//go:build windows

package media

import "os/exec"

// setProcessGroup is a no-op on Windows; CommandContext kills the direct child.
func setProcessGroup(cmd *exec.Cmd) {}
