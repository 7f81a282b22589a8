package verify

import (
	"context"
	"fmt"
	"strings"
)

// SafetyVerifier is the hard gate: destructive or irreversible actions
// are blocked unconditionally, whatever the pipeline mode. It scans the
// command and any written content against a blocklist and rejects paths
// that escape the workspace.
type SafetyVerifier struct{}

func (SafetyVerifier) Stage() Stage { return StageSafety }

// blockedFragments are matched as substrings of the normalized (lowercase,
// whitespace-collapsed) command or content.
var blockedFragments = []string{
	"rm -rf /",
	"rm -fr /",
	"rm -rf ~",
	"rm -fr ~",
	"--no-preserve-root",
	"dd of=/dev/",
	"> /dev/sd",
	":(){",
	"chmod -r 777 /",
}

// blockedPrograms are rejected when they appear as a command token, with
// mkfs matching its dotted variants (mkfs.ext4 and friends).
var blockedPrograms = map[string]bool{
	"shutdown": true,
	"reboot":   true,
	"poweroff": true,
	"mkfs":     true,
	"fdisk":    true,
}

// systemPathPrefixes are directories no action may touch.
var systemPathPrefixes = []string{
	"/etc", "/usr", "/bin", "/sbin", "/boot", "/dev", "/sys", "/proc", "/var",
}

func (SafetyVerifier) Verify(_ context.Context, vctx Context) StageResult {
	a := vctx.Action

	if a.Path != "" {
		if reason := unsafePath(a.Path); reason != "" {
			return fail("blocked: " + reason)
		}
	}
	if a.Command != "" {
		if reason := unsafeText(a.Command); reason != "" {
			return fail("blocked: " + reason)
		}
	}
	if a.Content != "" {
		if reason := unsafeText(a.Content); reason != "" {
			return fail("blocked: content " + reason)
		}
	}
	return pass("no blocklisted pattern found")
}

func unsafePath(path string) string {
	if strings.Contains(path, "..") {
		return fmt.Sprintf("path %q escapes the workspace", path)
	}
	for _, prefix := range systemPathPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return fmt.Sprintf("path %q is under the protected prefix %s", path, prefix)
		}
	}
	return ""
}

func unsafeText(text string) string {
	norm := strings.ToLower(strings.Join(strings.Fields(text), " "))
	for _, fragment := range blockedFragments {
		if strings.Contains(norm, fragment) {
			return fmt.Sprintf("contains %q", fragment)
		}
	}
	for _, token := range strings.Fields(norm) {
		if blockedPrograms[token] || strings.HasPrefix(token, "mkfs.") {
			return fmt.Sprintf("invokes %q", token)
		}
	}
	return ""
}
