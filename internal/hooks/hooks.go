// Package hooks runs the post-install actions of a descriptor. Actions are
// best effort: failures and policy skips turn into warnings.
package hooks

import (
	"fmt"
	"strings"

	"github.com/open-edge-platform/bundle-installer/internal/descriptor"
	"github.com/open-edge-platform/bundle-installer/internal/errdefs"
	"github.com/open-edge-platform/bundle-installer/internal/receipt"
	"github.com/open-edge-platform/bundle-installer/internal/utils/logger"
	"github.com/open-edge-platform/bundle-installer/internal/utils/shell"
)

// Policy gates actions that weaken host security.
type Policy struct {
	AllowQuarantineRemoval bool
	AllowElevation         bool
}

// Vars are the values available to ${...} placeholders in action args.
type Vars struct {
	InstallPath string
	InstallRoot string
	Identifier  string
}

func (v Vars) lookup(key string) (string, bool) {
	switch key {
	case "installPath":
		return v.InstallPath, true
	case "installRoot":
		return v.InstallRoot, true
	case "identifier":
		return v.Identifier, true
	}
	return "", false
}

// ExpandArgs substitutes the known ${...} placeholders in args. Unknown
// placeholders and every other character are kept verbatim, so no shell
// style expansion ever happens.
func ExpandArgs(args []string, vars Vars) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = expand(a, vars)
	}
	return out
}

func expand(s string, vars Vars) string {
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			break
		}
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			break
		}
		end := i + 2 + j
		b.WriteString(s[:i])
		if v, ok := vars.lookup(s[i+2 : end]); ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[i : end+1])
		}
		s = s[end+1:]
	}
	b.WriteString(s)
	return b.String()
}

// Run executes actions in declared order through shell.Default. Every
// action gets an ActionResult. Failed or skipped actions also produce a
// PostInstallWarning.
func Run(actions []descriptor.Action, vars Vars, policy Policy) ([]receipt.ActionResult, []errdefs.Warning) {
	log := logger.Logger()
	var (
		results  []receipt.ActionResult
		warnings []errdefs.Warning
	)

	for i, a := range actions {
		field := fmt.Sprintf("postInstallActions[%d]", i)
		args := ExpandArgs(a.Args, vars)
		display := shell.CmdString(append([]string{a.Command}, args...))

		skip := ""
		switch {
		case a.Elevate && !policy.AllowElevation:
			skip = "elevated actions are disabled by postInstall.allowElevation"
		case descriptor.IsQuarantineRemoval(a) && !policy.AllowQuarantineRemoval:
			skip = "quarantine removal is disabled by postInstall.allowQuarantineRemoval"
		case !shell.IsCommandExist(a.Command):
			skip = fmt.Sprintf("%s was not found in PATH", a.Command)
		case a.Elevate && !shell.IsCommandExist("sudo"):
			skip = "sudo was not found in PATH"
		}
		if skip != "" {
			log.Warnf("skipping %s: %s", display, skip)
			results = append(results, receipt.ActionResult{Command: display, Skipped: true, Message: skip})
			warnings = append(warnings, errdefs.Warning{
				Kind:    errdefs.PostInstallWarning,
				Field:   field,
				Message: fmt.Sprintf("skipped %s: %s", display, skip),
			})
			continue
		}

		log.Infof("running post-install action: %s", display)
		output, err := shell.ExecCmd(a.Command, args, a.Elevate, nil)
		if err != nil {
			msg := err.Error()
			if out := strings.TrimSpace(output); out != "" {
				msg = msg + ": " + out
			}
			log.Warnf("post-install action %s failed: %s", display, msg)
			results = append(results, receipt.ActionResult{Command: display, Message: msg})
			warnings = append(warnings, errdefs.Warning{
				Kind:    errdefs.PostInstallWarning,
				Field:   field,
				Message: fmt.Sprintf("%s failed: %s", display, msg),
			})
			continue
		}
		results = append(results, receipt.ActionResult{Command: display, OK: true})
	}
	return results, warnings
}
