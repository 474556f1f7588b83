package descriptor

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// Finding codes reported by Audit.
const (
	FindingMutableSource     = "mutable-source"
	FindingSkipVerification  = "skip-verification"
	FindingInsecureTransport = "insecure-transport"
	FindingElevatedAction    = "elevated-action"
	FindingTrustDowngrade    = "trust-downgrade"
)

// Finding is a policy smell in a descriptor. Findings never block an
// install on their own.
type Finding struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (f Finding) String() string {
	return fmt.Sprintf("%s: %s: %s", f.Code, f.Field, f.Message)
}

var mutableRefPattern = regexp.MustCompile(`(?i)/(raw|blob|tree)/(main|master|head|develop)/|/refs/heads/|/releases/latest(/|$)|/latest/`)

// IsMutableURL reports whether raw points at content that can change under
// the same URL, such as a branch head or a "latest" release alias.
func IsMutableURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	p := u.EscapedPath()
	if mutableRefPattern.MatchString(p) {
		return true
	}
	// raw.githubusercontent.com/<owner>/<repo>/<ref>/...
	if strings.EqualFold(u.Host, "raw.githubusercontent.com") {
		parts := strings.Split(strings.Trim(p, "/"), "/")
		if len(parts) >= 3 {
			switch strings.ToLower(parts[2]) {
			case "main", "master", "head", "develop":
				return true
			}
		}
	}
	return false
}

// IsQuarantineRemoval reports whether a clears the macOS quarantine
// attribute or otherwise whitelists the bundle with Gatekeeper.
func IsQuarantineRemoval(a Action) bool {
	switch path.Base(a.Command) {
	case "xattr":
		var clearAll, deleteOne, names bool
		for _, arg := range a.Args {
			if strings.HasPrefix(arg, "-") && !strings.HasPrefix(arg, "--") {
				clearAll = clearAll || strings.Contains(arg, "c")
				deleteOne = deleteOne || strings.Contains(arg, "d")
			}
			names = names || strings.Contains(arg, "com.apple.quarantine")
		}
		return clearAll || (deleteOne && names)
	case "spctl":
		for _, arg := range a.Args {
			if arg == "--add" || arg == "--master-disable" || arg == "--global-disable" {
				return true
			}
		}
	}
	return false
}

// Audit returns the policy findings for d in a stable order.
func Audit(d *Descriptor) []Finding {
	var findings []Finding

	if IsMutableURL(d.SourceURL) {
		findings = append(findings, Finding{
			Code:    FindingMutableSource,
			Field:   "sourceUrl",
			Message: fmt.Sprintf("%s references a mutable branch or alias; pin it to a commit or release asset", d.SourceURL),
		})
	}
	if u, err := url.Parse(d.SourceURL); err == nil && u.Scheme == "http" {
		findings = append(findings, Finding{
			Code:    FindingInsecureTransport,
			Field:   "sourceUrl",
			Message: "archive is fetched over plain http",
		})
	}
	if d.Digest().Skip {
		findings = append(findings, Finding{
			Code:    FindingSkipVerification,
			Field:   "integrityDigest",
			Message: "integrity verification is disabled",
		})
	}
	for i, a := range d.PostInstallActions {
		field := fmt.Sprintf("postInstallActions[%d]", i)
		if a.Elevate {
			findings = append(findings, Finding{
				Code:    FindingElevatedAction,
				Field:   field,
				Message: fmt.Sprintf("%s runs with elevated privileges", a.Command),
			})
		}
		if IsQuarantineRemoval(a) {
			findings = append(findings, Finding{
				Code:    FindingTrustDowngrade,
				Field:   field,
				Message: fmt.Sprintf("%s clears the quarantine attribute and bypasses Gatekeeper checks", a.Command),
			})
		}
	}
	return findings
}
