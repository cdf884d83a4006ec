package auth

import "strings"

// HasPermission decides whether a grant set satisfies a required
// permission. Match order: the global "*" wildcard, a verbatim grant,
// then the "resource:*" wildcard for the required resource. Total over
// any two strings; a required key without ":" can only match verbatim or
// via the global wildcard.
func HasPermission(granted []string, required string) bool {
	for _, g := range granted {
		if g == "*" {
			return true
		}
	}
	for _, g := range granted {
		if g == required {
			return true
		}
	}
	if resource, _, ok := strings.Cut(required, ":"); ok {
		wildcard := resource + ":*"
		for _, g := range granted {
			if g == wildcard {
				return true
			}
		}
	}
	return false
}

// HasAnyPermission reports whether at least one required permission is
// granted.
func HasAnyPermission(granted []string, required ...string) bool {
	for _, r := range required {
		if HasPermission(granted, r) {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether every required permission is granted.
func HasAllPermissions(granted []string, required ...string) bool {
	for _, r := range required {
		if !HasPermission(granted, r) {
			return false
		}
	}
	return true
}
