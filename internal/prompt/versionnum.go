package prompt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// InitialVersionNumber labels the snapshot taken when a prompt is created.
const InitialVersionNumber = "1.0"

type BumpType string

const (
	BumpMinor BumpType = "minor"
	BumpMajor BumpType = "major"
)

// ParseBumpType accepts "minor", "major" or an empty string, which means minor.
func ParseBumpType(s string) (BumpType, error) {
	switch BumpType(strings.ToLower(strings.TrimSpace(s))) {
	case "", BumpMinor:
		return BumpMinor, nil
	case BumpMajor:
		return BumpMajor, nil
	}
	return "", validationError(fmt.Sprintf("invalid bump type %q: want minor or major", s))
}

// VersionRef is the slice of a version the numbering needs.
type VersionRef struct {
	ID            uuid.UUID
	VersionNumber string
}

// NextVersionNumber returns the label for a new version of a prompt whose
// existing versions are versions and whose current version is currentVersionID.
// The result never collides with any label in versions.
func NextVersionNumber(versions []VersionRef, currentVersionID uuid.UUID, bump BumpType) (string, error) {
	if len(versions) == 0 {
		return InitialVersionNumber, nil
	}

	var current *VersionRef
	existing := make(map[string]struct{}, len(versions))
	for i := range versions {
		existing[versions[i].VersionNumber] = struct{}{}
		if versions[i].ID == currentVersionID {
			current = &versions[i]
		}
	}
	if current == nil {
		return "", ErrBrokenLineage
	}

	major, minor, ok := parseVersionNumber(current.VersionNumber)
	if ok {
		if bump == BumpMajor {
			major, minor = major+1, 0
		} else {
			minor++
		}
	} else {
		// Unparseable label: restart the lineage at 1.0.
		major, minor = 1, 0
	}

	for {
		candidate := formatVersionNumber(major, minor)
		if _, taken := existing[candidate]; !taken {
			return candidate, nil
		}
		if bump == BumpMajor {
			major++
		} else {
			minor++
		}
	}
}

// maxVersionComponent bounds each parsed component so bumping can't overflow.
const maxVersionComponent = 1_000_000

func parseVersionNumber(label string) (major, minor int, ok bool) {
	parts := strings.Split(label, ".")
	if len(parts) > 2 {
		return 0, 0, false
	}

	major, ok = parseVersionComponent(parts[0])
	if !ok {
		return 0, 0, false
	}
	if len(parts) == 1 {
		return major, 0, true
	}

	minor, ok = parseVersionComponent(parts[1])
	if !ok {
		return 0, 0, false
	}
	return major, minor, true
}

// parseVersionComponent accepts ASCII digits only: no sign, no spaces.
func parseVersionComponent(s string) (int, bool) {
	if s == "" || len(s) > len(strconv.Itoa(maxVersionComponent)) {
		return 0, false
	}
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
		n = n*10 + int(s[i]-'0')
	}
	if n > maxVersionComponent {
		return 0, false
	}
	return n, true
}

func formatVersionNumber(major, minor int) string {
	return strconv.Itoa(major) + "." + strconv.Itoa(minor)
}
