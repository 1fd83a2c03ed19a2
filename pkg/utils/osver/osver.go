// Package osver parses and compares macOS version strings as reported by
// device management, e.g. "14.4.1" or "14.4.1 (23E224)".
package osver

import (
	"fmt"
	"strconv"
	"strings"
)

// Version represents a macOS version with major, minor, and patch components.
type Version struct {
	Major int
	Minor int
	Patch int
}

// String returns the string representation of a Version.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Parse converts a version string into a Version. A trailing build number
// in parentheses is ignored, and a bare major version is accepted.
func Parse(version string) (Version, error) {
	s := strings.TrimSpace(version)
	if i := strings.IndexAny(s, " ("); i >= 0 {
		s = s[:i]
	}

	parts := strings.Split(s, ".")
	if s == "" || len(parts) > 3 {
		return Version{}, fmt.Errorf("invalid version format: %q", version)
	}

	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}, fmt.Errorf("invalid version component %q in %q", p, version)
		}
		nums[i] = n
	}

	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// Compare compares two versions and returns:
// -1 if v < other
// 0 if v == other
// 1 if v > other
func (v Version) Compare(other Version) int {
	for _, d := range [][2]int{
		{v.Major, other.Major},
		{v.Minor, other.Minor},
		{v.Patch, other.Patch},
	} {
		switch {
		case d[0] < d[1]:
			return -1
		case d[0] > d[1]:
			return 1
		}
	}
	return 0
}

// LessThan returns true if this version is less than the other version.
func (v Version) LessThan(other Version) bool {
	return v.Compare(other) < 0
}

// AtLeast returns true if this version is greater than or equal to the specified version.
func (v Version) AtLeast(other Version) bool {
	return v.Compare(other) >= 0
}
