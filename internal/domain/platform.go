package domain

import "fmt"

// Platform is a social-media target a post draft is generated for.
type Platform int

const (
	PlatformLinkedIn Platform = iota + 1
	PlatformFacebook
	PlatformTwitter
)

var platformNames = map[Platform]string{
	PlatformLinkedIn: "LinkedIn",
	PlatformFacebook: "Facebook",
	PlatformTwitter:  "Twitter",
}

// Platforms returns the supported platforms in reply order.
func Platforms() []Platform {
	return []Platform{PlatformLinkedIn, PlatformFacebook, PlatformTwitter}
}

func (p Platform) String() string {
	if name, ok := platformNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Platform(%d)", int(p))
}

// Valid reports whether p is one of the supported platforms.
func (p Platform) Valid() bool {
	_, ok := platformNames[p]
	return ok
}

// ParsePlatform maps a platform name to its enum value. Matching is exact.
func ParsePlatform(name string) (Platform, error) {
	for _, p := range Platforms() {
		if platformNames[p] == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("domain: unknown platform %q", name)
}
