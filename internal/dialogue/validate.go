package dialogue

import (
	"regexp"
	"strings"
)

// Saudi mobile numbers as entered by users: 05 followed by 8 digits.
var phoneRE = regexp.MustCompile(`^05\d{8}$`)

func ValidPhone(phone string) bool {
	return phoneRE.MatchString(strings.TrimSpace(phone))
}

// ValidFullName requires the customary three-part name.
func ValidFullName(name string) bool {
	return len(strings.Fields(name)) >= 3
}

const (
	MinSeats = 1
	MaxSeats = 8
)

func ValidSeats(n int) bool { return n >= MinSeats && n <= MaxSeats }

func ValidStars(n int) bool { return n >= 1 && n <= 5 }
