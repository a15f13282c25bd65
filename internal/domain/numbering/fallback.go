package numbering

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultFallbackMarker is prepended to provisional codes.
const DefaultFallbackMarker = "TMP"

// FallbackNamer builds provisional invoice names for when the counter store is
// unreachable. The names are visibly marked and can never collide with a
// counter-issued code, since they carry the marker and a random suffix.
type FallbackNamer struct {
	Marker string
	Now    func() time.Time
	Suffix func() string
}

// NewFallbackNamer creates a namer with the given marker.
func NewFallbackNamer(marker string) *FallbackNamer {
	if strings.TrimSpace(marker) == "" {
		marker = DefaultFallbackMarker
	}
	return &FallbackNamer{
		Marker: marker,
		Now:    time.Now,
		Suffix: func() string { return uuid.NewString()[:8] },
	}
}

// Name returns a provisional allocation for key, with Fallback set and a warning.
func (f *FallbackNamer) Name(key CounterKey, cause error) Allocation {
	stamp := f.Now().UTC().Format("20060102T150405")
	code := fmt.Sprintf("%s-%s%s-%s", f.Marker, key.CodePrefix(), stamp, f.Suffix())
	warning := "provisional invoice name issued because the counter store is unavailable; rename before submission"
	if cause != nil {
		warning = fmt.Sprintf("%s: %v", warning, cause)
	}
	return Allocation{
		Code:          code,
		Prefix:        key.Prefix,
		FinancialYear: key.FinancialYear,
		Fallback:      true,
		Warning:       warning,
	}
}

// IsFallbackCode reports whether code was produced by a namer using marker.
func IsFallbackCode(marker, code string) bool {
	if marker == "" {
		marker = DefaultFallbackMarker
	}
	return strings.HasPrefix(code, marker+"-")
}
