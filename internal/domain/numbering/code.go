package numbering

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// DefaultPadWidth is the zero-padded width of the sequence part.
	DefaultPadWidth = 4

	// MaxPrefixLength bounds the prefix column.
	MaxPrefixLength = 32

	separator = "/"
)

// CounterKey identifies one independent sequence.
type CounterKey struct {
	Prefix        string
	FinancialYear FiscalYear
}

// NewCounterKey validates prefix and financialYear and builds a key.
func NewCounterKey(prefix, financialYear string) (CounterKey, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return CounterKey{}, fmt.Errorf("%w: prefix is required", ErrInvalidInput)
	}
	if len(prefix) > MaxPrefixLength {
		return CounterKey{}, fmt.Errorf("%w: prefix longer than %d characters", ErrInvalidInput, MaxPrefixLength)
	}
	if strings.ContainsAny(prefix, separator+" \t") {
		return CounterKey{}, fmt.Errorf("%w: prefix %q contains a separator or whitespace", ErrInvalidInput, prefix)
	}
	fy, err := ParseFiscalYear(financialYear)
	if err != nil {
		return CounterKey{}, err
	}
	return CounterKey{Prefix: prefix, FinancialYear: fy}, nil
}

// String renders the key as PREFIX/FY.
func (k CounterKey) String() string {
	return k.Prefix + separator + string(k.FinancialYear)
}

// CodePrefix is the common leading part of every code in this sequence, "PREFIX/FY/".
func (k CounterKey) CodePrefix() string {
	return k.String() + separator
}

// LikePattern returns a SQL LIKE pattern matching every code of this sequence.
// Wildcards in the key are escaped with '!' so callers must add ESCAPE '!'.
func (k CounterKey) LikePattern() string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return r.Replace(k.CodePrefix()) + "%"
}

// Code is a formatted invoice code.
type Code struct {
	Key    CounterKey
	Number int64
}

// Format renders the code with the sequence zero-padded to width.
// Numbers wider than width are printed in full.
func (c Code) Format(width int) string {
	if width <= 0 {
		width = DefaultPadWidth
	}
	return fmt.Sprintf("%s/%s/%0*d", c.Key.Prefix, c.Key.FinancialYear, width, c.Number)
}

// ParseSequence extracts the numeric suffix of code when it belongs to key.
// Returns false for codes of other sequences or with a non-numeric suffix.
func ParseSequence(key CounterKey, code string) (int64, bool) {
	code = strings.TrimSpace(code)
	rest, ok := strings.CutPrefix(code, key.CodePrefix())
	if !ok || rest == "" {
		return 0, false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ParseCode splits a code of the form PREFIX/FY/NNNN into its parts.
func ParseCode(code string) (Code, error) {
	parts := strings.Split(strings.TrimSpace(code), separator)
	if len(parts) != 3 {
		return Code{}, fmt.Errorf("%w: invoice code %q must have three parts", ErrInvalidInput, code)
	}
	key, err := NewCounterKey(parts[0], parts[1])
	if err != nil {
		return Code{}, err
	}
	n, ok := ParseSequence(key, code)
	if !ok {
		return Code{}, fmt.Errorf("%w: invoice code %q has a non-numeric sequence", ErrInvalidInput, code)
	}
	return Code{Key: key, Number: n}, nil
}
