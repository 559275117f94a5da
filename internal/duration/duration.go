package duration

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	pkgerrors "github.com/subvaulthq/subvault-backend/pkg/errors"
)

// DaysPerMonth treats a month as a fixed 30-day unit rather than calendar
// arithmetic, so renewal math is reproducible regardless of which calendar
// month the renewal lands in.
const DaysPerMonth = 30

var labelRe = regexp.MustCompile(`^(\d+)\s+(day|days|month|months)$`)

// ToDays maps a human-readable duration label ("3 months", "14 days") to a
// day count. Unparseable labels fail; callers must never substitute a default
// that silently changes a customer's entitlement length.
func ToDays(label string) (int, error) {
	normalized := strings.ToLower(strings.TrimSpace(label))
	normalized = strings.Join(strings.Fields(normalized), " ")

	m := labelRe.FindStringSubmatch(normalized)
	if m == nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unrecognized duration label %q", label))
	}

	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unrecognized duration label %q", label))
	}

	switch m[2] {
	case "day", "days":
		return n, nil
	case "month", "months":
		return n * DaysPerMonth, nil
	}
	return 0, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unrecognized duration label %q", label))
}
