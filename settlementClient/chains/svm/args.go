package svm

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/holiman/uint256"

	serrors "github.com/crowdfund/settlement-node/settlementClient/errors"
)

// MaxSafeInteger is the largest integer a JSON consumer using float64 numbers can hold exactly.
const MaxSafeInteger = 1<<53 - 1

// MaxSentinel is the text form of math.MaxUint64.
const MaxSentinel = "max"

// U64Arg is an 8-byte unsigned instruction argument. Values above MaxSafeInteger are
// rendered as decimal strings in JSON, and math.MaxUint64 as the "max" sentinel.
type U64Arg uint64

// ParseU64Arg parses a decimal string or the "max" sentinel.
func ParseU64Arg(s string) (U64Arg, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, serrors.NewValidationError("empty integer argument")
	}
	if strings.EqualFold(s, MaxSentinel) {
		return U64Arg(math.MaxUint64), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return 0, serrors.Newf(serrors.ErrCodeValidation, "%q is not an unsigned integer", s)
	}
	if !v.IsUint64() {
		return 0, serrors.Newf(serrors.ErrCodeValidation, "%s does not fit in 64 bits", s)
	}
	return U64Arg(v.Uint64()), nil
}

func (a U64Arg) String() string {
	if a == math.MaxUint64 {
		return MaxSentinel
	}
	return strconv.FormatUint(uint64(a), 10)
}

func (a U64Arg) MarshalJSON() ([]byte, error) {
	if a > MaxSafeInteger {
		return json.Marshal(a.String())
	}
	return []byte(strconv.FormatUint(uint64(a), 10)), nil
}

func (a *U64Arg) UnmarshalJSON(data []byte) error {
	text := string(data)
	if len(text) > 0 && text[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		text = s
	}
	v, err := ParseU64Arg(text)
	if err != nil {
		return err
	}
	*a = v
	return nil
}
