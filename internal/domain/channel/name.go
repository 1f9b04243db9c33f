package channel

import (
	"fmt"
	"strings"
)

// Name of a channel
type Name string

var invalidChars = `\/*?"<>| ,#:`

var illegalPrefixes = []string{
	"_",
	"-",
	"+",
}

var illegals = []string{
	".",
	"..",
}

const maxNameLength = 48

// NameFromString returns a channel Name if s is valid, otherwise an InvalidName
// error listing every problem found.
//
// Names end up in blob paths, coordination tree paths and Elasticsearch
// document ids, so the rules are the intersection of what all of those accept.
func NameFromString(s string) (*Name, error) {
	var errs []error

	if len(s) == 0 {
		errs = append(errs, fmt.Errorf("empty string"))
	}
	if len(s) > maxNameLength {
		errs = append(errs, fmt.Errorf("longer than [%d] characters", maxNameLength))
	}
	if strings.ContainsAny(s, invalidChars) {
		errs = append(errs, fmt.Errorf("contains invalid chars [%v]", invalidChars))
	}
	for _, illegalPrefix := range illegalPrefixes {
		if strings.HasPrefix(s, illegalPrefix) {
			errs = append(errs, fmt.Errorf("starts with illegal char [%v]", illegalPrefix))
		}
	}
	for _, illegalStr := range illegals {
		if s == illegalStr {
			errs = append(errs, fmt.Errorf("equal to illegal string sequence [%v]", illegalStr))
		}
	}
	if s != strings.ToLower(s) {
		errs = append(errs, fmt.Errorf("not lower case [%v]", s))
	}
	if len(errs) == 0 {
		n := Name(s)
		return &n, nil
	} else {
		return nil, &InvalidName{
			Errors: errs,
		}
	}
}

type InvalidName struct {
	Errors []error
}

func (i *InvalidName) Error() string {
	return fmt.Sprintf("Illegal Channel name: [%v]", i.Errors)
}
