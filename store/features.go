package store

import (
	"fmt"
	"strings"
)

// Features enabled on a store. They are fixed at creation and checked
// on every open.
type Features uint32

const (
	ArrayIndex    Features = 1 << iota // insertion order, auto keys
	Mirror                             // in-memory cache of read values
	PopulateOnGet                      // every Get fills the mirror
	Sorted                             // key order, range seeks
)

var featureNames = []struct {
	feature Features
	name    string
}{
	{ArrayIndex, "aindex"},
	{Mirror, "mirror"},
	{PopulateOnGet, "pget"},
	{Sorted, "sorted"},
}

const allFeatures = ArrayIndex | Mirror | PopulateOnGet | Sorted

func (f Features) Has(feature Features) bool {
	return f&feature == feature
}

func (f Features) String() string {
	names := []string{}
	for _, n := range featureNames {
		if f.Has(n.feature) {
			names = append(names, n.name)
		}
	}
	return strings.Join(names, "|")
}

// ParseFeatures accepts names separated by '|' or ','.
func ParseFeatures(s string) (Features, error) {
	f := Features(0)
	for _, name := range strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' }) {
		name = strings.ToLower(strings.TrimSpace(name))
		found := false
		for _, n := range featureNames {
			if n.name == name {
				f |= n.feature
				found = true
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown feature '%s'", name)
		}
	}
	return f, nil
}

type OpenFlags uint32

const (
	ReadOnly OpenFlags = 1 << iota // reject mutations, never flush
	Create                         // create the backing file when missing
	Truncate                       // start empty, drop stored records at next flush
)

func (f OpenFlags) Has(flag OpenFlags) bool {
	return f&flag == flag
}

type IterFlags uint32

const (
	// Range turns the start key into a lower bound instead of an exact
	// match.
	Range IterFlags = 1 << iota
)
