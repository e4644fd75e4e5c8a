// Package version orders Maven versions.
//
// Plain numeric versions ("1.2", "3.0.1") are compared through semver; everything else
// ("1.0-rc1", "33.0-jre", "2.0.0-SNAPSHOT") follows Maven's ComparableVersion rules, so that
// qualifiers sort alpha < beta < milestone < rc < snapshot < release < sp < unknown.
package version

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

var plainNumeric = regexp.MustCompile(`^\d+(\.\d+){0,2}$`)

// Compare returns -1, 0 or 1 as a is lower than, equal to, or higher than b.
func Compare(a, b string) int {
	if plainNumeric.MatchString(a) && plainNumeric.MatchString(b) {
		va, errA := semver.NewVersion(a)
		vb, errB := semver.NewVersion(b)
		if errA == nil && errB == nil {
			return va.Compare(vb)
		}
	}
	return sign(parse(a).compare(parse(b)))
}

// Max returns the highest of versions, or "" when there is none.
func Max(versions ...string) string {
	best := ""
	for i, v := range versions {
		if i == 0 || Compare(v, best) > 0 {
			best = v
		}
	}
	return best
}

func IsSnapshot(v string) bool {
	return strings.HasSuffix(v, "-SNAPSHOT")
}

// FromSingleVersionRange turns "[1.2]" into "1.2". Other strings are returned unchanged.
func FromSingleVersionRange(v string) string {
	v = strings.TrimSpace(v)
	if strings.HasPrefix(v, "[") && strings.HasSuffix(v, "]") && !strings.Contains(v, ",") {
		return strings.TrimSpace(v[1 : len(v)-1])
	}
	return v
}

func sign(i int) int {
	switch {
	case i < 0:
		return -1
	case i > 0:
		return 1
	}
	return 0
}

type item interface {
	compare(other item) int
	isNull() bool
}

type intItem string

type stringItem string

type listItem []item

var qualifiers = []string{"alpha", "beta", "milestone", "rc", "snapshot", "", "sp"}

const releaseIndex = "5"

var aliases = map[string]string{"ga": "", "final": "", "release": "", "cr": "rc"}

func newIntItem(s string) intItem {
	s = strings.TrimLeft(s, "0")
	return intItem(s)
}

func newStringItem(s string, followedByDigit bool) stringItem {
	if followedByDigit && len(s) == 1 {
		switch s {
		case "a":
			s = "alpha"
		case "b":
			s = "beta"
		case "m":
			s = "milestone"
		}
	}
	if alias, ok := aliases[s]; ok {
		s = alias
	}
	return stringItem(s)
}

func comparableQualifier(q string) string {
	for i, known := range qualifiers {
		if known == q {
			return strconv.Itoa(i)
		}
	}
	return strconv.Itoa(len(qualifiers)) + "-" + q
}

func (i intItem) isNull() bool { return i == "" }

func (i intItem) compare(other item) int {
	switch o := other.(type) {
	case nil:
		if i.isNull() {
			return 0
		}
		return 1
	case intItem:
		if len(i) != len(o) {
			return len(i) - len(o)
		}
		return strings.Compare(string(i), string(o))
	default:
		return 1
	}
}

func (s stringItem) isNull() bool { return comparableQualifier(string(s)) == releaseIndex }

func (s stringItem) compare(other item) int {
	switch o := other.(type) {
	case nil:
		return strings.Compare(comparableQualifier(string(s)), releaseIndex)
	case intItem:
		return -1
	case stringItem:
		return strings.Compare(comparableQualifier(string(s)), comparableQualifier(string(o)))
	default:
		return -1
	}
}

func (l listItem) isNull() bool { return len(l) == 0 }

func (l listItem) compare(other item) int {
	switch o := other.(type) {
	case nil:
		if len(l) == 0 {
			return 0
		}
		return l[0].compare(nil)
	case intItem:
		return -1
	case stringItem:
		return 1
	case listItem:
		for i := 0; i < len(l) || i < len(o); i++ {
			var left, right item
			if i < len(l) {
				left = l[i]
			}
			if i < len(o) {
				right = o[i]
			}
			var result int
			if left == nil {
				if right != nil {
					result = -right.compare(nil)
				}
			} else {
				result = left.compare(right)
			}
			if result != 0 {
				return result
			}
		}
		return 0
	}
	return 0
}

// builder keeps each nested list addressable while parsing.
type builder struct {
	items []item
	// parent list and the index of this list inside it
	parent *builder
	index  int
}

func (b *builder) add(it item) {
	b.items = append(b.items, it)
}

func (b *builder) sub() *builder {
	child := &builder{parent: b, index: len(b.items)}
	b.items = append(b.items, listItem(nil))
	return child
}

func (b *builder) normalize() {
	for i := len(b.items) - 1; i >= 0; i-- {
		last := b.items[i]
		if last.isNull() {
			b.items = append(b.items[:i], b.items[i+1:]...)
			continue
		}
		if _, isList := last.(listItem); !isList {
			break
		}
	}
}

func parseItem(isDigit bool, s string, followedByDigit bool) item {
	if isDigit {
		return newIntItem(s)
	}
	return newStringItem(s, followedByDigit)
}

func parse(v string) listItem {
	v = strings.ToLower(v)
	root := &builder{}
	current := root
	opened := []*builder{root}
	isDigit := false
	start := 0

	for i := 0; i < len(v); i++ {
		c := v[i]
		switch {
		case c == '.':
			if i == start {
				current.add(intItem(""))
			} else {
				current.add(parseItem(isDigit, v[start:i], false))
			}
			start = i + 1
		case c == '-':
			if i == start {
				current.add(intItem(""))
			} else {
				current.add(parseItem(isDigit, v[start:i], false))
			}
			start = i + 1
			current = current.sub()
			opened = append(opened, current)
		case c >= '0' && c <= '9':
			if !isDigit && i > start {
				current.add(newStringItem(v[start:i], true))
				start = i
				current = current.sub()
				opened = append(opened, current)
			}
			isDigit = true
		default:
			if isDigit && i > start {
				current.add(parseItem(true, v[start:i], false))
				start = i
				current = current.sub()
				opened = append(opened, current)
			}
			isDigit = false
		}
	}
	if len(v) > start {
		current.add(parseItem(isDigit, v[start:], false))
	}

	// innermost lists first, then store each into its parent slot
	for i := len(opened) - 1; i >= 0; i-- {
		b := opened[i]
		b.normalize()
		if b.parent != nil {
			b.parent.items[b.index] = listItem(b.items)
		}
	}
	return listItem(root.items)
}
