// Package filter decides which repositories take part in a run, based on
// optional whitelist and blacklist regular expressions matched against the
// repository slug.
package filter

import (
	"fmt"
	"regexp"
)

// ErrInvalidPattern is returned when a whitelist or blacklist does not compile.
var ErrInvalidPattern = fmt.Errorf("invalid pattern")

// Disposition is the verdict for a single slug.
type Disposition int

const (
	// Proceed means no pattern is configured.
	Proceed Disposition = iota
	// Whitelisted means the slug matched the whitelist.
	Whitelisted
	// NotWhitelisted means a whitelist is configured and the slug missed it.
	NotWhitelisted
	// Blacklisted means the slug matched the blacklist.
	Blacklisted
)

func (d Disposition) String() string {
	switch d {
	case Proceed:
		return "proceed"
	case Whitelisted:
		return "whitelisted"
	case NotWhitelisted:
		return "not-whitelisted"
	case Blacklisted:
		return "blacklisted"
	}
	return fmt.Sprintf("disposition(%d)", int(d))
}

// Included reports whether the repository should be inspected for hooks.
func (d Disposition) Included() bool {
	return d == Proceed || d == Whitelisted
}

// Filter holds the compiled patterns. A nil pattern is not set.
type Filter struct {
	whitelist *regexp.Regexp
	blacklist *regexp.Regexp
}

// New compiles the patterns. Empty strings disable the corresponding check.
// Patterns are searched for anywhere in the slug, they are not anchored.
func New(whitelist, blacklist string) (*Filter, error) {
	f := &Filter{}
	var err error
	if whitelist != "" {
		if f.whitelist, err = regexp.Compile(whitelist); err != nil {
			return nil, fmt.Errorf("%w: whitelist %q: %v", ErrInvalidPattern, whitelist, err)
		}
	}
	if blacklist != "" {
		if f.blacklist, err = regexp.Compile(blacklist); err != nil {
			return nil, fmt.Errorf("%w: blacklist %q: %v", ErrInvalidPattern, blacklist, err)
		}
	}
	return f, nil
}

// HasWhitelist reports whether a whitelist pattern is configured.
func (f *Filter) HasWhitelist() bool { return f.whitelist != nil }

// HasBlacklist reports whether a blacklist pattern is configured.
func (f *Filter) HasBlacklist() bool { return f.blacklist != nil }

// Check returns the disposition of slug. The blacklist wins over the whitelist.
func (f *Filter) Check(slug string) Disposition {
	if f.blacklist != nil && f.blacklist.MatchString(slug) {
		return Blacklisted
	}
	if f.whitelist != nil {
		if f.whitelist.MatchString(slug) {
			return Whitelisted
		}
		return NotWhitelisted
	}
	return Proceed
}
