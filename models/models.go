// Package models defines the core data structures used throughout the application.
package models

// Credentials holds everything collected from the operator before a run.
// An empty Whitelist or Blacklist means the pattern is not set.
type Credentials struct {
	Account   string
	Username  string
	Password  string
	HookURL   string
	Whitelist string
	Blacklist string
}

// Repository represents a Bitbucket repository as returned by the listing endpoint
type Repository struct {
	Slug      string
	HooksHref string
}

// Hook represents a webhook subscription on a repository
type Hook struct {
	UUID        string
	URL         string
	Description string
	Active      bool
	Events      []string
}

// RunCounters tracks what happened to the repositories of one run.
type RunCounters struct {
	Total       int
	Updated     int
	Whitelisted int
	Blacklisted int
}

// Run is the state of a single program run. It is built once at startup
// and handed by pointer to the reconciler and the reporter.
type Run struct {
	Credentials Credentials
	Counters    RunCounters
}

// NewRun creates a Run with zeroed counters.
func NewRun(creds Credentials) *Run {
	return &Run{Credentials: creds}
}
