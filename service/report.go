package service

import (
	"fmt"
	"io"

	"bitbuckethooks/models"
)

// Report prints the final counts. Blacklisted and whitelisted counts only
// appear when the matching pattern was supplied.
func Report(w io.Writer, run *models.Run) {
	c := run.Counters
	fmt.Fprint(w, "All done!\n\n")
	fmt.Fprint(w, "Repo Report\n===========\n\n")
	fmt.Fprintf(w, "Total Repos: %d\n-----------------\nUpdated: %d\n", c.Total, c.Updated)
	if run.Credentials.Blacklist != "" {
		fmt.Fprintf(w, "Blacklisted: %d\n", c.Blacklisted)
	}
	if run.Credentials.Whitelist != "" {
		fmt.Fprintf(w, "Whitelisted: %d\n", c.Whitelisted)
	}
	fmt.Fprintln(w)
}
