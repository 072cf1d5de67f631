package bitbucket

import "fmt"

// Client errors
var (
	ErrRequest      = fmt.Errorf("bitbucket request failed")
	ErrHookCreation = fmt.Errorf("web hook creation failed")
	ErrPagination   = fmt.Errorf("pagination loop detected")
)
