package directory

import "context"

// Address is a resolved identifier for a person.
type Address struct {
	Email   string `json:"email,omitempty"`
	SlackID string `json:"slack_id,omitempty"`
}

// Cache stores name-to-address resolutions so repeated lookups skip the
// upstream directory API.
type Cache interface {
	Lookup(ctx context.Context, name string) (Address, bool, error)
	Record(ctx context.Context, name string, addr Address) error
}
