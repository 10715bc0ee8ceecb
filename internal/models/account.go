package models

// Account is the slice of the user record the core reads: the owner id for
// filtering, and the optional custom domain used in routing. Accounts are
// created and authenticated elsewhere.
type Account struct {
	ID           int64   `json:"id"`
	CustomDomain *string `json:"custom_domain,omitempty"`
}
