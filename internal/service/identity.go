package service

import "github.com/fjod/go_cart/techstore-cart/internal/domain"

// Identity is what a request carries: a verified user id from the bearer
// token and/or the client-generated anonymous session token.
type Identity struct {
	UserID    string
	SessionID string
}

// Owner picks the cart owner for lookups. A user always wins; the session
// token only matters for the login merge.
func (i Identity) Owner() domain.Owner {
	if i.UserID != "" {
		return domain.UserOwner(i.UserID)
	}
	return domain.SessionOwner(i.SessionID)
}
