package domain

// OwnerKind tells which identity holds a cart.
type OwnerKind string

const (
	OwnerUser    OwnerKind = "user"
	OwnerSession OwnerKind = "session"
)

// Owner is either an authenticated user or an anonymous session, never both.
// The zero value means "no identity".
type Owner struct {
	kind OwnerKind
	id   string
}

func UserOwner(userID string) Owner {
	if userID == "" {
		return Owner{}
	}
	return Owner{kind: OwnerUser, id: userID}
}

func SessionOwner(sessionID string) Owner {
	if sessionID == "" {
		return Owner{}
	}
	return Owner{kind: OwnerSession, id: sessionID}
}

func (o Owner) Kind() OwnerKind { return o.kind }

func (o Owner) ID() string { return o.id }

func (o Owner) IsZero() bool { return o.id == "" }

func (o Owner) IsUser() bool { return o.kind == OwnerUser && o.id != "" }

func (o Owner) IsSession() bool { return o.kind == OwnerSession && o.id != "" }

func (o Owner) String() string {
	if o.IsZero() {
		return "anonymous"
	}
	return string(o.kind) + ":" + o.id
}
