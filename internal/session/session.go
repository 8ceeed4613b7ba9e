// Package session decides what a page-level guard does for a given
// authentication state. The functions are pure; the HTTP middleware supplies
// the state.
package session

// State is the caller's authentication state as far as it is known.
type State int

const (
	// Unknown means the check has not completed or could not complete.
	Unknown State = iota
	Authenticated
	Unauthenticated
)

func (s State) String() string {
	switch s {
	case Authenticated:
		return "authenticated"
	case Unauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// Decision is what the guard does with the request.
type Decision int

const (
	// Pending renders nothing until the state is known.
	Pending Decision = iota
	Render
	RedirectHome
	RedirectLogin
)

func (d Decision) String() string {
	switch d {
	case Render:
		return "render"
	case RedirectHome:
		return "redirect_home"
	case RedirectLogin:
		return "redirect_login"
	default:
		return "pending"
	}
}

// DecideGuestView guards pages only signed-out visitors may see (login,
// register). Signed-in users are sent home.
func DecideGuestView(s State) Decision {
	switch s {
	case Authenticated:
		return RedirectHome
	case Unauthenticated:
		return Render
	default:
		return Pending
	}
}

// DecideMemberView guards pages that need a signed-in user.
func DecideMemberView(s State) Decision {
	switch s {
	case Authenticated:
		return Render
	case Unauthenticated:
		return RedirectLogin
	default:
		return Pending
	}
}
