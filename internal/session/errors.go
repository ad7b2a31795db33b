package session

import errorsmod "cosmossdk.io/errors"

// Validation rejections surfaced to the client as ERROR reasons. Silent
// drops (duplicate obstacle, too-fast obstacle) deliberately have no
// sentinel: they are expected noise, not errors.
var (
	ErrSessionAlreadyActive = errorsmod.Register(ModuleName, 1, "session already active")
	ErrTournamentNotFound   = errorsmod.Register(ModuleName, 2, "tournament not found")
	ErrTournamentEnded      = errorsmod.Register(ModuleName, 3, "tournament already ended")
	ErrTournamentExpired    = errorsmod.Register(ModuleName, 4, "tournament expired")
	ErrNoAttemptsLeft       = errorsmod.Register(ModuleName, 5, "no attempts left")
	ErrPreflight            = errorsmod.Register(ModuleName, 6, "preflight check failed")
	ErrSubmit               = errorsmod.Register(ModuleName, 7, "could not queue ledger write")
)
