package relay

import errorsmod "cosmossdk.io/errors"

// Protocol and auth errors reported to the originating connection. None of
// these are fatal: the connection stays open unless admission control says
// otherwise.
var (
	ErrInvalidAuthData    = errorsmod.Register(ModuleName, 1, "invalid auth data")
	ErrNoPendingChallenge = errorsmod.Register(ModuleName, 2, "no pending challenge")
	ErrSignatureMismatch  = errorsmod.Register(ModuleName, 3, "signature mismatch")
	ErrNotAuthenticated   = errorsmod.Register(ModuleName, 4, "not authenticated")
	ErrUnknownMessageType = errorsmod.Register(ModuleName, 5, "unknown message type")
	ErrRateLimited        = errorsmod.Register(ModuleName, 6, "rate limited")
	ErrMalformedMessage   = errorsmod.Register(ModuleName, 7, "malformed message")
)
