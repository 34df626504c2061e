package service

import (
	"errors"
	"fmt"
)

// Error taxonomy. Handlers map these to HTTP statuses with errors.Is, so
// specific errors wrap the base sentinel they belong to.
var (
	ErrValidation        = errors.New("invalid input")
	ErrNotFound          = errors.New("resource not found")
	ErrConflict          = errors.New("state conflict")
	ErrExpired           = errors.New("deadline elapsed")
	ErrResourceExhausted = errors.New("no capacity available")
)

// Queue errors
var (
	ErrEmptyParty          = fmt.Errorf("%w: party must not be empty", ErrValidation)
	ErrUnsupportedMode     = fmt.Errorf("%w: unsupported game mode", ErrValidation)
	ErrPartyTooLarge       = fmt.Errorf("%w: party exceeds team size", ErrValidation)
	ErrPlayerAlreadyQueued = fmt.Errorf("%w: player already has an active ticket", ErrConflict)
	ErrTicketNotCancelable = fmt.Errorf("%w: ticket already matched, decline the ready check instead", ErrConflict)
)

// Ready check errors
var ErrNotParticipant = fmt.Errorf("%w: ticket is not part of this ready check", ErrNotFound)

// Lock errors
var ErrAlreadyLocked = fmt.Errorf("%w: match already locked", ErrConflict)

// Rating errors
var ErrResultAlreadyApplied = fmt.Errorf("%w: match result already applied", ErrConflict)
