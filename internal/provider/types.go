package provider

import "github.com/kenneth/kms-token-provider/internal/registry"

// Info describes the provider itself, the GetInfo entry point's payload.
type Info struct {
	Manufacturer string
	Description  string
	Version      string
}

// SlotInfo describes one configured slot.
type SlotInfo struct {
	SlotID       int
	Label        string
	TokenPresent bool
}

// TokenInfo describes the token occupying a slot — in this provider, the
// slot is always occupied, so TokenInfo and SlotInfo largely overlap.
type TokenInfo struct {
	Label        string
	Manufacturer string
	Model        string
	SerialNumber string
	ObjectCount  int
	SessionCount int
}

// MechanismInfo describes one supported mechanism.
type MechanismInfo struct {
	Mechanism registry.Mechanism
	Name      string
}

// SessionInfo describes an open session.
type SessionInfo struct {
	SlotID    int
	ReadWrite bool
	LoggedIn  bool
}
