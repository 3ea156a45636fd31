package vault

import (
	"github.com/forest6511/nimbusvault/pkg/keymgr"
	"github.com/forest6511/nimbusvault/pkg/prefs"
)

// Startup is what the host should do when it comes to the foreground.
type Startup int

const (
	NeedsSetup Startup = iota
	PromptBiometric
	PromptCredential
	Ready
)

func (s Startup) String() string {
	switch s {
	case NeedsSetup:
		return "needs-setup"
	case PromptBiometric:
		return "prompt-biometric"
	case PromptCredential:
		return "prompt-credential"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// StartupDecision reads the preference flags and the lock state. It never
// writes either.
func StartupDecision(p prefs.Accessor, km *keymgr.Manager) Startup {
	switch {
	case !p.VaultInitialized():
		return NeedsSetup
	case km.IsUnlocked():
		return Ready
	case p.BiometricEnabled():
		return PromptBiometric
	default:
		return PromptCredential
	}
}
