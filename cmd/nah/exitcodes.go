package main

import (
	"os"

	"github.com/nah-dev/nah/internal/fault"
)

// Exit codes per the host contract. Scripts branch on these.
const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0

	// ExitGeneral indicates an unclassified error
	ExitGeneral = 1

	// ExitUsage indicates invalid arguments or a malformed reference
	ExitUsage = 2

	// ExitNotFound indicates a missing app, NAK, or record
	ExitNotFound = 3

	// ExitIntegrity indicates digest or archive safety failure
	ExitIntegrity = 4

	// ExitComposition indicates contract composition failed
	ExitComposition = 5

	// ExitFilesystem indicates an extraction or filesystem failure
	ExitFilesystem = 6

	// ExitChildBase offsets a propagated child exit status
	ExitChildBase = 64
)

// exitCodeFor maps a fault kind to the exit code contract.
func exitCodeFor(err error) int {
	switch fault.KindOf(err) {
	case fault.KindInvalidReference, fault.KindInsecureScheme:
		return ExitUsage
	case fault.KindNotInstalled, fault.KindNakNotInstalled:
		return ExitNotFound
	case fault.KindHashMismatch, fault.KindArchiveUnsafe:
		return ExitIntegrity
	case fault.KindInvalidManifest, fault.KindNakVersionUnsatisfiable, fault.KindNakPinDrifted,
		fault.KindAmbiguousLoaders, fault.KindFileConflict, fault.KindEnvCycle,
		fault.KindUnknownPlaceholder, fault.KindNakInUse:
		return ExitComposition
	case fault.KindIOError, fault.KindPathEscape:
		return ExitFilesystem
	default:
		return ExitGeneral
	}
}

// exitWithCode exits the process.
func exitWithCode(code int) {
	os.Exit(code)
}
