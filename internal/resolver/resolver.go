// Package resolver picks the NAK an app links against: the highest
// installed version satisfying the app's declared range. The choice is
// pinned into the app record at install time; later launches reuse the
// pin and fail if it has drifted.
package resolver

import (
	"fmt"
	"strings"

	"github.com/nah-dev/nah/internal/fault"
	"github.com/nah-dev/nah/internal/manifest"
	"github.com/nah-dev/nah/internal/nakver"
	"github.com/nah-dev/nah/internal/registry"
)

// Selection is a resolved NAK choice.
type Selection struct {
	Record *manifest.NakRecord
	// Reason is the human-readable selection explanation stored in the
	// app record.
	Reason string
}

// Resolve returns the highest installed version of nakID satisfying
// rangeStr.
func Resolve(nakID, rangeStr string, snap *registry.Snapshot) (*Selection, error) {
	rng, err := nakver.ParseRange(rangeStr)
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalidManifest, err, "nak requirement for %s", nakID)
	}

	candidates := snap.NakVersions(nakID)
	if len(candidates) == 0 {
		return nil, fault.New(fault.KindNakNotInstalled, "no NAK with id %s is installed", nakID)
	}

	var best *manifest.NakRecord
	var bestVer *nakver.Version
	var available []string
	for _, rec := range candidates {
		v, err := nakver.Parse(rec.Nak.Version)
		if err != nil {
			// Record validation rejects malformed versions on write;
			// a record that slipped through is skipped, not fatal.
			continue
		}
		available = append(available, rec.Nak.Version)
		if !rng.Matches(v) {
			continue
		}
		if bestVer == nil || v.GreaterThan(bestVer) {
			best, bestVer = rec, v
		}
	}
	if best == nil {
		return nil, fault.New(fault.KindNakVersionUnsatisfiable,
			"no installed version of %s satisfies %s", nakID, rangeStr).
			WithDetail("available", strings.Join(available, ",")).
			WithDetail("range", rangeStr)
	}

	return &Selection{
		Record: best,
		Reason: fmt.Sprintf("highest installed version satisfying %s", rangeStr),
	}, nil
}

// VerifyPin checks that the NAK pinned in an app record is still
// installed and still satisfies the app's requirement. It returns the
// pinned record on success and nak_pin_drifted otherwise.
func VerifyPin(app *manifest.AppRecord, snap *registry.Snapshot) (*manifest.NakRecord, error) {
	if app.Nak.ID == "" {
		return nil, nil
	}
	pinned := snap.FindNak(app.Nak.ID, app.Nak.Version)
	if pinned == nil {
		return nil, fault.New(fault.KindNakPinDrifted,
			"pinned NAK %s@%s is no longer installed", app.Nak.ID, app.Nak.Version)
	}
	if app.App.NakVersionReq != "" {
		rng, err := nakver.ParseRange(app.App.NakVersionReq)
		if err != nil {
			return nil, fault.Wrap(fault.KindInvalidManifest, err, "nak requirement in record for %s", app.App.ID)
		}
		v, err := nakver.Parse(pinned.Nak.Version)
		if err != nil {
			return nil, fault.Wrap(fault.KindInvalidManifest, err, "pinned nak version")
		}
		if !rng.Matches(v) {
			return nil, fault.New(fault.KindNakPinDrifted,
				"pinned NAK %s@%s no longer satisfies %s", app.Nak.ID, app.Nak.Version, app.App.NakVersionReq)
		}
	}
	return pinned, nil
}
