package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/skobkin/spikehub/internal/connectors"
	"github.com/skobkin/spikehub/internal/hub"
)

// Version is a hub component version as reported by get_hub_info:
// [major, minor, patch, build].
type Version []int

// Semver renders v as a canonical "vMAJOR.MINOR.PATCH" string.
func (v Version) Semver() string {
	var parts [3]int
	copy(parts[:], v)

	return fmt.Sprintf("v%d.%d.%d", parts[0], parts[1], parts[2])
}

func (v Version) String() string {
	if len(v) > 3 {
		return fmt.Sprintf("%s+%d", v.Semver(), v[3])
	}

	return v.Semver()
}

type HubInfo struct {
	Firmware Version
	Runtime  Version
	Variant  string
}

type wireHubInfo struct {
	Firmware struct {
		Version []int `json:"version"`
	} `json:"firmware"`
	Runtime struct {
		Version []int `json:"version"`
	} `json:"runtime"`
	Variant string `json:"variant"`
}

func DecodeHubInfo(raw json.RawMessage) (HubInfo, error) {
	var wire wireHubInfo
	if err := json.Unmarshal(raw, &wire); err != nil {
		return HubInfo{}, fmt.Errorf("decode hub info: %w", err)
	}
	if len(wire.Firmware.Version) == 0 {
		return HubInfo{}, fmt.Errorf("decode hub info: firmware version missing")
	}

	return HubInfo{
		Firmware: wire.Firmware.Version,
		Runtime:  wire.Runtime.Version,
		Variant:  wire.Variant,
	}, nil
}

// FirmwareAtLeast reports whether the firmware is minVersion or newer.
func (i HubInfo) FirmwareAtLeast(minVersion string) bool {
	return i.CheckFirmware(minVersion) == nil
}

// CheckFirmware fails with ErrFirmwareTooOld when the firmware is older than
// minVersion. minVersion is a semver string; the "v" prefix is optional.
func (i HubInfo) CheckFirmware(minVersion string) error {
	want := normalizeSemver(minVersion)
	if !semver.IsValid(want) {
		return fmt.Errorf("invalid minimum firmware version %q", minVersion)
	}
	if semver.Compare(i.Firmware.Semver(), want) < 0 {
		return fmt.Errorf("firmware %s, need %s: %w", i.Firmware, want, ErrFirmwareTooOld)
	}

	return nil
}

func normalizeSemver(version string) string {
	trimmed := strings.TrimSpace(version)
	if trimmed == "" || strings.HasPrefix(trimmed, "v") {
		return trimmed
	}

	return "v" + trimmed
}

// HubInfo requests and decodes the firmware and runtime versions.
func (s *Session) HubInfo(ctx context.Context) (HubInfo, error) {
	call, err := s.GetHubInfo()
	if err != nil {
		return HubInfo{}, err
	}
	resp, err := call.Wait(ctx)
	if err != nil {
		return HubInfo{}, err
	}

	return DecodeHubInfo(resp.Raw)
}

// StorageStatus requests the slot listing and stores it.
func (s *Session) StorageStatus(ctx context.Context) (hub.Storage, error) {
	call, err := s.GetStorageStatus()
	if err != nil {
		return hub.Storage{}, err
	}
	resp, err := call.Wait(ctx)
	if err != nil {
		return hub.Storage{}, err
	}
	storage, err := hub.DecodeStorage(resp.Raw)
	if err != nil {
		return hub.Storage{}, err
	}
	s.store.ReplaceStorage(storage)
	s.publish(connectors.TopicStorage, connectors.StorageUpdate{Storage: storage})

	return storage, nil
}
