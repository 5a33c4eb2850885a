package hub

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// SlotCount is the number of project slots the hub reports.
const SlotCount = 20

// ProjectSlot mirrors one entry of the hub's storage listing.
type ProjectSlot struct {
	Slot      int
	Name      string
	Type      string
	ID        int
	ProjectID string
	Created   int64
	Modified  int64
	Size      int
}

// StorageInfo is the filesystem usage part of a storage listing.
type StorageInfo struct {
	Available float64
	Total     float64
	Free      float64
	Percent   float64
	Unit      string
}

// Storage is one complete storage listing.
type Storage struct {
	Info  StorageInfo
	Slots []ProjectSlot
}

type wireStorage struct {
	Storage *struct {
		Available float64 `json:"available"`
		Total     float64 `json:"total"`
		Free      float64 `json:"free"`
		Percent   float64 `json:"pct"`
		Unit      string  `json:"unit"`
	} `json:"storage"`
	Slots map[string]wireSlot `json:"slots"`
}

type wireSlot struct {
	Name      string          `json:"name"`
	Type      json.RawMessage `json:"type"`
	ID        json.Number     `json:"id"`
	ProjectID string          `json:"project_id"`
	Created   json.Number     `json:"created"`
	Modified  json.Number     `json:"modified"`
	Size      json.Number     `json:"size"`
}

// DecodeStorage decodes a storage listing from a tag 1 notification or a
// get_storage_status response. Slots outside 0..19 are ignored.
func DecodeStorage(raw json.RawMessage) (Storage, error) {
	var wire wireStorage
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Storage{}, fmt.Errorf("decode storage: %w", err)
	}

	var out Storage
	if wire.Storage != nil {
		out.Info = StorageInfo{
			Available: wire.Storage.Available,
			Total:     wire.Storage.Total,
			Free:      wire.Storage.Free,
			Percent:   wire.Storage.Percent,
			Unit:      wire.Storage.Unit,
		}
	}
	for key, ws := range wire.Slots {
		slot, err := strconv.Atoi(key)
		if err != nil || slot < 0 || slot >= SlotCount {
			continue
		}
		out.Slots = append(out.Slots, ProjectSlot{
			Slot:      slot,
			Name:      decodeProjectName(ws.Name),
			Type:      decodeSlotType(ws.Type),
			ID:        int(numberOrZero(ws.ID)),
			ProjectID: ws.ProjectID,
			Created:   numberOrZero(ws.Created),
			Modified:  numberOrZero(ws.Modified),
			Size:      int(numberOrZero(ws.Size)),
		})
	}
	sort.Slice(out.Slots, func(i, j int) bool {
		return out.Slots[i].Slot < out.Slots[j].Slot
	})

	return out, nil
}

// Project names travel base64 encoded; plain names are kept as is.
func decodeProjectName(raw string) string {
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return raw
	}

	return string(decoded)
}

func decodeSlotType(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	return string(raw)
}

func numberOrZero(n json.Number) int64 {
	if n == "" {
		return 0
	}
	if v, err := n.Int64(); err == nil {
		return v
	}
	if f, err := n.Float64(); err == nil {
		return int64(f)
	}

	return 0
}
