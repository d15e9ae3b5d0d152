package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"kasa/internal/core"
)

// legacyShape is the single-file layout that predates per-user storage.
type legacyShape struct {
	Users map[string]core.UserRecord `json:"users"`
}

// ReadLegacy decodes a monolithic {"users": {...}} document. Records are
// normalized, missing usernames are taken from their key, and globals are
// backfilled from month history. The result is sorted by username.
func ReadLegacy(r io.Reader) ([]core.UserRecord, error) {
	var shape legacyShape
	if err := json.NewDecoder(r).Decode(&shape); err != nil {
		return nil, fmt.Errorf("decode legacy storage: %w", err)
	}

	out := make([]core.UserRecord, 0, len(shape.Users))
	for key, rec := range shape.Users {
		if rec.Username == "" {
			rec.Username = key
		}
		rec.Username = strings.ToLower(strings.TrimSpace(rec.Username))
		rec.Normalize()
		rec, _ = core.BackfillGlobals(rec)
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b core.UserRecord) int {
		return strings.Compare(a.Username, b.Username)
	})
	return out, nil
}
