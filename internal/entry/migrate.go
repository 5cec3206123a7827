package entry

import (
	"context"
	"slices"
	"strings"
)

// isNewFormatUniqueID reports whether uniqueID uses the MAC-prefixed scheme
// "<MAC>-<type>-<object_id>".
func isNewFormatUniqueID(uniqueID, prefix string) bool {
	return strings.HasPrefix(uniqueID, prefix) && strings.Count(uniqueID, "-") == 2
}

// LegacyUniqueID derives the unique id the previous addressing scheme used
// for an entity: the device name followed by the type and object id with no
// separators.
func LegacyUniqueID(deviceName, uniqueID string) (string, bool) {
	parts := strings.SplitN(uniqueID, "-", 3)
	if len(parts) != 3 {
		return "", false
	}
	return deviceName + parts[1] + parts[2], true
}

// countLegacy returns how many registry entries still look like legacy
// unique ids: neither prefixed with the device MAC nor shaped as
// "<x>-<type>-<object_id>".
func countLegacy(entries []RegistryEntry, prefix string) int {
	n := 0
	for _, e := range entries {
		if strings.Count(e.UniqueID, "-") != 2 && !strings.HasPrefix(e.UniqueID, prefix) {
			n++
		}
	}
	return n
}

// migrateUniqueIDs rewrites registry entries that still use the legacy id of
// a candidate. Candidates with no legacy entry are recorded as unresolved.
func (r *RuntimeData) migrateUniqueIDs(ctx context.Context, device DeviceInfo, prefix string, candidates []EntityInfo) {
	var unresolved []string
	for _, info := range candidates {
		platform := info.Type.Platform()
		legacy, ok := LegacyUniqueID(device.Name, info.UniqueID)
		if !ok {
			unresolved = append(unresolved, info.UniqueID)
			continue
		}

		entityID, found, err := r.registry.LookupEntityID(ctx, platform, Domain, legacy)
		if err != nil {
			r.logger.Warn("entity registry lookup failed",
				"entry", r.entryID, "unique_id", legacy, "error", err)
			continue
		}
		if !found {
			unresolved = append(unresolved, info.UniqueID)
			continue
		}

		if err := r.registry.UpdateUniqueID(ctx, entityID, info.UniqueID); err != nil {
			r.logger.Error("failed to migrate unique id",
				"entry", r.entryID, "entity_id", entityID, "from", legacy, "to", info.UniqueID, "error", err)
			continue
		}
		r.logger.Info("migrated unique id",
			"entry", r.entryID, "entity_id", entityID, "from", legacy, "to", info.UniqueID)
	}

	if len(unresolved) == 0 {
		return
	}

	legacyLeft := 0
	if entries, err := r.registry.ListByConfigEntry(ctx, r.entryID); err == nil {
		legacyLeft = countLegacy(entries, prefix)
	}

	r.mu.Lock()
	for _, uid := range unresolved {
		if !slices.Contains(r.unresolved, uid) {
			r.unresolved = append(r.unresolved, uid)
		}
	}
	r.mu.Unlock()

	r.metrics.MigrationUnresolved(len(unresolved))
	r.logger.Warn("unique id migration unresolved",
		"entry", r.entryID, "unique_ids", unresolved, "legacy_entries", legacyLeft)
}
