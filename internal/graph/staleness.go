package graph

import "sort"

const dayMs = 86_400_000

// StaleCopy is a repeater copy whose template changed after the copy was
// last written
type StaleCopy struct {
	CopyID     string `json:"copy_id"`
	CopyLabel  string `json:"copy_label"`
	TemplateID string `json:"template_id"`
	DriftDays  int64  `json:"drift_days"`
}

// StalenessReport contains drift between templates and their copies
type StalenessReport struct {
	StaleCopies     []StaleCopy `json:"stale_copies"`
	OrphanedCopies  []string    `json:"orphaned_copies"` // template node gone
	CopyCount       int         `json:"copy_count"`
	StaleCopyCount  int         `json:"stale_copy_count"`
	OrphanCopyCount int         `json:"orphan_copy_count"`
}

// ComputeStaleness compares every copy with the template node it came from.
// Drift shorter than minDriftDays is ignored.
func ComputeStaleness(snap *Snapshot, minDriftDays int64) *StalenessReport {
	report := &StalenessReport{}
	for _, id := range snap.NodeIDs() {
		node := snap.Catalog.Node(id)
		if !node.Metadata.IsCopy() {
			continue
		}
		report.CopyCount++

		tmpl := snap.Catalog.Node(node.Metadata.CopiedFromNodeID)
		if tmpl == nil {
			report.OrphanedCopies = append(report.OrphanedCopies, id)
			continue
		}
		if tmpl.UpdatedAt <= node.UpdatedAt {
			continue
		}
		drift := (tmpl.UpdatedAt - node.UpdatedAt) / dayMs
		if drift < minDriftDays {
			continue
		}
		report.StaleCopies = append(report.StaleCopies, StaleCopy{
			CopyID:     id,
			CopyLabel:  node.Label,
			TemplateID: tmpl.ID,
			DriftDays:  drift,
		})
	}
	sort.SliceStable(report.StaleCopies, func(i, j int) bool {
		return report.StaleCopies[i].DriftDays > report.StaleCopies[j].DriftDays
	})
	report.StaleCopyCount = len(report.StaleCopies)
	report.OrphanCopyCount = len(report.OrphanedCopies)
	return report
}
