package graph

import (
	"strings"

	"github.com/OFFIS-RIT/vaultgraph/pkg/common"
	"github.com/OFFIS-RIT/vaultgraph/pkg/logger"
)

// Resolve applies the rename mappings declared by docPath to the rows
// extracted from docPath. Rows of other documents are returned unchanged.
//
// Labels are matched exactly and case sensitively. Each mapping is applied
// once, so A => B and B => C in the same document do not turn A into C.
// When one old name is declared twice the later declaration wins.
func Resolve(docPath string, mappings []common.RenameMapping, rows []common.ExtractedRelationship) []common.ExtractedRelationship {
	renames := make(map[string]string, len(mappings))
	for _, m := range mappings {
		oldName, newName := strings.TrimSpace(m.Old), strings.TrimSpace(m.New)
		if oldName == "" || newName == "" {
			logger.Warn("[Resolve] Ignoring rename with empty side", "path", docPath, "old", m.Old, "new", m.New)
			continue
		}
		if prev, ok := renames[oldName]; ok && prev != newName {
			logger.Warn("[Resolve] Conflicting rename, later declaration wins", "path", docPath, "old", oldName, "was", prev, "now", newName)
		}
		renames[oldName] = newName
	}

	out := make([]common.ExtractedRelationship, len(rows))
	for i, r := range rows {
		if len(renames) > 0 && r.SourceDocumentPath == docPath {
			if n, ok := renames[r.SourceLabel]; ok {
				r.SourceLabel = n
			}
			if n, ok := renames[r.TargetLabel]; ok {
				r.TargetLabel = n
			}
		}
		out[i] = r
	}
	return out
}
