package syncer

import "github.com/aretw0/tally/pkg/core"

// MergeStats counts what a merge took from each side.
type MergeStats struct {
	Added   int `json:"added"`   // present only remotely
	Updated int `json:"updated"` // remote copy was newer
	Kept    int `json:"kept"`    // local copy won or was alone
}

// Changed reports whether the merge took anything from the remote.
func (s MergeStats) Changed() bool { return s.Added+s.Updated > 0 }

// Merge unions local and remote by id. For ids present on both sides the
// record with the newer UpdatedAt wins and ties keep the local copy.
// Tombstones are regular records, so a newer deletion propagates.
//
// The result keeps local order, followed by remote-only records in remote order.
func Merge(local, remote []core.Debtor) ([]core.Debtor, MergeStats) {
	out := make([]core.Debtor, 0, len(local)+len(remote))
	pos := make(map[string]int, len(local)+len(remote))

	for _, d := range local {
		if d.ID == "" {
			continue
		}
		if i, dup := pos[d.ID]; dup {
			if d.UpdatedAt.After(out[i].UpdatedAt) {
				out[i] = d
			}
			continue
		}
		pos[d.ID] = len(out)
		out = append(out, d)
	}
	nLocal := len(out)

	replaced := make(map[int]bool)
	for _, r := range remote {
		if r.ID == "" {
			continue
		}
		i, ok := pos[r.ID]
		if !ok {
			pos[r.ID] = len(out)
			out = append(out, r)
			continue
		}
		if r.UpdatedAt.After(out[i].UpdatedAt) {
			out[i] = r
			if i < nLocal {
				replaced[i] = true
			}
		}
	}

	return out, MergeStats{
		Added:   len(out) - nLocal,
		Updated: len(replaced),
		Kept:    nLocal - len(replaced),
	}
}
