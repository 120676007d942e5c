package sync

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/brandon/mailcore/pkg/types"
)

const previewLength = 160

// merge puts incoming records not yet cached in front of existing, newest
// first. Records already cached keep their local id and take the
// provider's current flags. It returns the merged set and how many records
// were added.
func merge(existing, incoming []types.MailRecord) ([]types.MailRecord, int) {
	index := make(map[string]int, len(existing))
	out := make([]types.MailRecord, len(existing))
	copy(out, existing)
	for i, m := range out {
		index[m.ProviderMessageID] = i
	}

	fresh := make([]types.MailRecord, 0, len(incoming))
	seen := make(map[string]bool, len(incoming))
	for _, m := range incoming {
		if seen[m.ProviderMessageID] {
			continue
		}
		seen[m.ProviderMessageID] = true

		if i, ok := index[m.ProviderMessageID]; ok {
			out[i].Flags = m.Flags
			continue
		}
		fresh = append(fresh, m)
	}

	sort.SliceStable(fresh, func(i, j int) bool {
		return fresh[i].Date.After(fresh[j].Date)
	})
	return append(fresh, out...), len(fresh)
}

// groupByFolder splits records by FolderID, keeping their order
func groupByFolder(records []types.MailRecord) map[string][]types.MailRecord {
	out := make(map[string][]types.MailRecord)
	for _, m := range records {
		out[m.FolderID] = append(out[m.FolderID], m)
	}
	return out
}

// localID is <account>_<provider>_<8 random hex>
func localID(acct Account) string {
	return acct.ID + "_" + acct.providerName() + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func preview(text string) string {
	p := strings.Join(strings.Fields(text), " ")
	r := []rune(p)
	if len(r) > previewLength {
		return string(r[:previewLength])
	}
	return p
}
