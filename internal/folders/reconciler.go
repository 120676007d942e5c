// Package folders maps provider folder and label names onto the canonical
// folder model.
package folders

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"unicode"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailcore/pkg/types"
)

// Kind selects provider-specific naming rules
type Kind int

const (
	// Session folders come from an IMAP LIST
	Session Kind = iota
	// REST folders are Gmail labels; Path holds the label id
	REST
)

// ProviderFolder is one folder as reported by a provider
type ProviderFolder struct {
	Name          string
	Path          string
	Delimiter     string
	Attributes    []string
	MessageTotal  int
	MessageUnread int
}

type tier int

const (
	tierExact tier = iota
	tierAttribute
	tierFuzzy
	tierNone
)

func (t tier) String() string {
	return [...]string{"exact", "attribute", "fuzzy", "none"}[t]
}

// Reconciler merges provider folder lists into the canonical folder set
type Reconciler struct {
	logger *logrus.Logger
}

// NewReconciler creates a reconciler
func NewReconciler(logger *logrus.Logger) *Reconciler {
	return &Reconciler{logger: logger}
}

// Defaults returns the canonical folders every account starts with
func Defaults() []types.FolderRecord {
	ids := []string{Inbox, Sent, Drafts, Trash, Starred}
	out := make([]types.FolderRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, canonicalRecord(id))
	}
	return out
}

func canonicalRecord(id string) types.FolderRecord {
	return types.FolderRecord{ID: id, DisplayName: displayNames[id], IsSystem: true}
}

// Resolve maps a provider-native name to a canonical id
func (r *Reconciler) Resolve(name string, kind Kind) (string, bool) {
	id, t := match(ProviderFolder{Name: name, Path: name}, kind)
	return id, t != tierNone
}

// LabelFolder maps a Gmail system label id to its canonical id
func LabelFolder(id string) (string, bool) {
	c, ok := restLabels[id]
	return c, ok
}

// CanonicalLabel returns the Gmail system label id for a canonical folder
func CanonicalLabel(folderID string) (string, bool) {
	for label, id := range restLabels {
		if id == folderID {
			return label, true
		}
	}
	return "", false
}

// Reconcile returns existing updated with provider. Records are never
// removed. Canonical matches update the canonical record in place; the rest
// become custom folders keyed by provider path. Running it twice with the
// same input yields the same result.
func (r *Reconciler) Reconcile(existing []types.FolderRecord, provider []ProviderFolder, kind Kind) []types.FolderRecord {
	out := make([]types.FolderRecord, len(existing))
	copy(out, existing)

	byID := make(map[string]int, len(out))
	for i, f := range out {
		byID[f.ID] = i
	}

	type candidate struct {
		folder    ProviderFolder
		canonical string
		tier      tier
	}
	cands := make([]candidate, 0, len(provider))
	for _, pf := range provider {
		id, t := match(pf, kind)
		cands = append(cands, candidate{folder: pf, canonical: id, tier: t})
	}
	// stronger matches claim canonical folders first
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].tier < cands[j].tier })

	claimed := make(map[string]bool)
	var added int
	for _, c := range cands {
		if c.tier != tierNone && !claimed[c.canonical] {
			claimed[c.canonical] = true
			idx, ok := byID[c.canonical]
			if !ok {
				out = append(out, canonicalRecord(c.canonical))
				idx = len(out) - 1
				byID[c.canonical] = idx
			}
			applyProvider(&out[idx], c.folder)
			r.logger.WithFields(logrus.Fields{
				"path":      c.folder.Path,
				"canonical": c.canonical,
				"match":     c.tier.String(),
			}).Debug("Mapped provider folder")
			continue
		}

		if idx := customIndex(out, c.folder.Path); idx >= 0 {
			applyProvider(&out[idx], c.folder)
			continue
		}

		rec := types.FolderRecord{
			ID:          customID(c.folder.Path, byID),
			DisplayName: displayName(c.folder),
		}
		applyProvider(&rec, c.folder)
		out = append(out, rec)
		byID[rec.ID] = len(out) - 1
		added++
	}

	if added > 0 {
		r.logger.WithField("added", added).Info("Added custom folders")
	}
	return out
}

func applyProvider(rec *types.FolderRecord, pf ProviderFolder) {
	rec.ProviderPath = pf.Path
	rec.Delimiter = pf.Delimiter
	rec.MessageTotal = pf.MessageTotal
	rec.MessageUnread = pf.MessageUnread
}

func customIndex(records []types.FolderRecord, path string) int {
	for i, f := range records {
		if !f.IsSystem && f.ProviderPath == path {
			return i
		}
	}
	return -1
}

// customID derives a stable id from the provider path, suffixing a hash
// of the path when the sanitized form collides with another record.
func customID(path string, taken map[string]int) string {
	id := "server_" + sanitize(path)
	if _, exists := taken[id]; !exists {
		return id
	}
	h := fnv.New32a()
	h.Write([]byte(path)) //nolint:errcheck
	return fmt.Sprintf("%s_%08x", id, h.Sum32())
}

func sanitize(path string) string {
	return strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return r
		}
		if r >= unicode.MaxASCII && unicode.IsLetter(r) {
			return r
		}
		return '_'
	}, path)
}

func displayName(pf ProviderFolder) string {
	name := pf.Name
	if name == "" {
		name = pf.Path
	}
	return cleanPrefix(name)
}

func match(pf ProviderFolder, kind Kind) (string, tier) {
	if kind == REST {
		if id, ok := restLabels[pf.Path]; ok {
			return id, tierExact
		}
	}

	for _, candidate := range []string{pf.Name, pf.Path, cleanPrefix(pf.Path)} {
		if candidate == "" {
			continue
		}
		if id, ok := exactNames[fold(candidate)]; ok {
			return id, tierExact
		}
	}

	for _, attr := range pf.Attributes {
		if id, ok := specialUse[strings.ToLower(attr)]; ok {
			return id, tierAttribute
		}
	}

	names := []string{fold(cleanPrefix(leaf(pf.Path, pf.Delimiter)))}
	if pf.Name != "" {
		names = append(names, fold(cleanPrefix(pf.Name)))
	}
	for _, rule := range fuzzyRules {
		for _, kw := range rule.keywords {
			for _, n := range names {
				if matchesKeyword(n, kw) {
					return rule.id, tierFuzzy
				}
			}
		}
	}
	return "", tierNone
}
