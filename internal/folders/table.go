package folders

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Canonical folder ids
const (
	Inbox   = "inbox"
	Sent    = "sent"
	Drafts  = "drafts"
	Trash   = "trash"
	Spam    = "spam"
	Starred = "starred"
)

var displayNames = map[string]string{
	Inbox:   "Inbox",
	Sent:    "Sent",
	Drafts:  "Drafts",
	Trash:   "Trash",
	Spam:    "Spam",
	Starred: "Starred",
}

// exactNames maps folded provider names to canonical ids
var exactNames = buildExact(map[string][]string{
	Inbox:   {"INBOX", "收件箱"},
	Sent:    {"Sent", "Sent Messages", "Sent Items", "Sent Mail", "已发送", "已发送邮件", "发件箱"},
	Drafts:  {"Drafts", "Draft", "草稿", "草稿箱"},
	Trash:   {"Trash", "Deleted", "Deleted Messages", "Deleted Items", "Bin", "已删除", "已删除邮件", "回收站", "垃圾箱"},
	Spam:    {"Junk", "Spam", "Junk E-mail", "Junk Email", "垃圾邮件"},
	Starred: {"Starred", "Flagged", "星标邮件"},
})

// restLabels maps Gmail system label ids
var restLabels = map[string]string{
	"INBOX":   Inbox,
	"SENT":    Sent,
	"DRAFT":   Drafts,
	"TRASH":   Trash,
	"SPAM":    Spam,
	"STARRED": Starred,
}

// specialUse maps RFC 6154 mailbox attributes
var specialUse = map[string]string{
	`\sent`:    Sent,
	`\drafts`:  Drafts,
	`\trash`:   Trash,
	`\junk`:    Spam,
	`\flagged`: Starred,
}

type keywordRule struct {
	id       string
	keywords []string
}

// fuzzyRules are checked in order; the first hit wins
var fuzzyRules = []keywordRule{
	{id: Drafts, keywords: []string{"draft", "草稿"}},
	{id: Sent, keywords: []string{"sent", "发送", "已发"}},
	{id: Trash, keywords: []string{"trash", "deleted", "删除", "回收"}},
	{id: Spam, keywords: []string{"junk", "spam", "垃圾"}},
	{id: Starred, keywords: []string{"starred", "星标"}},
}

func buildExact(in map[string][]string) map[string]string {
	out := make(map[string]string)
	for id, names := range in {
		for _, n := range names {
			out[fold(n)] = id
		}
	}
	return out
}

// fold normalises width and case so "ＳＥＮＴ" and "sent" compare equal
func fold(s string) string {
	return cases.Fold().String(norm.NFKC.String(strings.TrimSpace(s)))
}

func cleanPrefix(name string) string {
	for _, p := range []string{"[Gmail]/", "[Google Mail]/", "[GoogleMail]/", "INBOX.", "INBOX/"} {
		if len(name) > len(p) && strings.EqualFold(name[:len(p)], p) {
			return name[len(p):]
		}
	}
	return name
}

func leaf(path, delimiter string) string {
	if delimiter == "" {
		return path
	}
	if i := strings.LastIndex(path, delimiter); i >= 0 && i+len(delimiter) < len(path) {
		return path[i+len(delimiter):]
	}
	return path
}

// matchesKeyword treats ASCII keywords as word prefixes and CJK keywords
// as substrings, since CJK names carry no word boundaries.
func matchesKeyword(folded, keyword string) bool {
	if !isASCII(keyword) {
		return strings.Contains(folded, keyword)
	}
	words := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if strings.HasPrefix(w, keyword) {
			return true
		}
	}
	return false
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
