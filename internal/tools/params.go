package tools

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/brandon/mailcore/internal/config"
	mailsync "github.com/brandon/mailcore/internal/sync"
)

func stringParam(params map[string]interface{}, name string) string {
	s, _ := params[name].(string)
	return strings.TrimSpace(s)
}

// intParam accepts JSON numbers and numeric strings
func intParam(params map[string]interface{}, name string) (int, error) {
	switch v := params[name].(type) {
	case nil:
		return 0, nil
	case float64:
		return int(v), nil
	case string:
		if v == "" {
			return 0, nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", name, err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("invalid %s", name)
}

func boolParam(params map[string]interface{}, name string, def bool) bool {
	switch v := params[name].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func timeParam(params map[string]interface{}, name string) (time.Time, error) {
	s := stringParam(params, name)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		if t, err = time.Parse("2006-01-02", s); err != nil {
			return time.Time{}, fmt.Errorf("invalid %s format: %w", name, err)
		}
	}
	return t, nil
}

// listParam accepts a JSON array of strings or a comma-separated string
func listParam(params map[string]interface{}, name string) []string {
	var raw []string
	switch v := params[name].(type) {
	case string:
		raw = strings.Split(v, ",")
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	}

	var out []string
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// resolveAccount picks account_name, or the default account when omitted
func resolveAccount(cfg *config.Config, params map[string]interface{}) (mailsync.Account, error) {
	if name := stringParam(params, "account_name"); name != "" {
		acc, err := cfg.GetAccountByName(name)
		if err != nil {
			return mailsync.Account{}, err
		}
		return mailsync.AccountFromConfig(acc), nil
	}
	acc := cfg.GetDefaultAccount()
	if acc == nil {
		return mailsync.Account{}, fmt.Errorf("no accounts configured")
	}
	return mailsync.AccountFromConfig(acc), nil
}

func folderParam(params map[string]interface{}) string {
	if f := stringParam(params, "folder"); f != "" {
		return f
	}
	return "inbox"
}

var accountProperty = map[string]interface{}{
	"type":        "string",
	"description": "Optional: Account name, the default account if omitted",
}

var folderProperty = map[string]interface{}{
	"type":        "string",
	"description": "Optional: Folder id or provider mailbox name (default: inbox)",
}
