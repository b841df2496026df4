package payloads

import (
	"context"
	"fmt"
	"path/filepath"
	"plugin"
	"sort"
	"strings"

	"github.com/praetorian-inc/orgcrawler/pkg/crawler"
	"github.com/praetorian-inc/orgcrawler/pkg/orgs"
)

// LoadPlugin opens a Go plugin built with -buildmode=plugin and merges
// the payloads it exports into the registry. A plugin exports either
// Payloads, a map of payload names to functions, or a single Payload
// registered under the file name minus extension. The names registered
// from the plugin are returned sorted.
func LoadPlugin(path string) ([]string, error) {
	lib, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening payload plugin %s: %w", path, err)
	}

	if symbol, err := lib.Lookup("Payloads"); err == nil {
		table, ok := symbol.(*map[string]crawler.PayloadFunc)
		if !ok {
			return nil, fmt.Errorf("payload plugin %s exports Payloads with unsupported type %T", path, symbol)
		}
		registered := make([]string, 0, len(*table))
		for name, fn := range *table {
			if err := add(name, fn); err != nil {
				return nil, fmt.Errorf("payload plugin %s: %w", path, err)
			}
			registered = append(registered, name)
		}
		sort.Strings(registered)
		return registered, nil
	}

	symbol, err := lib.Lookup("Payload")
	if err != nil {
		return nil, fmt.Errorf("payload plugin %s exports neither Payloads nor Payload: %w", path, err)
	}

	name := pluginName(path)
	var fn crawler.PayloadFunc
	switch payload := symbol.(type) {
	case *crawler.Payload:
		if payload.Name != "" {
			name = payload.Name
		}
		fn = payload.Call
	case *crawler.PayloadFunc:
		fn = *payload
	case *func(context.Context, string, *orgs.Account, crawler.Args) (any, error):
		fn = *payload
	default:
		return nil, fmt.Errorf("payload plugin %s exports Payload with unsupported type %T", path, symbol)
	}
	if fn == nil {
		return nil, fmt.Errorf("payload plugin %s exports a nil payload", path)
	}
	if err := add(name, fn); err != nil {
		return nil, fmt.Errorf("payload plugin %s: %w", path, err)
	}
	return []string{name}, nil
}

func pluginName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
