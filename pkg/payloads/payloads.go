// Package payloads provides the built-in payload library and the name
// registry the crawler CLI resolves payloads through.
package payloads

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/praetorian-inc/orgcrawler/pkg/crawler"
)

var (
	mu       sync.RWMutex
	registry = map[string]crawler.PayloadFunc{}
)

// Register makes a payload resolvable by name. Registering a name twice
// panics, surfacing conflicting registrations at startup. Plugin loading
// reports the same conflict as an error instead.
func Register(name string, fn crawler.PayloadFunc) {
	if err := add(name, fn); err != nil {
		panic(err)
	}
}

func add(name string, fn crawler.PayloadFunc) error {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[name]; exists {
		return fmt.Errorf("payload %q registered twice", name)
	}
	registry[name] = fn
	return nil
}

// Get resolves a registered payload by name.
func Get(name string) (crawler.Payload, error) {
	mu.RLock()
	defer mu.RUnlock()
	fn, ok := registry[name]
	if !ok {
		return crawler.Payload{}, fmt.Errorf("unknown payload %q, known payloads: %s", name, strings.Join(names(), ", "))
	}
	return crawler.Payload{Name: name, Call: fn}, nil
}

// Names lists the registered payload names sorted ascending.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	return names()
}

func names() []string {
	all := make([]string, 0, len(registry))
	for name := range registry {
		all = append(all, name)
	}
	sort.Strings(all)
	return all
}

// ParseArgs splits raw CLI payload arguments into positional values and
// key=value named pairs. A value may itself contain "="; only the first
// one splits.
func ParseArgs(raw []string) crawler.Args {
	args := crawler.Args{Named: map[string]string{}}
	for _, value := range raw {
		if key, val, ok := strings.Cut(value, "="); ok && key != "" {
			args.Named[key] = val
			continue
		}
		args.Positional = append(args.Positional, value)
	}
	return args
}
