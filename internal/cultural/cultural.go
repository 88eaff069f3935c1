// Package cultural supplies theme-specific roast vocabulary and tone.
package cultural

import (
	"math/rand/v2"
	"sort"
	"strings"
	"sync"

	"flatshare/internal/domain"
)

// Category is a topic family a provider can hold vocabulary for.
type Category string

const (
	Academic Category = "academic"
	Family   Category = "family"
	Food     Category = "food"
	Career   Category = "career"
	Social   Category = "social"
)

var Categories = []Category{Academic, Family, Food, Career, Social}

var topicCategories = map[string]Category{
	"education":     Academic,
	"family":        Family,
	"relationships": Family,
	"food":          Food,
	"career":        Career,
	"money":         Career,
	"entertainment": Social,
}

// CategoryForTopic maps an analyzer topic to a category. Topics outside
// the table have none.
func CategoryForTopic(topic string) (Category, bool) {
	c, ok := topicCategories[strings.ToLower(topic)]
	return c, ok
}

// Provider produces roast material for one cultural style.
type Provider interface {
	Name() string
	// Supports reports whether the provider has vocabulary for cat.
	Supports(cat Category) bool
	// Elements returns up to n roast elements for cat. Callers must only
	// pass categories the provider supports.
	Elements(cat Category, profile domain.UserPatternProfile, rng *rand.Rand, n int) []string
	// StyleAdditions is appended to the system framing.
	StyleAdditions() string
}

// Registry resolves a persona's cultural tag to a provider, falling back to
// the default provider.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	def       Provider
}

func NewRegistry(def Provider, others ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider), def: def}
	r.Register(def)
	for _, p := range others {
		r.Register(p)
	}
	return r
}

// DefaultRegistry holds the generic and Indian providers.
func DefaultRegistry() *Registry {
	return NewRegistry(Generic{}, Indian{})
}

func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[normalize(p.Name())] = p
}

func (r *Registry) Default() Provider { return r.def }

// Lookup returns the provider registered under name.
func (r *Registry) Lookup(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[normalize(name)]
	return p, ok
}

// SupportsAll reports whether p has vocabulary for every category, which a
// default provider must.
func SupportsAll(p Provider) bool {
	for _, c := range Categories {
		if !p.Supports(c) {
			return false
		}
	}
	return true
}

// Names lists registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providers))
	for n := range r.providers {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Resolve picks the provider for a persona's cultural tag and a topic. The
// tagged provider is used only when the topic has a category it supports;
// otherwise the default provider is returned. ok is false when the topic has
// no category at all.
func (r *Registry) Resolve(tag, topic string) (p Provider, cat Category, ok bool) {
	cat, ok = CategoryForTopic(topic)
	r.mu.RLock()
	tagged, found := r.providers[normalize(tag)]
	r.mu.RUnlock()
	if found && ok && tagged.Supports(cat) {
		return tagged, cat, true
	}
	return r.def, cat, ok
}

func normalize(name string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), "-style")
}

// pick returns up to n distinct items of list in rng order.
func pick(list []string, rng *rand.Rand, n int) []string {
	if n <= 0 || len(list) == 0 {
		return nil
	}
	if n > len(list) {
		n = len(list)
	}
	out := make([]string, 0, n)
	for _, i := range rng.Perm(len(list))[:n] {
		out = append(out, list[i])
	}
	return out
}
