package adapter

import "sort"

// Config holds the endpoint/credential pair needed to stand up one provider
// adapter. A zero-value Config (empty APIKey) yields an adapter that reports
// itself unavailable rather than failing outright.
type Config struct {
	Endpoint string
	APIKey   string
	ModelID  string
}

// RegistryConfig maps each council member to the provider backing it.
// Any member with a zero-value Config is wired but permanently unavailable;
// the council simply runs with one fewer voice, which spec §4.4 treats as
// expected degraded operation rather than failure.
type RegistryConfig struct {
	Kvasir Config
	Bragi  Config
	Nornes Config
	Saga   Config
	Syn    Config
	Loki   Config
	Tyr    Config
}

// Registry holds one Adapter per council member.
type Registry struct {
	adapters map[Member]Adapter
	order    []Member
}

// councilOrder fixes the canonical member ordering used wherever responses
// must be compared or sorted deterministically (I5: identical inputs yield
// an identical verdict, which requires an identical collation order).
var councilOrder = []Member{
	MemberKvasir, MemberBragi, MemberNornes, MemberSaga, MemberSyn, MemberLoki, MemberTyr,
}

// NewRegistry builds a Registry from configuration, backing each member with
// a Groq-style adapter by default. Gemini-backed members can be substituted
// via WithGemini after construction.
func NewRegistry(cfg RegistryConfig) *Registry {
	r := &Registry{adapters: make(map[Member]Adapter, len(councilOrder))}
	configs := map[Member]Config{
		MemberKvasir: cfg.Kvasir,
		MemberBragi:  cfg.Bragi,
		MemberNornes: cfg.Nornes,
		MemberSaga:   cfg.Saga,
		MemberSyn:    cfg.Syn,
		MemberLoki:   cfg.Loki,
		MemberTyr:    cfg.Tyr,
	}
	for _, m := range councilOrder {
		c := configs[m]
		r.adapters[m] = NewHTTPAdapter(m, c.ModelID, c.Endpoint, c.APIKey, GroqRequestBuilder, GroqResponseExtractor)
		r.order = append(r.order, m)
	}
	return r
}

// WithGemini rebinds a member to a Gemini-backed adapter instead of the
// registry's default Groq-style one.
func (r *Registry) WithGemini(m Member, c Config) {
	r.adapters[m] = NewHTTPAdapter(m, c.ModelID, c.Endpoint, c.APIKey, GeminiRequestBuilder, GeminiResponseExtractor)
}

// Set installs an arbitrary adapter for a member, primarily for tests.
func (r *Registry) Set(m Member, a Adapter) {
	if _, ok := r.adapters[m]; !ok {
		r.order = append(r.order, m)
	}
	r.adapters[m] = a
}

// Get returns the adapter backing a member, if any.
func (r *Registry) Get(m Member) (Adapter, bool) {
	a, ok := r.adapters[m]
	return a, ok
}

// Available returns every adapter that currently reports availability,
// ordered per councilOrder so downstream fan-out and collation stay
// deterministic (I5).
func (r *Registry) Available(isAvailable func(Adapter) bool) []Adapter {
	out := make([]Adapter, 0, len(r.order))
	ordered := append([]Member(nil), r.order...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return memberRank(ordered[i]) < memberRank(ordered[j])
	})
	for _, m := range ordered {
		a := r.adapters[m]
		if a == nil {
			continue
		}
		if isAvailable(a) {
			out = append(out, a)
		}
	}
	return out
}

func memberRank(m Member) int {
	for i, c := range councilOrder {
		if c == m {
			return i
		}
	}
	return len(councilOrder)
}
