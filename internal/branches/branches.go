// Package branches implements the three epistemic branch handlers: MIMIR
// (validated-provider evidence), VOLVA (moderate-confidence sourced
// evidence), and HUGIN (disinformation-filtered web snippets). Each handler
// owns exactly one write path — spec §4.2's cross-branch contamination rule
// is enforced structurally, by giving each branch its own type with no
// shared mutating method, rather than by a runtime check.
package branches

import (
	"context"
	"fmt"

	"github.com/yggdrasil-ai/yggdrasil/internal/disinfo"
	"github.com/yggdrasil-ai/yggdrasil/internal/domain"
)

// Evidence is what a branch handler returns: either populated evidence, or
// a zero-value Evidence (Sources is nil) when nothing qualified.
type Evidence struct {
	Branch     domain.Branch
	Content    string
	Confidence int
	Sources    []domain.Source
}

// Empty reports whether a handler found no qualifying evidence.
func (e Evidence) Empty() bool { return len(e.Sources) == 0 && e.Content == "" }

// SourceLookup is a caller-supplied collaborator that finds candidate
// sources for a query. Each branch filters and scores what it returns
// differently; the lookup itself stays source-agnostic (arXiv, PubMed, web
// search, or a stub in tests).
type SourceLookup interface {
	Find(ctx context.Context, query string) ([]domain.Source, error)
}

// WebLookup additionally returns the raw content body for a web source, so
// HUGIN can run it through the disinformation filter.
type WebLookup interface {
	FindWeb(ctx context.Context, query string) ([]WebResult, error)
}

// WebResult is one raw web page candidate before disinformation filtering.
type WebResult struct {
	Source  domain.Source
	Content string
}

// MimirHandler resolves evidence only from sources carrying trustScore=100
// in the validated-provider set (spec §4.2). It is the only handler that may
// write MIMIR-branch evidence.
type MimirHandler struct {
	lookup SourceLookup
}

// NewMimirHandler constructs a MimirHandler.
func NewMimirHandler(lookup SourceLookup) *MimirHandler { return &MimirHandler{lookup: lookup} }

// Resolve returns qualifying MIMIR evidence, or an empty Evidence if no
// source meets the validated-provider bar.
func (h *MimirHandler) Resolve(ctx context.Context, query string) (Evidence, error) {
	candidates, err := h.lookup.Find(ctx, query)
	if err != nil {
		return Evidence{}, fmt.Errorf("branches: mimir resolve: %w", err)
	}

	var qualifying []domain.Source
	for _, s := range candidates {
		if s.TrustScore == domain.MinMimirTrustScore && domain.ValidatedProviderSet[s.Type] {
			qualifying = append(qualifying, s)
		}
	}
	if len(qualifying) == 0 {
		return Evidence{Branch: domain.BranchMimir}, nil
	}

	return Evidence{
		Branch:     domain.BranchMimir,
		Content:    summarize(qualifying),
		Confidence: 100,
		Sources:    qualifying,
	}, nil
}

// VolvaHandler resolves moderate-confidence evidence: any source-backed
// result with at least one source, confidence clamped into [50,99].
type VolvaHandler struct {
	lookup SourceLookup
}

// NewVolvaHandler constructs a VolvaHandler.
func NewVolvaHandler(lookup SourceLookup) *VolvaHandler { return &VolvaHandler{lookup: lookup} }

// Resolve returns qualifying VOLVA evidence. Confidence is derived from the
// average trust score of the supporting sources, floored at 50 and capped at
// 99 — VOLVA never claims MIMIR-level (100) certainty.
func (h *VolvaHandler) Resolve(ctx context.Context, query string) (Evidence, error) {
	candidates, err := h.lookup.Find(ctx, query)
	if err != nil {
		return Evidence{}, fmt.Errorf("branches: volva resolve: %w", err)
	}
	if len(candidates) == 0 {
		return Evidence{Branch: domain.BranchVolva}, nil
	}

	confidence := clamp(avgTrustScore(candidates), 50, 99)

	return Evidence{
		Branch:     domain.BranchVolva,
		Content:    summarize(candidates),
		Confidence: confidence,
		Sources:    candidates,
	}, nil
}

// HuginHandler resolves low-confidence web evidence, filtering every
// candidate through the disinformation scorer and capping confidence at 49
// regardless of what the scorer reports (spec §4.2: HUGIN never exceeds the
// HUGIN partition ceiling).
type HuginHandler struct {
	lookup WebLookup
}

// NewHuginHandler constructs a HuginHandler.
func NewHuginHandler(lookup WebLookup) *HuginHandler { return &HuginHandler{lookup: lookup} }

// Resolve fetches web snippets, scores each for disinformation risk, drops
// anything the filter recommends blocking, and returns the rest as HUGIN
// evidence capped at confidence 49.
func (h *HuginHandler) Resolve(ctx context.Context, query string) (Evidence, error) {
	results, err := h.lookup.FindWeb(ctx, query)
	if err != nil {
		return Evidence{}, fmt.Errorf("branches: hugin resolve: %w", err)
	}

	var accepted []domain.Source
	var contents []string
	var minConfidence = 49
	for _, r := range results {
		risk := disinfo.Score(r.Source.URL, r.Content, disinfo.Metadata{})
		if risk.Recommendation == disinfo.RecommendBlock {
			continue
		}
		accepted = append(accepted, r.Source)
		contents = append(contents, r.Content)
		if risk.Confidence < minConfidence {
			minConfidence = risk.Confidence
		}
	}
	if len(accepted) == 0 {
		return Evidence{Branch: domain.BranchHugin}, nil
	}

	confidence := clamp(minConfidence, 0, 49)

	return Evidence{
		Branch:     domain.BranchHugin,
		Content:    joinContents(contents),
		Confidence: confidence,
		Sources:    accepted,
	}, nil
}

func avgTrustScore(sources []domain.Source) int {
	if len(sources) == 0 {
		return 0
	}
	var sum int
	for _, s := range sources {
		sum += s.TrustScore
	}
	return sum / len(sources)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func summarize(sources []domain.Source) string {
	if len(sources) == 0 {
		return ""
	}
	out := sources[0].Title
	if out == "" {
		out = sources[0].Identifier
	}
	return out
}

func joinContents(contents []string) string {
	if len(contents) == 0 {
		return ""
	}
	return contents[0]
}
