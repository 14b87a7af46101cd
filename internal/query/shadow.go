package query

import "context"

// negationMarkers are appended to the query text to bias retrieval
// toward entries phrased as refutations, per spec §4.7.
var negationMarkers = []string{"not", "false", "incorrect", "contradicts", "disproves"}

// ShadowQuery runs the same planner but biased toward entries that
// refute claim, returning a credibility score and the contradicting
// entries found. It is read-only: no storage of its own, a thin
// composition over Query.
func (p *Planner) ShadowQuery(ctx context.Context, claim string, opts Options) (*ShadowResult, error) {
	rewritten := rewriteForRefutation(claim)

	results, err := p.Query(ctx, rewritten, opts)
	if err != nil {
		return nil, err
	}

	credibility := 1.0
	if len(results) > 0 {
		top := results[0].Score
		if top < 0 {
			top = 0
		}
		if top > 1 {
			top = 1
		}
		credibility = 1 - top
	}

	return &ShadowResult{Credibility: credibility, Contradicting: results}, nil
}

func rewriteForRefutation(claim string) string {
	out := claim
	for _, marker := range negationMarkers {
		out += " " + marker
	}
	return out
}
