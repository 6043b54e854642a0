package retrieval

import "sort"

// sortHits sorts hits by RRF score with tiebreakers.
// Order: RRF score desc -> present in both -> lower lexical rank -> lower vector rank.
// Equal scores between a lexical-only and a vector-only hit therefore resolve
// in favor of the lexical list, keeping fusion deterministic and order-stable.
func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]

		// Primary: RRF score descending
		aScore := float64(0)
		bScore := float64(0)
		if a.RrfScore != nil {
			aScore = *a.RrfScore
		}
		if b.RrfScore != nil {
			bScore = *b.RrfScore
		}
		if aScore != bScore {
			return aScore > bScore
		}

		// Tiebreaker 1: Prefer results present in both sources
		aHasBoth := a.VectorRank != nil && a.LexicalRank != nil
		bHasBoth := b.VectorRank != nil && b.LexicalRank != nil
		if aHasBoth && !bHasBoth {
			return true
		}
		if !aHasBoth && bHasBoth {
			return false
		}

		// Tiebreaker 2: Lower lexical rank is better
		aLex := maxInt
		bLex := maxInt
		if a.LexicalRank != nil {
			aLex = *a.LexicalRank
		}
		if b.LexicalRank != nil {
			bLex = *b.LexicalRank
		}
		if aLex != bLex {
			return aLex < bLex
		}

		// Tiebreaker 3: Lower vector rank is better
		aVec := maxInt
		bVec := maxInt
		if a.VectorRank != nil {
			aVec = *a.VectorRank
		}
		if b.VectorRank != nil {
			bVec = *b.VectorRank
		}
		if aVec != bVec {
			return aVec < bVec
		}

		// Final tiebreaker: document ID for stability
		return a.ID < b.ID
	})
}

const maxInt = 1<<31 - 1
