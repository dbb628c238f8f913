package intelligence

import "strings"

// scoreCandidate implements the contextual linking weight table. Each contribution applies at most once per field pair; the
// total is capped at 1.0.
func scoreCandidate(d DetectedArtist, a ArtistRef) float64 {
	var score float64

	nameKo := strings.TrimSpace(d.NameKo)
	nameEn := strings.TrimSpace(d.NameEn)

	if nameKo != "" && a.NameKo != "" {
		if nameKo == a.NameKo {
			score += 0.50
		} else if substringEither(nameKo, a.NameKo) {
			score += 0.30
		}
	}

	if nameKo != "" && a.StageNameKo != "" && a.StageNameKo != a.NameKo {
		if nameKo == a.StageNameKo {
			score += 0.50
		} else if substringEither(nameKo, a.StageNameKo) {
			score += 0.25
		}
	}

	if nameEn != "" && a.NameEn != "" {
		if strings.EqualFold(nameEn, a.NameEn) {
			score += 0.20
		} else if substringEitherFold(nameEn, a.NameEn) {
			score += 0.10
		}
	}

	if nameEn != "" && a.StageNameEn != "" && !strings.EqualFold(a.StageNameEn, a.NameEn) {
		if strings.EqualFold(nameEn, a.StageNameEn) {
			score += 0.20
		} else if substringEitherFold(nameEn, a.StageNameEn) {
			score += 0.10
		}
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

func substringEither(a, b string) bool {
	return a != "" && b != "" && (strings.Contains(a, b) || strings.Contains(b, a))
}

func substringEitherFold(a, b string) bool {
	return substringEither(strings.ToLower(a), strings.ToLower(b))
}

// linkEntity finds the best-scoring candidate in registry for d. It
// returns a nil EntityID when no candidate clears MinMatchScore, leaving
// the mapping unlinked.
func linkEntity(d DetectedArtist, registry []ArtistRef) (entityID *int64, score float64) {
	var bestID int64
	var bestScore float64
	found := false

	for _, a := range registry {
		s := scoreCandidate(d, a)
		if s > bestScore {
			bestScore = s
			bestID = a.ID
			found = true
		}
	}

	if !found || bestScore < MinMatchScore {
		return nil, bestScore
	}
	id := bestID
	return &id, bestScore
}

// jaccardDissimilarity returns 1 - |A intersect B| / max(|A|,|B|,1) over
// each string's character set, clamped to [0,1] — the conflict_score
// basis for an unresolved ConflictFlag.
func jaccardDissimilarity(a, b string) float64 {
	setA := charSet(a)
	setB := charSet(b)

	inter := 0
	for r := range setA {
		if setB[r] {
			inter++
		}
	}

	maxLen := len(setA)
	if len(setB) > maxLen {
		maxLen = len(setB)
	}
	if maxLen == 0 {
		maxLen = 1
	}

	score := 1 - float64(inter)/float64(maxLen)
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func charSet(s string) map[rune]bool {
	set := make(map[rune]bool, len(s))
	for _, r := range s {
		set[r] = true
	}
	return set
}
