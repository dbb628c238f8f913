package intelligence

import (
	"fmt"
	"strings"
)

// localizationGuide lists idiomatic K-pop Korean terms and their expected
// English renderings. Small and fixed rather than learned —
// the glossary table is where growth happens.
var localizationGuide = [][2]string{
	{"역주행", "viral comeback"},
	{"대세돌", "trending it-idol"},
	{"컴백", "comeback"},
	{"본진", "main bias"},
	{"입덕", "becoming a fan"},
	{"탈덕", "leaving the fandom"},
	{"덕질", "fan activity"},
	{"자컨", "self-produced content"},
}

const schemaInstruction = `Respond with a single JSON object and no markdown code fence, matching exactly:
{
  "title_ko": string,
  "title_en": string,
  "detected_artists": [
    {
      "name_ko": string,
      "name_en": string,
      "context_hints": [string, ...],
      "mention_count": integer >= 1,
      "is_primary": boolean,
      "entity_type": "ARTIST" | "GROUP" | "EVENT",
      "confidence_score": number in [0,1],
      "is_ambiguous": boolean,
      "ambiguity_reason": string
    }
  ],
  "topic_summary": string,
  "topic_summary_en": string,
  "seo_hashtags": [string, ...],
  "sentiment": "positive" | "negative" | "neutral" | "mixed",
  "relevance_score": number in [0,1],
  "main_category": "music" | "drama" | "film" | "fashion" | "entertainment" | "award" | "other",
  "confidence": number in [0,1]
}
context_hints has at most 10 entries. seo_hashtags strings begin with "#" and number at most 15.`

// tierInstruction returns the tier-specific portion of the system
// prompt.
func tierInstruction(tier Tier) string {
	switch tier {
	case TierFull:
		return "Produce a bilingual title, a bilingual summary, 5 to 10 SEO hashtags, and full entity detection."
	case TierTitleOnly:
		return "Produce a bilingual title, a 3-sentence bilingual summary, 5 to 7 SEO hashtags, and entity detection. Do not elaborate beyond the summary length."
	case TierKoOnly:
		return "Perform entity detection only. Leave title_en and topic_summary_en empty and seo_hashtags empty — do not translate."
	default:
		return ""
	}
}

// buildSystemPrompt assembles the glossary section, localization guide,
// tier instruction, and output schema. The glossary and localization
// guide are omitted for KO_ONLY.
func buildSystemPrompt(tier Tier, glossary []GlossaryTerm) string {
	var b strings.Builder
	b.WriteString("You are a bilingual K-pop news analyst. ")
	b.WriteString(tierInstruction(tier))
	b.WriteString("\n\n")

	if tier != TierKoOnly {
		if len(glossary) > 0 {
			b.WriteString("Glossary (use these canonical English terms when they apply):\n")
			byCategory := make(map[string][]GlossaryTerm)
			for _, t := range glossary {
				byCategory[string(t.Category)] = append(byCategory[string(t.Category)], t)
			}
			for _, cat := range []string{"ARTIST", "AGENCY", "EVENT"} {
				terms := byCategory[cat]
				if len(terms) == 0 {
					continue
				}
				fmt.Fprintf(&b, "[%s]\n", cat)
				for _, t := range terms {
					fmt.Fprintf(&b, "%s -> %s\n", t.TermKo, t.TermEn)
				}
			}
			b.WriteString("\n")
		}

		b.WriteString("Localization guide (idiomatic renderings):\n")
		for _, pair := range localizationGuide {
			fmt.Fprintf(&b, "%s -> %s\n", pair[0], pair[1])
		}
		b.WriteString("\n")
	}

	b.WriteString(schemaInstruction)
	return b.String()
}

func buildUserPrompt(a articleInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", a.TitleKo)
	if a.ArtistNameKo != "" {
		fmt.Fprintf(&b, "Denormalized artist tag: %s\n", a.ArtistNameKo)
	}
	b.WriteString("Body:\n")
	b.WriteString(a.ContentKo)
	return b.String()
}
