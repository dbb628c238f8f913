package enrich

import (
	"fmt"
	"strings"
)

const enrichSchemaInstruction = `Respond with exactly one JSON object and nothing else:
{
  "verified_match": boolean,
  "name_en": string,
  "nationality_ko": string,
  "nationality_en": string,
  "mbti": string,
  "blood_type": string,
  "height_cm": number or null,
  "weight_kg": number or null,
  "label_ko": string,
  "fandom_name_ko": string,
  "bio_ko": string,
  "bio_en": string
}
Only include fields that apply to the entity kind given. If verified_match
is false, every other field must be an empty string or null — never guess
at a profile for an entity you cannot confidently identify.`

func buildPrompt(ref EntityRef, reference string, found bool) (system, user string) {
	var sb strings.Builder
	sb.WriteString("You are a K-pop and Korean entertainment profile researcher. ")
	sb.WriteString("Given an entity name and, when available, a reference passage, ")
	sb.WriteString("extract factual profile fields. Never invent facts. ")
	sb.WriteString("If the reference passage or your own knowledge does not clearly ")
	sb.WriteString("identify this exact entity, set verified_match to false.\n\n")
	sb.WriteString(enrichSchemaInstruction)
	system = sb.String()

	var ub strings.Builder
	fmt.Fprintf(&ub, "Entity kind: %s\n", ref.Kind)
	fmt.Fprintf(&ub, "Korean name: %s\n", ref.NameKo)
	if ref.StageName != "" {
		fmt.Fprintf(&ub, "Stage name: %s\n", ref.StageName)
	}
	if ref.NameEn != "" {
		fmt.Fprintf(&ub, "Known English name: %s\n", ref.NameEn)
	}
	if found {
		fmt.Fprintf(&ub, "\nReference passage:\n%s\n", reference)
	} else {
		ub.WriteString("\nNo reference passage was found. Answer from your own knowledge, ")
		ub.WriteString("but set verified_match to false unless you are confident of the match.\n")
	}
	user = ub.String()
	return system, user
}
