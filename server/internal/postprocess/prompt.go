package postprocess

import "fmt"

const systemPrompt = `You are a K-pop news assistant. Translate and summarize the given Korean article. Return ONLY valid JSON — no markdown, no extra text.`

const userPromptTemplate = `Korean title: %s
Korean content (excerpt): %s

JSON format:
{
  "title_en": "English translation of the Korean title",
  "summary_ko": "3-sentence Korean summary of the article",
  "summary_en": "3-sentence English summary of the article",
  "hashtags_en": ["kpop", "tag2", "tag3", "tag4", "tag5"]
}`

func buildUserPrompt(titleKo, contentSnippet string) string {
	return fmt.Sprintf(userPromptTemplate, titleKo, contentSnippet)
}
