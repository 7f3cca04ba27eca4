// Package prompt assembles the chat messages sent to the completion endpoint
// for transcript analysis.
package prompt

import (
	"fmt"

	"github.com/MrWong99/medscribe/internal/schema"
)

// systemPromptTemplate is filled with the record skeleton from
// [schema.Describe].
const systemPromptTemplate = `You are a professional medical documentation assistant. Your task is to analyze raw doctor–patient conversation transcripts, even if they include typos, incorrect spelling, speech recognition errors, or informal expressions.

Your goal:
1. Correct spelling and grammar where needed.
2. Interpret the intended meaning of phrases using context.
3. Extract and organize all medically relevant information into a JSON object that follows this schema exactly:

%s

Rules:
- Output JSON only: no markdown, no code fences, no commentary.
- The response must start with { and end with }.
- Use double-quoted keys and double-quoted string values.
- If a scalar value is missing or uncertain, set it to null.
- If a list is unknown, use an empty array []. Arrays must be present even if empty.
- Use concise, formal clinical language (e.g., "shortness of breath" instead of "hard to breathe").
- Do not include explanations or reasoning.`

// userPrefix introduces the cleaned transcript in the user message.
const userPrefix = "Doctor–patient conversation:\n"

// Prompt is a system instruction and user message pair.
type Prompt struct {
	System string
	User   string
}

// Build returns the prompt for a cleaned transcript.
func Build(cleaned string) Prompt {
	return Prompt{
		System: System(),
		User:   userPrefix + cleaned,
	}
}

// System returns the system instruction. It does not depend on the
// transcript.
func System() string {
	return fmt.Sprintf(systemPromptTemplate, schema.Describe())
}
