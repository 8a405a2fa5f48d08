package services

import "fmt"

// fallbackReply stands in for the model when every single-shot attempt
// failed. The conversation keeps moving instead of erroring out.
const fallbackReply = "I'm sorry, I'm having a little trouble responding right now. Could you say that again?"

const analysisSystemPrompt = `You are a language learning assistant. Analyze the learner's message for two things at once:
1. Moderation: is the message appropriate for a learning conversation?
2. Correction: fix grammar and phrasing without changing meaning.

Respond with a JSON object exactly like:
{"is_appropriate": true, "reason": "", "corrected_text": "...", "grammar_feedback": "..."}

Set "is_appropriate" to false only for clearly inappropriate content and explain briefly in "reason". If the text needs no correction, return it unchanged in "corrected_text" and leave "grammar_feedback" empty.`

const evaluationSystemPrompt = `You are a language tutor grading one answer in a guided conversation. Respond with a JSON object exactly like:
{"score": 0.0, "feedback": "..."}

"score" is between 0 and 1. Keep "feedback" to one or two encouraging sentences.`

const hintSystemPrompt = `You suggest what a language learner could say next in the conversation. Reply with one short suggestion in the language being practiced, no preamble.`

func evaluationUserPrompt(question, answer string) string {
	return fmt.Sprintf("Question: %s\n\nLearner's answer: %s", question, answer)
}
