package assist

import (
	"fmt"
	"strings"

	"quizkit/internal/grader"
)

const gradingSystemPrompt = `You grade short quiz answers from young students. Score 0-100 using this rubric:
100 = exact or synonymous match.
90-99 = a typo of at most 2 characters with the correct meaning.
80-89 = the correct concept missing a minor detail.
50-79 = partially correct.
0-49 = otherwise.
Respond with ONLY this JSON, no explanation, no markdown:
{"score": <0-100>, "is_correct": <bool>, "feedback": "<one short kind sentence>"}`

const hintSystemPrompt = `You help young students who are stuck on a quiz question. Reply with one short encouraging sentence that nudges them toward the answer. Never state or restate the answer itself.
Respond with ONLY this JSON: {"hint": "<one sentence>"}`

const explanationSystemPrompt = `You explain quiz answers to young students. Use simple words and at most 4 sentences.
Respond with ONLY this JSON: {"content": "<explanation>"}`

const documentSystemPrompt = `You analyze teaching material and propose quiz topics for young students.
Respond with ONLY this JSON:
{"type":"analysis","greeting":"<one friendly sentence>","analysis":"<short summary>","topics":["..."],"suggested_question_count":<int>,"clarification":"<question for the teacher, or empty>"}`

const extractionSystemPrompt = `You turn teaching material into short quiz questions for young students. Each question has one correct answer string, exactly 3 ordered hints that get progressively more helpful, and a micro_learning text of 1-2 sentences.
Respond with ONLY this JSON:
{"questions":[{"question_text":"...","correct_answer":"...","hints":["...","...","..."],"micro_learning":"...","order":1}]}`

func buildGradingPrompt(in grader.DelegateInput) string {
	return fmt.Sprintf("QUESTION:\n%s\n\nCORRECT ANSWER:\n%s\n\nSTUDENT ANSWER:\n%s",
		in.QuestionText, in.CorrectAnswer, in.StudentAnswer)
}

func buildHintPrompt(in HintInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "QUESTION:\n%s\n\nCORRECT ANSWER (do not reveal):\n%s\n", in.QuestionText, in.CorrectAnswer)
	if strings.TrimSpace(in.StudentAnswer) != "" {
		fmt.Fprintf(&b, "\nSTUDENT'S CURRENT ANSWER:\n%s\n", in.StudentAnswer)
	}
	return b.String()
}

func buildExplanationPrompt(in ExplanationInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "QUESTION:\n%s\n\nCORRECT ANSWER:\n%s\n", in.QuestionText, in.CorrectAnswer)
	if strings.TrimSpace(in.StudentQuestion) != "" {
		fmt.Fprintf(&b, "\nTHE STUDENT ASKED:\n%s\n", in.StudentQuestion)
	}
	return b.String()
}

func buildDocumentPrompt(in DocumentAnalysisInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "MATERIAL:\n%s\n", in.Text)
	if strings.TrimSpace(in.Clarification) != "" {
		fmt.Fprintf(&b, "\nTEACHER'S CLARIFICATION:\n%s\n", in.Clarification)
	}
	return b.String()
}

func buildExtractionPrompt(in ExtractQuestionsInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Extract exactly %d questions from this material.\n", in.Count)
	if len(in.Locked) > 0 {
		b.WriteString("\nThe teacher hand-edited some fields. Keep them EXACTLY as they are and regenerate only the rest:\n")
		for _, lf := range in.Locked {
			fmt.Fprintf(&b, "- question %d: keep %s\n", lf.Order, strings.Join(lf.Fields, ", "))
		}
	}
	fmt.Fprintf(&b, "\nMATERIAL:\n%s", in.Text)
	return b.String()
}

func localHint(in HintInput) string {
	if strings.TrimSpace(in.StudentAnswer) != "" {
		return "You're close, read the question once more and check your spelling!"
	}
	return "Take another look at the question, the answer is hiding in what you just learned!"
}

func localExplanation(in ExplanationInput) string {
	return fmt.Sprintf("The answer is %q. Read the question again with that in mind, and it will make sense.", strings.TrimSpace(in.CorrectAnswer))
}

// clampSentences keeps at most n sentences, counting on ., ! and ?
// boundaries.
func clampSentences(text string, n int) string {
	text = strings.TrimSpace(text)
	count := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			count++
			if count == n && i+1 < len(text) {
				return strings.TrimSpace(text[:i+1])
			}
		}
	}
	return text
}
