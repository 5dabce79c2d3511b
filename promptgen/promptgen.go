// Package promptgen builds the Worker and Auditor prompts the engine sends
// to each executor invocation: XML-tag-structured context injection (the
// task instruction, the auditor's feedback from a prior iteration, and the
// surrounding context the result extractor captured) with a hard
// character-count cap.
package promptgen

import (
	"strconv"
	"strings"

	"github.com/justapithecus/oneshot/task"
)

// truncationMarker is appended when a prompt exceeds MaxLength.
const truncationMarker = "... [TRUNCATED]"

// DefaultMaxLength is the default character cap on a generated prompt.
const DefaultMaxLength = 100_000

// DefaultWorkerHeader is the worker system prompt used on a task's first
// iteration.
const DefaultWorkerHeader = workerSystemPrompt

// DefaultReworkerHeader is the worker system prompt used on reiterations.
const DefaultReworkerHeader = workerSystemPrompt

// DefaultAuditorHeader is the auditor system prompt.
const DefaultAuditorHeader = auditorSystemPrompt

const workerSystemPrompt = `IMPORTANT: Provide your final answer in valid JSON format when possible. Include completion indicators like "DONE", "success", or "status" even in non-JSON responses.

PREFERRED FORMAT (valid JSON):
{
  "status": "DONE",
  "result": "<your answer/output here>",
  "confidence": "<high/medium/low>",
  "validation": "<how you verified this answer - sources, output shown, reasoning explained>",
  "execution_proof": "<what you actually did - optional if no external tools were used>"
}

ALTERNATIVE: If JSON is difficult, include clear completion indicators:
- Words like "DONE", "success", "completed", "finished"
- Status/result fields even in malformed JSON
- Clear indication that the task is complete

IMPORTANT GUIDANCE:
- "result" should be your final answer
- "validation" should describe HOW you got it (tools used, sources checked, actual output if execution)
- "execution_proof" is optional - only include if you used external tools, commands, or computations
- For knowledge-based answers: brief validation is sufficient
- For coding tasks: describe the changes made
- Be honest and specific - don't make up results
- Set "status" to "DONE" or use completion words when you believe the task is completed`

const auditorSystemPrompt = `You are a Success Auditor. Evaluate the worker's response with TRUST by default, accepting both valid JSON and responses with clear completion indicators.

The original task and project context should guide your evaluation of what "DONE" means. Be lenient and trust the worker's judgment unless there are clear, serious issues.

ACCEPT responses that show clear completion intent:
- Valid JSON with "status": "DONE" or similar
- Malformed JSON with completion words like "success", "completed", "finished"
- Plain text with clear completion indicators
- Any response that reasonably addresses the task

Only reject if there are REAL, significant issues:
1. Does the response show clear completion intent? (reject only if completely unclear)
2. Does the result seem reasonable for the task? (reject only if completely implausible)
3. Is there any indication of task completion? (reject only if entirely missing)

Your verdict must be one of:
- "DONE": The task has been completed successfully.
- "RETRY": The task is incomplete. Ask the worker to try again.
- "IMPOSSIBLE": The task cannot be completed (missing resources, permissions denied, etc.).

Respond with ONLY your verdict and a brief explanation.`

// Generator builds Worker and Auditor prompts, applying a shared length
// cap across both.
type Generator struct {
	// MaxLength is the character cap applied to every generated prompt.
	// Zero means DefaultMaxLength.
	MaxLength int
	// WorkerHeader is the system prompt used on a task's first iteration.
	WorkerHeader string
	// ReworkerHeader is the system prompt used on reiterations.
	ReworkerHeader string
	// AuditorHeader is the auditor's system prompt.
	AuditorHeader string
}

// NewGenerator builds a Generator with the default headers and length cap.
func NewGenerator() *Generator {
	return &Generator{
		MaxLength:      DefaultMaxLength,
		WorkerHeader:   DefaultWorkerHeader,
		ReworkerHeader: DefaultReworkerHeader,
		AuditorHeader:  DefaultAuditorHeader,
	}
}

func (g *Generator) maxLength() int {
	if g.MaxLength > 0 {
		return g.MaxLength
	}
	return DefaultMaxLength
}

// WorkerPrompt builds the prompt sent to the Worker executor for one
// iteration. iteration is 1-based. auditorFeedback is the prior
// iteration's extracted auditor result; empty on the first iteration.
func (g *Generator) WorkerPrompt(oneshotID string, iteration int, instruction, auditorFeedback string) string {
	var b strings.Builder
	b.WriteString("<oneshot>")
	b.WriteString(oneshotID)
	b.WriteString(" worker #")
	b.WriteString(strconv.Itoa(iteration))
	b.WriteString("</oneshot>\n\n")

	if auditorFeedback != "" {
		b.WriteString("<auditor-feedback>\n")
		b.WriteString(auditorFeedback)
		b.WriteString("\n</auditor-feedback>\n\n")

		b.WriteString("<instruction>\n")
		b.WriteString(instruction)
		b.WriteString("\n</instruction>\n\n")

		header := g.ReworkerHeader
		if header == "" {
			header = DefaultReworkerHeader
		}
		b.WriteString(header)
	} else {
		header := g.WorkerHeader
		if header == "" {
			header = DefaultWorkerHeader
		}
		b.WriteString(header)
		b.WriteString("\n\n<instruction>\n")
		b.WriteString(instruction)
		b.WriteString("\n</instruction>")
	}

	return truncateToLimit(b.String(), g.maxLength())
}

// AuditorPrompt builds the prompt sent to the Auditor executor: the
// original instruction plus the Worker's extracted result, wrapped with
// its leading/trailing context.
func (g *Generator) AuditorPrompt(oneshotID string, iteration int, instruction string, result task.ResultSummary) string {
	var b strings.Builder
	b.WriteString("<oneshot>")
	b.WriteString(oneshotID)
	b.WriteString(" audit #")
	b.WriteString(strconv.Itoa(iteration))
	b.WriteString("</oneshot>\n\n")

	b.WriteString("<what-was-requested>\n")
	b.WriteString(instruction)
	b.WriteString("\n</what-was-requested>\n\n")

	b.WriteString("<worker-result>\n")
	if len(result.LeadingContext) > 0 {
		b.WriteString(" <leading-context>\n")
		b.WriteString(strings.Join(result.LeadingContext, "\n"))
		b.WriteString("\n </leading-context>\n")
	}
	b.WriteString(result.Result)
	if len(result.TrailingContext) > 0 {
		b.WriteString("\n <trailing-context>\n")
		b.WriteString(strings.Join(result.TrailingContext, "\n"))
		b.WriteString("\n </trailing-context>")
	}
	b.WriteString("\n</worker-result>\n\n")

	header := g.AuditorHeader
	if header == "" {
		header = DefaultAuditorHeader
	}
	b.WriteString(header)

	return truncateToLimit(b.String(), g.maxLength())
}

// truncateToLimit applies simple character truncation with an explicit
// marker.
func truncateToLimit(prompt string, maxLength int) string {
	if len(prompt) <= maxLength {
		return prompt
	}
	return prompt[:maxLength] + truncationMarker
}
