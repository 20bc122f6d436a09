package agent

import "strings"

// AssemblePrompt builds the role-aware prompt text handed to an external
// agent process on stdin (spec.md §4.5): fixer prompts require a patch,
// breaker prompts request patches or disclosed findings; the issue text,
// context summary, reproduction plan, and blackboard snapshot are always
// embedded when present.
func AssemblePrompt(actx Context) string {
	var b strings.Builder

	b.WriteString("# Task\n\n")
	switch actx.Role {
	case "fixer":
		b.WriteString("You are a fixer track. Produce a unified-diff patch that resolves the issue below. ")
		b.WriteString("If you cannot produce a patch this iteration, say so explicitly and continue investigating.\n\n")
	case "breaker":
		b.WriteString("You are a breaker track. Either produce a unified-diff patch that demonstrates a defect, ")
		b.WriteString("or disclose a finding describing the defect in detail if no patch is warranted.\n\n")
	case "debugger":
		b.WriteString("You are a debugger track. Investigate the issue and report your hypothesis and findings.\n\n")
	default:
		b.WriteString("You are an experimental track. Investigate freely and report your findings.\n\n")
	}

	if actx.IssueText != "" {
		b.WriteString("## Issue\n\n")
		b.WriteString(actx.IssueText)
		b.WriteString("\n\n")
	}
	if actx.ContextSummary != "" {
		b.WriteString("## Context\n\n")
		b.WriteString(actx.ContextSummary)
		b.WriteString("\n\n")
	}
	if actx.ReproPlan != "" {
		b.WriteString("## Reproduction plan\n\n")
		b.WriteString(actx.ReproPlan)
		b.WriteString("\n\n")
	}
	if actx.Blackboard != "" {
		b.WriteString("## Blackboard\n\n")
		b.WriteString(actx.Blackboard)
		b.WriteString("\n\n")
	}
	if actx.Directives != "" {
		b.WriteString("## Track directives\n\n")
		b.WriteString(actx.Directives)
		b.WriteString("\n\n")
	}

	b.WriteString("## Required output\n\n")
	b.WriteString("Respond with a single JSON object matching the iteration envelope shape: " +
		"hypothesis, experiments, proposed_changes, confidence, status_signal, observations, " +
		"and optionally patch_present. If you include a patch, fence it in a ```diff block.\n")

	return b.String()
}
