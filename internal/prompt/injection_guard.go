// Package prompt screens operator text before it reaches a language model.
package prompt

import (
	"regexp"
	"sort"
)

// InjectionType classifies a suspicious pattern
type InjectionType string

const (
	InjectionTypeSystemPromptLeak    InjectionType = "system_prompt_leak"
	InjectionTypeRoleManipulation    InjectionType = "role_manipulation"
	InjectionTypeInstructionOverride InjectionType = "instruction_override"
	InjectionTypeCodeExecution       InjectionType = "code_execution"
	InjectionTypeJailbreak           InjectionType = "jailbreak"
	InjectionTypeDelimiterAttack     InjectionType = "delimiter_attack"
	InjectionTypeEncodingAttack      InjectionType = "encoding_attack"
)

// BlockingConfidence is the confidence at which text is not sent to a model
const BlockingConfidence = 0.8

// InjectionDetection is one suspicious span of the text
type InjectionDetection struct {
	Type       InjectionType
	Confidence float64
	StartPos   int
	EndPos     int
}

type rule struct {
	kind       InjectionType
	confidence float64
	patterns   []*regexp.Regexp
}

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

var rules = []rule{
	{InjectionTypeSystemPromptLeak, 0.9, compile(
		`(?i)ignore\s+(previous|all|above|prior)\s+(instructions?|prompts?|commands?)`,
		`(?i)(show|reveal|print|repeat)\s+(me\s+)?(your|the)\s+(system|original|initial|hidden)\s+(prompt|instructions?)`,
		`(?i)what\s+(is|are|was|were)\s+(your|the)\s+(system|original|initial)\s+(prompt|instructions?)`,
	)},
	{InjectionTypeRoleManipulation, 0.85, compile(
		`(?i)(you|your)\s+(are|role|identity)\s+(now|is|changed)`,
		`(?i)assume\s+(the\s+)?(role|identity)\s+of`,
		`(?i)pretend\s+(to\s+)?be\s+(a|an)\b`,
		`(?i)act\s+as\s+(if\s+)?(you|you're|you\s+are)\b`,
		`(?i)from\s+now\s+on[,]?\s+(you|your)\s+(are|will)`,
		`(?i)new\s+(instructions?|personality)`,
	)},
	{InjectionTypeInstructionOverride, 0.9, compile(
		`(?i)disregard\s+(all|previous|above|any)\s+(instructions?|rules|commands?)`,
		`(?i)override\s+(all|previous|system)\s+(instructions?|rules|settings?)`,
		`(?i)forget\s+(everything|all\s+previous|what\s+you\s+learned)`,
	)},
	{InjectionTypeCodeExecution, 0.95, compile(
		`(?i)(execute|run)\s+(this|the\s+following)\s+(code|script|sql|query)`,
		`(?i)\b(eval|exec|system)\s*\(`,
		`(?i);\s*(drop|truncate|alter)\s+table\b`,
		`(?i)\bunion\s+select\b`,
	)},
	{InjectionTypeJailbreak, 0.95, compile(
		`(?i)\bDAN\s+mode`,
		`(?i)(developer|unrestricted|god)\s+mode`,
		`(?i)jailbreak`,
		`(?i)without\s+(any|ethical|moral)\s+(restrictions?|limitations?|guidelines?)`,
	)},
	{InjectionTypeDelimiterAttack, 0.8, compile(
		`\[/?(SYSTEM|USER|ASSISTANT)\]`,
		`<\|(system|user|assistant|end)\|>`,
		`###\s*(SYSTEM|USER|ASSISTANT|INSTRUCTION)`,
	)},
	{InjectionTypeEncodingAttack, 0.7, compile(
		`(?i)base64\s*[:\s=]\s*[A-Za-z0-9+/]{20,}={0,2}`,
		`(?:\\x[0-9a-fA-F]{2}){10,}`,
	)},
}

// DetectInjections returns every suspicious span ordered by position
func DetectInjections(text string) []InjectionDetection {
	var out []InjectionDetection
	for _, r := range rules {
		for _, p := range r.patterns {
			for _, m := range p.FindAllStringIndex(text, -1) {
				out = append(out, InjectionDetection{
					Type:       r.kind,
					Confidence: r.confidence,
					StartPos:   m[0],
					EndPos:     m[1],
				})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartPos < out[j].StartPos })
	return out
}

// IsInjectionAttempt reports a detection at or above BlockingConfidence
func IsInjectionAttempt(text string) bool {
	for _, d := range DetectInjections(text) {
		if d.Confidence >= BlockingConfidence {
			return true
		}
	}
	return false
}
