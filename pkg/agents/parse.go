package agents

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Fallback values for failed field extraction. Extraction failure is never
// fatal; the caller sees the fallback plus Parsed=false.
const (
	fallbackDiagnosis      = "Unable to extract diagnosis"
	fallbackConfidence     = 0.5
	fallbackRecommendation = "Further medical evaluation recommended"
)

// parsedAnalysis holds the fields extracted from a diagnostic completion
type parsedAnalysis struct {
	Diagnosis       string
	Confidence      float64
	Recommendations string
	Parsed          bool
}

// parseAnalysis extracts structured fields from the model's analysis text.
// The prompt asks for a JSON object, so that is tried first; free text with
// section markers is the tolerant fallback. If neither yields a diagnosis,
// the documented fallback values are returned with Parsed=false.
func parseAnalysis(text string) parsedAnalysis {
	if result := parseJSONAnalysis(text); result.Parsed {
		return result
	}
	return parseMarkerAnalysis(text)
}

// parseJSONAnalysis handles the schema-constrained output shape. Models
// often wrap JSON in code fences or prose, so the object is located rather
// than decoded from position zero.
func parseJSONAnalysis(text string) parsedAnalysis {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return parsedAnalysis{}
	}

	candidate := text[start : end+1]
	if !gjson.Valid(candidate) {
		return parsedAnalysis{}
	}

	diagnosis := gjson.Get(candidate, "diagnosis").String()
	if strings.TrimSpace(diagnosis) == "" {
		return parsedAnalysis{}
	}

	result := parsedAnalysis{
		Diagnosis:  strings.TrimSpace(diagnosis),
		Confidence: fallbackConfidence,
		Parsed:     true,
	}

	if conf := gjson.Get(candidate, "confidence"); conf.Exists() {
		v := conf.Float()
		if v > 1 { // Percentage rather than fraction
			v /= 100
		}
		if v > 0 && v <= 1 {
			result.Confidence = v
		}
	}

	if recs := gjson.Get(candidate, "recommendations"); recs.Exists() {
		if recs.IsArray() {
			var lines []string
			recs.ForEach(func(_, value gjson.Result) bool {
				lines = append(lines, value.String())
				return true
			})
			result.Recommendations = strings.Join(lines, "\n")
		} else {
			result.Recommendations = recs.String()
		}
	}
	if strings.TrimSpace(result.Recommendations) == "" {
		result.Recommendations = fallbackRecommendation
	}

	return result
}

// parseMarkerAnalysis handles free-text output with section markers like
// "PRIMARY DIAGNOSIS:". Advisory parsing, not a protocol.
func parseMarkerAnalysis(text string) parsedAnalysis {
	result := parsedAnalysis{
		Diagnosis:       fallbackDiagnosis,
		Confidence:      fallbackConfidence,
		Recommendations: fallbackRecommendation,
	}

	if diagnosis := extractSectionLine(text, "PRIMARY DIAGNOSIS"); diagnosis != "" {
		result.Diagnosis = diagnosis
		result.Parsed = true
	}

	if conf := extractSectionLine(text, "CONFIDENCE LEVEL"); conf != "" {
		result.Confidence = confidenceFromText(conf)
	}

	if recs := extractSection(text, "RECOMMENDED NEXT STEPS"); recs != "" {
		result.Recommendations = recs
	}

	return result
}

// extractSectionLine returns the first line after "MARKER:" (or "MARKER**:"),
// stripped of list numbering and emphasis
func extractSectionLine(text, marker string) string {
	section := sectionAfterMarker(text, marker)
	if section == "" {
		return ""
	}
	line := section
	if idx := strings.Index(line, "\n"); idx >= 0 {
		line = line[:idx]
	}
	return strings.Trim(strings.TrimSpace(line), "1234567890.*- ")
}

// extractSection returns the text after "MARKER:" up to the next blank line
func extractSection(text, marker string) string {
	section := sectionAfterMarker(text, marker)
	if section == "" {
		return ""
	}
	section = strings.TrimSpace(section)
	if idx := strings.Index(section, "\n\n"); idx >= 0 {
		section = section[:idx]
	}
	return strings.TrimLeft(section, "1234567890.*- ")
}

func sectionAfterMarker(text, marker string) string {
	for _, form := range []string{marker + "**:", marker + ":"} {
		if idx := strings.Index(text, form); idx >= 0 {
			return text[idx+len(form):]
		}
	}
	return ""
}

// confidenceFromText maps a free-text confidence statement to a fraction
func confidenceFromText(text string) float64 {
	text = strings.ToLower(text)
	switch {
	case strings.Contains(text, "90") || strings.Contains(text, "95"):
		return 0.90
	case strings.Contains(text, "high") || strings.Contains(text, "80") || strings.Contains(text, "85"):
		return 0.85
	case strings.Contains(text, "medium") || strings.Contains(text, "70") || strings.Contains(text, "75"):
		return 0.70
	case strings.Contains(text, "low") || strings.Contains(text, "50") || strings.Contains(text, "60"):
		return 0.50
	}
	return 0.70
}
