package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

type QuestionType string

const (
	QuestionExistence      QuestionType = "existence"
	QuestionFeatureInquiry QuestionType = "feature_inquiry"
	QuestionInstruction    QuestionType = "instruction"
	QuestionContact        QuestionType = "contact"
	QuestionPricing        QuestionType = "pricing"
	QuestionSecurity       QuestionType = "security"
	QuestionGeneral        QuestionType = "general"
)

// RerankRules is the data behind the rule-based rerank layer.
// Every vocabulary is matched as a lower-case substring; question patterns are regular expressions.
type RerankRules struct {
	QuestionTypes   []QuestionRule                 `yaml:"question_types"`
	Topics          []TopicRule                    `yaml:"topics"`
	ExistingMarkers []string                       `yaml:"existing_markers"`
	RoadmapMarkers  []string                       `yaml:"roadmap_markers"`
	Availability    AvailabilityBoosts             `yaml:"availability"`
	PhraseBoosts    []PhraseBoost                  `yaml:"phrase_boosts"`
	Categories      map[QuestionType]CategoryBoost `yaml:"categories"`
	InfoBoosts      map[QuestionType]InfoBoost     `yaml:"info_boosts"`
}

// QuestionRule maps a set of patterns to a question type. Rules are evaluated in order; first match wins.
type QuestionRule struct {
	Type     QuestionType `yaml:"type"`
	Patterns []string     `yaml:"patterns"`

	compiled []*regexp.Regexp
}

// TopicRule names a capability and the keywords that identify it in both a question and a chunk.
type TopicRule struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

type AvailabilityBoosts struct {
	AppliesTo         []QuestionType `yaml:"applies_to"`
	TopicExisting     float64        `yaml:"topic_existing"`
	Existing          float64        `yaml:"existing"`
	RoadmapSuppressed float64        `yaml:"roadmap_suppressed"`
	RoadmapOnly       float64        `yaml:"roadmap_only"`
}

// PhraseBoost fires when the question contains any of Question and the chunk any of Chunk.
type PhraseBoost struct {
	Name     string   `yaml:"name"`
	Question []string `yaml:"question"`
	Chunk    []string `yaml:"chunk"`
	Boost    float64  `yaml:"boost"`
}

// CategoryBoost applies Boost when a chunk contains one of Markers.
// A category without markers applies Boost unconditionally.
type CategoryBoost struct {
	Markers []string `yaml:"markers"`
	Boost   float64  `yaml:"boost"`
}

type InfoBoost struct {
	Markers []string `yaml:"markers"`
	Factor  float64  `yaml:"factor"`
}

// Compile prepares the question patterns and normalizes vocabularies to lower case.
func (r *RerankRules) Compile() error {
	var problems []error
	for i := range r.QuestionTypes {
		rule := &r.QuestionTypes[i]
		if rule.Type == "" {
			problems = append(problems, fmt.Errorf("question_types[%d]: type is required", i))
			continue
		}
		rule.compiled = rule.compiled[:0]
		for _, pattern := range rule.Patterns {
			re, err := regexp.Compile(pattern)
			if err != nil {
				problems = append(problems, fmt.Errorf("question_types[%d] %s: %w", i, rule.Type, err))
				continue
			}
			rule.compiled = append(rule.compiled, re)
		}
	}
	for i := range r.Topics {
		lowerAll(r.Topics[i].Keywords)
	}
	lowerAll(r.ExistingMarkers)
	lowerAll(r.RoadmapMarkers)
	for i := range r.PhraseBoosts {
		lowerAll(r.PhraseBoosts[i].Question)
		lowerAll(r.PhraseBoosts[i].Chunk)
		if r.PhraseBoosts[i].Boost <= 0 {
			problems = append(problems, fmt.Errorf("phrase_boosts[%d]: boost must be positive", i))
		}
	}
	for qt, c := range r.Categories {
		lowerAll(c.Markers)
		if c.Boost <= 0 {
			problems = append(problems, fmt.Errorf("categories.%s: boost must be positive", qt))
		}
	}
	for qt, b := range r.InfoBoosts {
		lowerAll(b.Markers)
		if b.Factor <= 0 {
			problems = append(problems, fmt.Errorf("info_boosts.%s: factor must be positive", qt))
		}
	}
	a := r.Availability
	if a.TopicExisting < 0 || a.Existing < 0 || a.RoadmapSuppressed < 0 || a.RoadmapOnly < 0 {
		problems = append(problems, errors.New("availability: factors must not be negative"))
	}
	if len(problems) > 0 {
		return WrapError(ErrConfiguration, "compile rerank rules", errors.Join(problems...))
	}
	return nil
}

// Matches reports whether any pattern of the rule matches the lower-cased question.
func (q QuestionRule) Matches(question string) bool {
	for _, re := range q.compiled {
		if re.MatchString(question) {
			return true
		}
	}
	return false
}

// ContainsAny reports whether text contains any of the markers.
func ContainsAny(text string, markers []string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(text, m) {
			return true
		}
	}
	return false
}

func lowerAll(values []string) {
	for i, v := range values {
		values[i] = strings.ToLower(v)
	}
}
