package usecase

import (
	"strings"

	"github.com/kirillkom/localrag/internal/core/domain"
)

// ClassifyQuestion walks the question-type decision table in order and returns the first match.
func ClassifyQuestion(rules *domain.RerankRules, question string) domain.QuestionType {
	if rules == nil {
		return domain.QuestionGeneral
	}
	q := strings.ToLower(strings.TrimSpace(question))
	for _, rule := range rules.QuestionTypes {
		if rule.Matches(q) {
			return rule.Type
		}
	}
	return domain.QuestionGeneral
}

type availability int

const (
	availabilityNone availability = iota
	availabilityExisting
	availabilityTopicExisting
	availabilityRoadmap
)

func (a availability) String() string {
	switch a {
	case availabilityExisting:
		return "existing"
	case availabilityTopicExisting:
		return "topic_existing"
	case availabilityRoadmap:
		return "roadmap"
	default:
		return ""
	}
}

// applyRules multiplies every score by the boosts the rules grant for the question type.
// Scores must be non-negative for the boosts to keep their meaning.
func applyRules(rules *domain.RerankRules, question string, qtype domain.QuestionType, results []domain.ScoredResult) []domain.ScoredResult {
	if rules == nil || len(results) == 0 {
		return results
	}
	q := strings.ToLower(question)
	topics := askedTopics(rules, q)

	texts := make([]string, len(results))
	states := make([]availability, len(results))
	anyExisting := false
	for i, res := range results {
		texts[i] = strings.ToLower(res.Text)
		states[i] = classifyAvailability(rules, topics, texts[i])
		if states[i] == availabilityExisting || states[i] == availabilityTopicExisting {
			anyExisting = true
		}
	}

	checkAvailability := appliesTo(rules.Availability.AppliesTo, qtype)
	out := make([]domain.ScoredResult, len(results))
	for i, res := range results {
		boost := 1.0
		if checkAvailability {
			boost *= availabilityFactor(rules.Availability, states[i], anyExisting)
			res.Debug.Availability = states[i].String()
		}
		boost *= categoryBoost(rules, q, qtype, texts[i])
		if info, ok := rules.InfoBoosts[qtype]; ok && domain.ContainsAny(texts[i], info.Markers) {
			boost *= info.Factor
		}

		res.Score *= boost
		res.Debug.RuleBoost = boost
		out[i] = res
	}
	return out
}

func askedTopics(rules *domain.RerankRules, question string) []domain.TopicRule {
	var out []domain.TopicRule
	for _, topic := range rules.Topics {
		if domain.ContainsAny(question, topic.Keywords) {
			out = append(out, topic)
		}
	}
	return out
}

func classifyAvailability(rules *domain.RerankRules, topics []domain.TopicRule, text string) availability {
	if domain.ContainsAny(text, rules.RoadmapMarkers) {
		return availabilityRoadmap
	}
	for _, topic := range topics {
		if domain.ContainsAny(text, topic.Keywords) {
			return availabilityTopicExisting
		}
	}
	if domain.ContainsAny(text, rules.ExistingMarkers) {
		return availabilityExisting
	}
	return availabilityNone
}

// availabilityFactor ranks a live capability above a roadmap mention of it.
func availabilityFactor(boosts domain.AvailabilityBoosts, state availability, anyExisting bool) float64 {
	switch state {
	case availabilityTopicExisting:
		return boosts.TopicExisting
	case availabilityExisting:
		return boosts.Existing
	case availabilityRoadmap:
		if anyExisting {
			return boosts.RoadmapSuppressed
		}
		return boosts.RoadmapOnly
	default:
		return 1
	}
}

// categoryBoost prefers exact-phrase rules, then the question type's marker set, then its default.
func categoryBoost(rules *domain.RerankRules, question string, qtype domain.QuestionType, text string) float64 {
	for _, phrase := range rules.PhraseBoosts {
		if domain.ContainsAny(question, phrase.Question) && domain.ContainsAny(text, phrase.Chunk) {
			return phrase.Boost
		}
	}
	category, ok := rules.Categories[qtype]
	if !ok {
		return 1
	}
	if len(category.Markers) == 0 || domain.ContainsAny(text, category.Markers) {
		return category.Boost
	}
	return 1
}

func appliesTo(types []domain.QuestionType, qtype domain.QuestionType) bool {
	for _, t := range types {
		if t == qtype {
			return true
		}
	}
	return false
}
