package usecase

import (
	"math"
	"testing"

	"github.com/kirillkom/localrag/internal/core/domain"
)

func TestClassifyQuestionDecisionTable(t *testing.T) {
	rules := testPipeline(t).Rules
	cases := []struct {
		question string
		want     domain.QuestionType
	}{
		{"есть ли WhatsApp?", domain.QuestionExistence},
		{"Поддерживает ли сервис SSO?", domain.QuestionExistence},
		{"WhatsApp?", domain.QuestionFeatureInquiry},
		{"Интеграция с Slack", domain.QuestionFeatureInquiry},
		{"Как настроить виджет?", domain.QuestionInstruction},
		{"Email поддержки?", domain.QuestionContact},
		{"Сколько стоит тариф Pro?", domain.QuestionPricing},
		{"Шифрование данных", domain.QuestionSecurity},
		{"Расскажи о компании", domain.QuestionGeneral},
	}
	for _, tc := range cases {
		if got := ClassifyQuestion(rules, tc.question); got != tc.want {
			t.Fatalf("%q: expected %s, got %s", tc.question, tc.want, got)
		}
	}
}

func TestClassifyQuestionWithoutRules(t *testing.T) {
	if got := ClassifyQuestion(nil, "есть ли WhatsApp?"); got != domain.QuestionGeneral {
		t.Fatalf("expected general without rules, got %s", got)
	}
}

func TestApplyRulesContactMarkers(t *testing.T) {
	rules := testPipeline(t).Rules
	results := []domain.ScoredResult{
		{ChunkID: "office", Text: "Наш офис находится в Москве.", Score: 1},
		{ChunkID: "support", Text: "Пишите на support@example.com, ответ в течение часа.", Score: 1},
	}

	out := applyRules(rules, "Email поддержки?", domain.QuestionContact, results)

	if out[0].Debug.RuleBoost != 1 {
		t.Fatalf("expected neutral boost for office chunk, got %v", out[0].Debug.RuleBoost)
	}
	if math.Abs(out[1].Score-10.5) > 1e-9 {
		t.Fatalf("expected category x info boost 10.5, got %v", out[1].Score)
	}
	if results[1].Score != 1 {
		t.Fatalf("input slice must not be modified")
	}
}

func TestApplyRulesPhraseBoostWinsOverCategory(t *testing.T) {
	rules := testPipeline(t).Rules
	results := []domain.ScoredResult{{ChunkID: "2fa", Text: "Двухфакторная аутентификация через Authy.", Score: 1}}

	out := applyRules(rules, "Есть ли 2FA?", domain.QuestionExistence, results)

	// topic availability 2.5 times the two_factor phrase boost 3.5
	if math.Abs(out[0].Score-8.75) > 1e-9 {
		t.Fatalf("expected 8.75, got %v", out[0].Score)
	}
}

func TestApplyRulesRoadmapOnlyIsBoosted(t *testing.T) {
	rules := testPipeline(t).Rules
	results := []domain.ScoredResult{{ChunkID: "roadmap", Text: whatsappRoadmap, Score: 1}}

	out := applyRules(rules, "есть ли WhatsApp?", domain.QuestionExistence, results)

	// roadmap_only 1.5 times the existence default 1.5
	if math.Abs(out[0].Score-2.25) > 1e-9 {
		t.Fatalf("expected 2.25 for a lone roadmap chunk, got %v", out[0].Score)
	}
}

func TestApplyRulesSkipsAvailabilityForOtherTypes(t *testing.T) {
	rules := testPipeline(t).Rules
	results := []domain.ScoredResult{{ChunkID: "roadmap", Text: whatsappRoadmap, Score: 1}}

	out := applyRules(rules, "Расскажи о компании", domain.QuestionGeneral, results)
	if out[0].Score != 1 || out[0].Debug.Availability != "" {
		t.Fatalf("expected untouched result for general questions, got %+v", out[0])
	}
}
