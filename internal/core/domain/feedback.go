package domain

import "time"

type Rating string

const (
	RatingUp   Rating = "up"
	RatingDown Rating = "down"
)

// DefaultFeedbackReasons is the reason vocabulary accepted for negative feedback.
var DefaultFeedbackReasons = []string{
	"галлюцинация",
	"не по теме",
	"неполный ответ",
	"устаревшая информация",
	"опасный/вредный контент",
}

type Feedback struct {
	ID        string     `json:"id"`
	TraceID   string     `json:"trace_id,omitempty"`
	Question  string     `json:"question"`
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations,omitempty"`
	Rating    Rating     `json:"rating"`
	Reason    string     `json:"reason,omitempty"`
	Comment   string     `json:"comment,omitempty"`
	ClientIP  string     `json:"-"`
	CreatedAt time.Time  `json:"created_at"`
}

type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

type FeedbackStats struct {
	PeriodDays         int           `json:"period_days"`
	Total              int           `json:"total"`
	Positive           int           `json:"positive"`
	Negative           int           `json:"negative"`
	PositivePercentage float64       `json:"positive_percentage"`
	NegativeReasons    []ReasonCount `json:"negative_reasons"`
	Recent             []Feedback    `json:"recent"`
}
