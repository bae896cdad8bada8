package models

import "time"

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type Case struct {
	CaseNumber      string          `json:"caseNumber" bson:"caseNumber"`
	Subject         string          `json:"subject" bson:"subject"`
	Description     string          `json:"description" bson:"description"`
	Product         string          `json:"product" bson:"product"`
	Priority        string          `json:"priority" bson:"priority"`
	Status          string          `json:"status" bson:"status"`
	AccountName     string          `json:"accountName,omitempty" bson:"accountName,omitempty"`
	CreatedAt       *time.Time      `json:"createdAt,omitempty" bson:"createdAt,omitempty"`
	ClosedAt        *time.Time      `json:"closedAt,omitempty" bson:"closedAt,omitempty"`
	Messages        []Message       `json:"messages" bson:"messages"`
	OpenTags        []string        `json:"openTags" bson:"openTags"`
	CloseTags       []string        `json:"closeTags" bson:"closeTags"`
	ResolutionNotes string          `json:"resolutionNotes" bson:"resolutionNotes"`
	Escalation      *Escalation     `json:"escalation,omitempty" bson:"escalation,omitempty"`
	JiraKeys        []string        `json:"jiraKeys" bson:"jiraKeys"`
	KBArticles      []string        `json:"kbArticles" bson:"kbArticles"`
	TimelineEvents  []TimelineEvent `json:"timelineEvents,omitempty" bson:"timelineEvents,omitempty"`
	ResponseMetrics ResponseMetrics `json:"responseMetrics" bson:"responseMetrics"`
}

func (c *Case) IsClosed() bool {
	return c.ClosedAt != nil || c.Status == "Closed" || c.Status == "closed"
}

type Message struct {
	Direction Direction `json:"direction" bson:"direction"`
	Author    string    `json:"author" bson:"author"`
	Channel   string    `json:"channel" bson:"channel"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
	Content   string    `json:"content" bson:"content"`
	IsHTML    bool      `json:"isHtml,omitempty" bson:"isHtml,omitempty"`
}

type Escalation struct {
	Escalated   bool       `json:"escalated" bson:"escalated"`
	Level       string     `json:"level,omitempty" bson:"level,omitempty"`
	Reason      string     `json:"reason,omitempty" bson:"reason,omitempty"`
	EscalatedAt *time.Time `json:"escalatedAt,omitempty" bson:"escalatedAt,omitempty"`
}

type TimelineEvent struct {
	Type        string    `json:"type" bson:"type"`
	Description string    `json:"description" bson:"description"`
	Timestamp   time.Time `json:"timestamp" bson:"timestamp"`
}

type ResponseMetrics struct {
	AverageHours         float64 `json:"averageHours" bson:"averageHours"`
	MedianHours          float64 `json:"medianHours" bson:"medianHours"`
	MinHours             float64 `json:"minHours" bson:"minHours"`
	MaxHours             float64 `json:"maxHours" bson:"maxHours"`
	ResponseCount        int     `json:"responseCount" bson:"responseCount"`
	CustomerMessageCount int     `json:"customerMessageCount" bson:"customerMessageCount"`
	SupportMessageCount  int     `json:"supportMessageCount" bson:"supportMessageCount"`
}

// CaseAnalysis is the single persisted result record for a case number.
type CaseAnalysis struct {
	CaseNumber      string            `json:"caseNumber" bson:"caseNumber"`
	Subject         string            `json:"subject,omitempty" bson:"subject,omitempty"`
	Product         string            `json:"product,omitempty" bson:"product,omitempty"`
	AnalyzedAt      time.Time         `json:"analyzedAt" bson:"analyzedAt"`
	Model           string            `json:"model,omitempty" bson:"model,omitempty"`
	Issue           *IssueAnalysis    `json:"issue,omitempty" bson:"issue,omitempty"`
	Bucket          *BucketVerdict    `json:"bucket,omitempty" bson:"bucket,omitempty"`
	Tags            *TagValidation    `json:"tags,omitempty" bson:"tags,omitempty"`
	KB              *RelevanceVerdict `json:"kb,omitempty" bson:"kb,omitempty"`
	JIRA            *RelevanceVerdict `json:"jira,omitempty" bson:"jira,omitempty"`
	ResponseMetrics *ResponseMetrics  `json:"responseMetrics,omitempty" bson:"responseMetrics,omitempty"`
	Usage           TokenUsage        `json:"usage" bson:"usage"`
	Warnings        []string          `json:"warnings,omitempty" bson:"warnings,omitempty"`
	Errors          map[string]string `json:"errors,omitempty" bson:"errors,omitempty"`
	Actions         []string          `json:"actions,omitempty" bson:"actions,omitempty"`
}

type TokenUsage struct {
	PromptTokens     int `json:"promptTokens" bson:"promptTokens"`
	CompletionTokens int `json:"completionTokens" bson:"completionTokens"`
	TotalTokens      int `json:"totalTokens" bson:"totalTokens"`
}

func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

type IssueAnalysis struct {
	IssueSummary  IssueSummary       `json:"issue_summary" bson:"issueSummary"`
	Tags          IssueTags          `json:"tags" bson:"tags"`
	QualityScores QualityScores      `json:"quality_scores" bson:"qualityScores"`
	Sentiment     Sentiment          `json:"sentiment" bson:"sentiment"`
	Clustering    ClusteringFeatures `json:"clustering_features" bson:"clustering"`
	Insights      ActionableInsights `json:"actionable_insights" bson:"insights"`
	Metadata      AnalysisMetadata   `json:"metadata" bson:"metadata"`
}

type IssueSummary struct {
	Title       string `json:"title" bson:"title"`
	Description string `json:"description" bson:"description"`
	RootCause   string `json:"root_cause" bson:"rootCause"`
	Resolution  string `json:"resolution" bson:"resolution"`
}

type IssueTags struct {
	Category     string   `json:"category" bson:"category"`
	Subcategory  string   `json:"subcategory" bson:"subcategory"`
	ProductAreas []string `json:"product_areas" bson:"productAreas"`
	IssueType    string   `json:"issue_type" bson:"issueType"`
	Severity     string   `json:"severity" bson:"severity"`
	Complexity   string   `json:"complexity" bson:"complexity"`
}

type ScoredReason struct {
	Score     int    `json:"score" bson:"score"`
	Reasoning string `json:"reasoning" bson:"reasoning"`
}

type QualityScores struct {
	ResponseTime         ScoredReason `json:"response_time" bson:"responseTime"`
	TechnicalAccuracy    ScoredReason `json:"technical_accuracy" bson:"technicalAccuracy"`
	Communication        ScoredReason `json:"communication" bson:"communication"`
	ResolutionQuality    ScoredReason `json:"resolution_quality" bson:"resolutionQuality"`
	CustomerSatisfaction ScoredReason `json:"customer_satisfaction" bson:"customerSatisfaction"`
	Overall              float64      `json:"overall" bson:"overall"`
}

type Sentiment struct {
	Customer CustomerSentiment `json:"customer" bson:"customer"`
	Support  SupportSentiment  `json:"support" bson:"support"`
}

type CustomerSentiment struct {
	Overall      string `json:"overall" bson:"overall"`
	Frustration  string `json:"frustration_level" bson:"frustration"`
	Satisfaction string `json:"satisfaction" bson:"satisfaction"`
}

type SupportSentiment struct {
	Tone            string `json:"tone" bson:"tone"`
	Empathy         string `json:"empathy" bson:"empathy"`
	Professionalism string `json:"professionalism" bson:"professionalism"`
}

type ClusteringFeatures struct {
	PrimaryTopic    string   `json:"primary_topic" bson:"primaryTopic"`
	SecondaryTopics []string `json:"secondary_topics" bson:"secondaryTopics"`
	Keywords        []string `json:"keywords" bson:"keywords"`
}

type ActionableInsights struct {
	KeyLearnings     []string `json:"key_learnings" bson:"keyLearnings"`
	ImprovementAreas []string `json:"improvement_areas" bson:"improvementAreas"`
	KBCandidate      bool     `json:"kb_candidate" bson:"kbCandidate"`
}

type AnalysisMetadata struct {
	ConfidenceScore     float64  `json:"confidence_score" bson:"confidenceScore"`
	RequiresHumanReview bool     `json:"requires_human_review" bson:"requiresHumanReview"`
	ReviewReasons       []string `json:"review_reasons" bson:"reviewReasons"`
}

type BucketVerdict struct {
	Category   string     `json:"category" bson:"category"`
	CategoryID int        `json:"categoryId" bson:"categoryId"`
	Confidence Confidence `json:"confidence" bson:"confidence"`
	Reasoning  string     `json:"reasoning" bson:"reasoning"`
	Evidence   []string   `json:"evidence" bson:"evidence"`
}

type TagMatch struct {
	Tag        string  `json:"tag" bson:"tag"`
	Suggestion string  `json:"suggestion,omitempty" bson:"suggestion,omitempty"`
	Method     string  `json:"method" bson:"method"`
	Score      float64 `json:"score" bson:"score"`
}

type TagValidation struct {
	ProvidedTags       []string       `json:"providedTags" bson:"providedTags"`
	Matches            []TagMatch     `json:"matches" bson:"matches"`
	MatchedCount       int            `json:"matchedCount" bson:"matchedCount"`
	CoverageScore      float64        `json:"coverageScore" bson:"coverageScore"`
	CoveragePercentage float64        `json:"coveragePercentage" bson:"coveragePercentage"`
	LLM                *LLMTagVerdict `json:"llm,omitempty" bson:"llm,omitempty"`
}

type LLMTagVerdict struct {
	IsValid       bool     `json:"is_valid" bson:"isValid"`
	Score         float64  `json:"score" bson:"score"`
	Reasoning     string   `json:"reasoning" bson:"reasoning"`
	IncorrectTags []string `json:"incorrect_tags" bson:"incorrectTags"`
	MissingTags   []string `json:"missing_tags" bson:"missingTags"`
	Suggestions   []string `json:"suggested_tags" bson:"suggestions"`
}

type Candidate struct {
	Key     string `json:"key" bson:"key"`
	Title   string `json:"title" bson:"title"`
	Summary string `json:"summary" bson:"summary"`
	Status  string `json:"status,omitempty" bson:"status,omitempty"`
	URL     string `json:"url,omitempty" bson:"url,omitempty"`
}

type ScoreBreakdown struct {
	ProblemMatch          int `json:"problem_match" bson:"problemMatch"`
	TechnicalMatch        int `json:"technical_match" bson:"technicalMatch"`
	SolutionApplicability int `json:"solution_applicability" bson:"solutionApplicability"`
	SymptomAlignment      int `json:"symptom_alignment" bson:"symptomAlignment"`
}

func (b ScoreBreakdown) Total() int {
	return b.ProblemMatch + b.TechnicalMatch + b.SolutionApplicability + b.SymptomAlignment
}

type CandidateScore struct {
	Key        string         `json:"key" bson:"key"`
	Score      int            `json:"score" bson:"score"`
	Breakdown  ScoreBreakdown `json:"breakdown" bson:"breakdown"`
	Confidence Confidence     `json:"confidence" bson:"confidence"`
	Reasoning  []string       `json:"reasoning" bson:"reasoning"`
}

type RelevanceVerdict struct {
	Source    string           `json:"source" bson:"source"`
	IsValid   bool             `json:"isValid" bson:"isValid"`
	Reason    string           `json:"reason" bson:"reason"`
	Threshold int              `json:"threshold" bson:"threshold"`
	TopScore  int              `json:"topScore" bson:"topScore"`
	Scores    []CandidateScore `json:"scores" bson:"scores"`
}
