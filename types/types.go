package types

import (
	"time"

	"github.com/google/uuid"
)

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

type MessageStatus string

const (
	StatusPending MessageStatus = "PENDING"
	StatusSuccess MessageStatus = "SUCCESS"
	StatusError   MessageStatus = "ERROR"
)

// Terminal reports whether no further updates are expected for a message
// in this status.
func (s MessageStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

// SubProcessSource identifies which backend stage produced a sub-process
// entry. The backend owns the vocabulary, so the type stays open.
type SubProcessSource string

const (
	SourceConstructedQueryEngine SubProcessSource = "constructed_query_engine"
	SourceRetrieve               SubProcessSource = "retrieve"
	SourceSynthesize             SubProcessSource = "synthesize"
	SourceSubQuestions           SubProcessSource = "sub_questions"
	SourceAgentStep              SubProcessSource = "agent_step"
	SourceLLM                    SubProcessSource = "llm"
)

// SubProcessMetaSubQuestion is the metadata key under which the backend
// attaches a QuestionAnswerPair to a sub-process.
const SubProcessMetaSubQuestion = "sub_question"

type GuidelineMetadata struct {
	Title                 string     `json:"title"`
	IssuingOrganization   string     `json:"issuing_organization"`
	PublicationDate       *time.Time `json:"publication_date,omitempty"`
	Version               string     `json:"version,omitempty"`
	Condition             string     `json:"condition,omitempty"`
	Specialty             string     `json:"specialty,omitempty"`
	GuidelineType         string     `json:"guideline_type,omitempty"`
	EvidenceGradingSystem string     `json:"evidence_grading_system,omitempty"`
	RecommendationCount   int        `json:"recommendation_count,omitempty"`
	GuidelineID           string     `json:"guideline_id,omitempty"`
}

type Document struct {
	ID        uuid.UUID          `json:"id"`
	URL       string             `json:"url"`
	Metadata  *GuidelineMetadata `json:"metadata_map,omitempty"`
	CreatedAt *time.Time         `json:"created_at,omitempty"`
	UpdatedAt *time.Time         `json:"updated_at,omitempty"`
}

// Title returns the display title, falling back to the document id when
// the metadata carries none.
func (d Document) Title() string {
	if d.Metadata != nil && d.Metadata.Title != "" {
		return d.Metadata.Title
	}
	return d.ID.String()
}

// GuidelineID returns the shared external guideline identifier, empty when
// the document is not part of a guideline family.
func (d Document) GuidelineID() string {
	if d.Metadata == nil {
		return ""
	}
	return d.Metadata.GuidelineID
}

// GuidelineOption is a selectable, deduplicated view over documents:
// documents sharing a guideline id collapse to one option carrying the
// first-seen document as representative.
type GuidelineOption struct {
	Value    string   `json:"value"`
	Label    string   `json:"label"`
	Document Document `json:"document"`
}

type Citation struct {
	DocumentID uuid.UUID `json:"document_id"`
	Text       string    `json:"text"`
	PageNumber int       `json:"page_number"`
	Score      *float64  `json:"score,omitempty"`
}

type QuestionAnswerPair struct {
	Question  string     `json:"question"`
	Answer    string     `json:"answer,omitempty"`
	Citations []Citation `json:"citations,omitempty"`
}

// SubProcess is one named step in producing an assistant answer. ID is nil
// while the entry is still in flight on the backend.
type SubProcess struct {
	ID       *uuid.UUID             `json:"id,omitempty"`
	Source   SubProcessSource       `json:"source"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata_map,omitempty"`
}

// SubQuestion decodes the QuestionAnswerPair attached to the sub-process
// metadata, nil when absent or malformed.
func (sp SubProcess) SubQuestion() *QuestionAnswerPair {
	raw, ok := sp.Metadata[SubProcessMetaSubQuestion]
	if !ok {
		return nil
	}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil
	}
	qa := &QuestionAnswerPair{}
	if q, ok := m["question"].(string); ok {
		qa.Question = q
	}
	if a, ok := m["answer"].(string); ok {
		qa.Answer = a
	}
	rawCitations, ok := m["citations"].([]interface{})
	if !ok {
		return qa
	}
	for _, rc := range rawCitations {
		cm, ok := rc.(map[string]interface{})
		if !ok {
			continue
		}
		var c Citation
		if s, ok := cm["document_id"].(string); ok {
			if id, err := uuid.Parse(s); err == nil {
				c.DocumentID = id
			}
		}
		if t, ok := cm["text"].(string); ok {
			c.Text = t
		}
		if p, ok := cm["page_number"].(float64); ok {
			c.PageNumber = int(p)
		}
		if s, ok := cm["score"].(float64); ok {
			c.Score = &s
		}
		qa.Citations = append(qa.Citations, c)
	}
	return qa
}

// Message is one turn of a conversation. ID may be the zero uuid until the
// backend assigns one; timestamps stay nil until finalized.
type Message struct {
	ID             uuid.UUID     `json:"id"`
	ConversationID uuid.UUID     `json:"conversation_id"`
	Role           MessageRole   `json:"role"`
	Content        string        `json:"content"`
	Status         MessageStatus `json:"status"`
	SubProcesses   []SubProcess  `json:"sub_processes"`
	CreatedAt      *time.Time    `json:"created_at,omitempty"`
	UpdatedAt      *time.Time    `json:"updated_at,omitempty"`
}

// Citations collects all citations attached to the message's sub-processes,
// in sub-process order.
func (m Message) Citations() []Citation {
	var out []Citation
	for _, sp := range m.SubProcesses {
		if qa := sp.SubQuestion(); qa != nil {
			out = append(out, qa.Citations...)
		}
	}
	return out
}

type Conversation struct {
	ID        uuid.UUID  `json:"id"`
	Messages  []Message  `json:"messages"`
	Documents []Document `json:"documents"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}
