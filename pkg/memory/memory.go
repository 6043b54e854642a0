// Package memory manages per-session conversation history and the derived
// patient context aggregate.
//
// Sessions are created lazily on first message and never expire on their
// own; lifecycle is fully explicit. Access to a session's log and context
// is serialized by a per-session lock, so concurrent queries for the same
// session preserve strict append order.
package memory

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Role identifies the author of a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Context summary sentinels. The two are textually distinct: the first
// means the session does not exist, the second that it exists but nothing
// summarizable has accumulated yet.
const (
	NoContextSentinel = "No patient context available."
	NoSummarySentinel = "No context available."
)

// Message is one entry of a session's append-only log. Immutable once
// appended; insertion order is the canonical ordering.
type Message struct {
	Timestamp time.Time        `json:"timestamp"`
	Role      Role             `json:"role"`
	Content   string           `json:"content"`
	Metadata  *MessageMetadata `json:"metadata,omitempty"`
}

// MessageMetadata carries structured facts extracted by a handler. Only
// assistant messages with metadata mutate the patient context.
type MessageMetadata struct {
	QueryType   string            `json:"query_type,omitempty"`
	PatientInfo map[string]string `json:"patient_info,omitempty"`
	Symptoms    []string          `json:"symptoms,omitempty"`
	Diagnosis   string            `json:"diagnosis,omitempty"`
	Confidence  float64           `json:"confidence,omitempty"`
	Medications []string          `json:"medications,omitempty"`
}

// DiagnosisRecord is one entry of the full diagnosis history. Never
// deduplicated; a repeated diagnosis is a new record.
type DiagnosisRecord struct {
	Diagnosis  string    `json:"diagnosis"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// PatientContext is the accumulated clinical context for one session.
// Mutated only as a side effect of appending assistant messages.
type PatientContext struct {
	PatientInfo map[string]string `json:"patient_info"`
	Symptoms    []string          `json:"symptoms_mentioned"`
	Diagnoses   []DiagnosisRecord `json:"diagnoses_received"`
	Medications []string          `json:"medications_mentioned"`
	CreatedAt   time.Time         `json:"created_at"`
}

type session struct {
	mu       sync.Mutex
	messages []Message
	context  PatientContext
}

// Memory is the in-process conversation store. Safe for concurrent use;
// sessions are independent, no cross-session locking.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

// New creates an empty conversation memory
func New() *Memory {
	return &Memory{
		sessions: make(map[string]*session),
	}
}

// getOrCreate returns the session, creating it lazily
func (m *Memory) getOrCreate(sessionID string) *session {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		return s
	}
	s = &session{
		context: PatientContext{
			PatientInfo: make(map[string]string),
			CreatedAt:   time.Now(),
		},
	}
	m.sessions[sessionID] = s
	return s
}

// get returns the session without creating it
func (m *Memory) get(sessionID string) *session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[sessionID]
}

// AddMessage appends a message to the session's log, creating the session
// if absent. Assistant messages carrying metadata merge it into the
// patient context: patient-info keys are overwritten, symptom and
// medication mentions are dedup-appended, diagnoses are appended
// unconditionally.
func (m *Memory) AddMessage(sessionID string, role Role, content string, metadata *MessageMetadata) {
	s := m.getOrCreate(sessionID)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = append(s.messages, Message{
		Timestamp: time.Now(),
		Role:      role,
		Content:   content,
		Metadata:  metadata,
	})

	if role == RoleAssistant && metadata != nil {
		s.context.merge(metadata)
	}
}

func (c *PatientContext) merge(meta *MessageMetadata) {
	for k, v := range meta.PatientInfo {
		c.PatientInfo[k] = v
	}

	for _, symptom := range meta.Symptoms {
		if !containsString(c.Symptoms, symptom) {
			c.Symptoms = append(c.Symptoms, symptom)
		}
	}

	if meta.Diagnosis != "" {
		c.Diagnoses = append(c.Diagnoses, DiagnosisRecord{
			Diagnosis:  meta.Diagnosis,
			Confidence: meta.Confidence,
			Timestamp:  time.Now(),
		})
	}

	for _, med := range meta.Medications {
		if !containsString(c.Medications, med) {
			c.Medications = append(c.Medications, med)
		}
	}
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// GetConversation returns the message log in chronological order. If
// lastN > 0, only the last N entries are returned (still chronological).
// An unknown session yields an empty slice.
func (m *Memory) GetConversation(sessionID string, lastN int) []Message {
	s := m.get(sessionID)
	if s == nil {
		return []Message{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	messages := s.messages
	if lastN > 0 && lastN < len(messages) {
		messages = messages[len(messages)-lastN:]
	}

	out := make([]Message, len(messages))
	copy(out, messages)
	return out
}

// GetPatientContext returns a copy of the accumulated patient context.
// The second return is false if the session does not exist.
func (m *Memory) GetPatientContext(sessionID string) (PatientContext, bool) {
	s := m.get(sessionID)
	if s == nil {
		return PatientContext{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.context.clone(), true
}

func (c PatientContext) clone() PatientContext {
	out := PatientContext{
		PatientInfo: make(map[string]string, len(c.PatientInfo)),
		CreatedAt:   c.CreatedAt,
	}
	for k, v := range c.PatientInfo {
		out.PatientInfo[k] = v
	}
	out.Symptoms = append([]string(nil), c.Symptoms...)
	out.Diagnoses = append([]DiagnosisRecord(nil), c.Diagnoses...)
	out.Medications = append([]string(nil), c.Medications...)
	return out
}

// GetContextSummary renders the patient context as human-readable text,
// one line per non-empty category. Diagnosis lines show the diagnosis
// text only; confidence is omitted from the summary.
func (m *Memory) GetContextSummary(sessionID string) string {
	context, ok := m.GetPatientContext(sessionID)
	if !ok {
		return NoContextSentinel
	}

	var parts []string

	if len(context.PatientInfo) > 0 {
		keys := make([]string, 0, len(context.PatientInfo))
		for k := range context.PatientInfo {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, fmt.Sprintf("%s: %s", k, context.PatientInfo[k]))
		}
		parts = append(parts, "Patient Information: "+strings.Join(pairs, ", "))
	}

	if len(context.Symptoms) > 0 {
		parts = append(parts, "Symptoms mentioned: "+strings.Join(context.Symptoms, ", "))
	}

	if len(context.Diagnoses) > 0 {
		diagnoses := make([]string, 0, len(context.Diagnoses))
		for _, d := range context.Diagnoses {
			diagnoses = append(diagnoses, d.Diagnosis)
		}
		parts = append(parts, "Previous diagnoses: "+strings.Join(diagnoses, ", "))
	}

	if len(context.Medications) > 0 {
		parts = append(parts, "Medications discussed: "+strings.Join(context.Medications, ", "))
	}

	if len(parts) == 0 {
		return NoSummarySentinel
	}
	return strings.Join(parts, "\n")
}

// ClearSession deletes the message log and context for a session.
// Idempotent: clearing an absent session is a no-op.
func (m *Memory) ClearSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// Sessions returns the IDs of all live sessions
func (m *Memory) Sessions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
