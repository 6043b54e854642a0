package memory

import (
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SessionStore {
	t.Helper()
	s, err := NewSessionStore(":memory:")
	if err != nil {
		t.Fatalf("NewSessionStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionStore_SaveLoadRoundtrip(t *testing.T) {
	s := newTestStore(t)

	now := time.Now()
	export := SessionExport{
		Version:   ExportVersion,
		SessionID: "s1",
		Conversation: []Message{
			{Timestamp: now, Role: RoleUser, Content: "I have a fever"},
			{Timestamp: now, Role: RoleAssistant, Content: "analysis", Metadata: &MessageMetadata{
				QueryType:  "diagnosis",
				Symptoms:   []string{"fever"},
				Diagnosis:  "viral infection",
				Confidence: 0.7,
			}},
		},
		PatientContext: PatientContext{
			PatientInfo: map[string]string{"age": "30"},
			Symptoms:    []string{"fever"},
			Diagnoses:   []DiagnosisRecord{{Diagnosis: "viral infection", Confidence: 0.7, Timestamp: now}},
			CreatedAt:   now,
		},
	}

	if err := s.SaveSession(export); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	loaded, err := s.LoadSession("s1")
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if loaded == nil {
		t.Fatalf("expected stored session")
	}

	if len(loaded.Conversation) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(loaded.Conversation))
	}
	if loaded.Conversation[0].Content != "I have a fever" || loaded.Conversation[0].Role != RoleUser {
		t.Fatalf("unexpected first message: %+v", loaded.Conversation[0])
	}

	meta := loaded.Conversation[1].Metadata
	if meta == nil || meta.Diagnosis != "viral infection" || meta.Confidence != 0.7 {
		t.Fatalf("metadata did not survive roundtrip: %+v", meta)
	}

	if loaded.PatientContext.PatientInfo["age"] != "30" {
		t.Fatalf("patient context did not survive roundtrip: %+v", loaded.PatientContext)
	}
	if len(loaded.PatientContext.Diagnoses) != 1 {
		t.Fatalf("expected 1 diagnosis record, got %d", len(loaded.PatientContext.Diagnoses))
	}
}

func TestSessionStore_SaveReplacesMessages(t *testing.T) {
	s := newTestStore(t)

	export := SessionExport{
		Version:      ExportVersion,
		SessionID:    "s1",
		Conversation: []Message{{Role: RoleUser, Content: "one"}, {Role: RoleUser, Content: "two"}},
	}
	if err := s.SaveSession(export); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	export.Conversation = []Message{{Role: RoleUser, Content: "only"}}
	if err := s.SaveSession(export); err != nil {
		t.Fatalf("SaveSession (second): %v", err)
	}

	loaded, err := s.LoadSession("s1")
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if len(loaded.Conversation) != 1 || loaded.Conversation[0].Content != "only" {
		t.Fatalf("expected save to replace messages, got %+v", loaded.Conversation)
	}
}

func TestSessionStore_LoadUnknownSession(t *testing.T) {
	s := newTestStore(t)

	loaded, err := s.LoadSession("nope")
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if loaded != nil {
		t.Fatalf("expected nil for unknown session, got %+v", loaded)
	}
}

func TestSessionStore_DeleteSession(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveSession(SessionExport{Version: ExportVersion, SessionID: "s1"}); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := s.DeleteSession("s1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if err := s.DeleteSession("s1"); err != nil {
		t.Fatalf("DeleteSession (absent): %v", err)
	}

	loaded, err := s.LoadSession("s1")
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if loaded != nil {
		t.Fatalf("expected session to be gone, got %+v", loaded)
	}
}

func TestSessionStore_ListSessions(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveSession(SessionExport{Version: ExportVersion, SessionID: "a"}); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := s.SaveSession(SessionExport{Version: ExportVersion, SessionID: "b"}); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	ids, err := s.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 sessions, got %v", ids)
	}

	if err := s.SaveSession(SessionExport{Version: ExportVersion, SessionID: ""}); err == nil {
		t.Fatalf("expected error for empty session ID")
	}
}
