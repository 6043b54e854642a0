package memory

import (
	"fmt"
	"strings"
	"sync"
	"testing"
)

func TestAddMessage_AppendOrder(t *testing.T) {
	m := New()

	m.AddMessage("s1", RoleUser, "first", nil)
	m.AddMessage("s1", RoleAssistant, "second", nil)
	m.AddMessage("s1", RoleUser, "third", nil)

	messages := m.GetConversation("s1", 0)
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	want := []string{"first", "second", "third"}
	for i, content := range want {
		if messages[i].Content != content {
			t.Fatalf("message %d: expected %q, got %q", i, content, messages[i].Content)
		}
	}
}

func TestGetConversation_LastN(t *testing.T) {
	m := New()
	for i := 0; i < 5; i++ {
		m.AddMessage("s1", RoleUser, fmt.Sprintf("msg-%d", i), nil)
	}

	messages := m.GetConversation("s1", 2)
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Content != "msg-3" || messages[1].Content != "msg-4" {
		t.Fatalf("expected last two messages in order, got %q, %q", messages[0].Content, messages[1].Content)
	}
}

func TestGetConversation_UnknownSession(t *testing.T) {
	m := New()
	if messages := m.GetConversation("nope", 0); len(messages) != 0 {
		t.Fatalf("expected empty log for unknown session, got %d messages", len(messages))
	}
	// Reading must not create the session
	if sessions := m.Sessions(); len(sessions) != 0 {
		t.Fatalf("read created a session: %v", sessions)
	}
}

func TestPatientContext_SymptomsDeduplicated(t *testing.T) {
	m := New()

	m.AddMessage("s1", RoleAssistant, "a1", &MessageMetadata{Symptoms: []string{"fever", "cough"}})
	m.AddMessage("s1", RoleAssistant, "a2", &MessageMetadata{Symptoms: []string{"fever", "fatigue"}})

	context, ok := m.GetPatientContext("s1")
	if !ok {
		t.Fatalf("expected session to exist")
	}
	want := []string{"fever", "cough", "fatigue"}
	if len(context.Symptoms) != len(want) {
		t.Fatalf("expected symptoms %v, got %v", want, context.Symptoms)
	}
	for i, s := range want {
		if context.Symptoms[i] != s {
			t.Fatalf("symptom %d: expected %q, got %q", i, s, context.Symptoms[i])
		}
	}
}

func TestPatientContext_DiagnosesAlwaysAppend(t *testing.T) {
	m := New()

	m.AddMessage("s1", RoleAssistant, "a1", &MessageMetadata{Diagnosis: "migraine", Confidence: 0.8})
	m.AddMessage("s1", RoleAssistant, "a2", &MessageMetadata{Diagnosis: "migraine", Confidence: 0.9})

	context, _ := m.GetPatientContext("s1")
	if len(context.Diagnoses) != 2 {
		t.Fatalf("expected 2 diagnosis records, got %d", len(context.Diagnoses))
	}
	if context.Diagnoses[1].Confidence != 0.9 {
		t.Fatalf("expected second record confidence 0.9, got %v", context.Diagnoses[1].Confidence)
	}
}

func TestPatientContext_InfoLastWriteWins(t *testing.T) {
	m := New()

	m.AddMessage("s1", RoleAssistant, "a1", &MessageMetadata{PatientInfo: map[string]string{"age": "60"}})
	m.AddMessage("s1", RoleAssistant, "a2", &MessageMetadata{PatientInfo: map[string]string{"age": "61"}})

	context, _ := m.GetPatientContext("s1")
	if context.PatientInfo["age"] != "61" {
		t.Fatalf("expected last write to win, got %q", context.PatientInfo["age"])
	}
}

func TestPatientContext_UserMetadataIgnored(t *testing.T) {
	m := New()

	// Only assistant messages mutate the context
	m.AddMessage("s1", RoleUser, "u1", &MessageMetadata{Symptoms: []string{"fever"}})

	context, _ := m.GetPatientContext("s1")
	if len(context.Symptoms) != 0 {
		t.Fatalf("expected user metadata to be ignored, got %v", context.Symptoms)
	}
}

func TestGetContextSummary_Sentinels(t *testing.T) {
	m := New()

	// Unknown session
	if got := m.GetContextSummary("nope"); got != NoContextSentinel {
		t.Fatalf("expected %q for unknown session, got %q", NoContextSentinel, got)
	}

	// Existing session with nothing summarizable
	m.AddMessage("s1", RoleUser, "hello", nil)
	if got := m.GetContextSummary("s1"); got != NoSummarySentinel {
		t.Fatalf("expected %q for empty context, got %q", NoSummarySentinel, got)
	}
}

func TestGetContextSummary_Rendering(t *testing.T) {
	m := New()

	m.AddMessage("s1", RoleAssistant, "a1", &MessageMetadata{
		PatientInfo: map[string]string{"age": "45", "sex": "female"},
		Symptoms:    []string{"chest pain", "dyspnea"},
		Diagnosis:   "angina",
		Confidence:  0.85,
		Medications: []string{"aspirin"},
	})

	summary := m.GetContextSummary("s1")
	lines := strings.Split(summary, "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 summary lines, got %d: %q", len(lines), summary)
	}
	// Patient info keys render sorted
	if lines[0] != "Patient Information: age: 45, sex: female" {
		t.Fatalf("unexpected info line: %q", lines[0])
	}
	if lines[1] != "Symptoms mentioned: chest pain, dyspnea" {
		t.Fatalf("unexpected symptoms line: %q", lines[1])
	}
	// Confidence is omitted from the summary
	if lines[2] != "Previous diagnoses: angina" {
		t.Fatalf("unexpected diagnoses line: %q", lines[2])
	}
	if lines[3] != "Medications discussed: aspirin" {
		t.Fatalf("unexpected medications line: %q", lines[3])
	}
}

func TestClearSession_Idempotent(t *testing.T) {
	m := New()
	m.AddMessage("s1", RoleUser, "hello", nil)

	m.ClearSession("s1")
	m.ClearSession("s1") // already gone, must not panic

	if got := m.GetContextSummary("s1"); got != NoContextSentinel {
		t.Fatalf("expected cleared session to behave as unknown, got %q", got)
	}
}

func TestSessions_IsolatedAndSorted(t *testing.T) {
	m := New()
	m.AddMessage("b", RoleUser, "hi", nil)
	m.AddMessage("a", RoleUser, "hi", nil)

	m.AddMessage("a", RoleAssistant, "x", &MessageMetadata{Symptoms: []string{"cough"}})

	if context, _ := m.GetPatientContext("b"); len(context.Symptoms) != 0 {
		t.Fatalf("context leaked across sessions: %v", context.Symptoms)
	}

	sessions := m.Sessions()
	if len(sessions) != 2 || sessions[0] != "a" || sessions[1] != "b" {
		t.Fatalf("expected sorted session list [a b], got %v", sessions)
	}
}

func TestAddMessage_ConcurrentAppends(t *testing.T) {
	m := New()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.AddMessage("s1", RoleUser, fmt.Sprintf("msg-%d", i), nil)
		}(i)
	}
	wg.Wait()

	if got := len(m.GetConversation("s1", 0)); got != n {
		t.Fatalf("expected %d messages after concurrent appends, got %d", n, got)
	}
}

func TestGetPatientContext_ReturnsCopy(t *testing.T) {
	m := New()
	m.AddMessage("s1", RoleAssistant, "a1", &MessageMetadata{Symptoms: []string{"fever"}})

	context, _ := m.GetPatientContext("s1")
	context.Symptoms[0] = "mutated"

	fresh, _ := m.GetPatientContext("s1")
	if fresh.Symptoms[0] != "fever" {
		t.Fatalf("caller mutation leaked into stored context: %v", fresh.Symptoms)
	}
}
