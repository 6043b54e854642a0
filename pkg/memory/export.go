package memory

import "fmt"

// ExportVersion is the schema version stamped on exported sessions
const ExportVersion = 1

// SessionExport is the full-fidelity serialized form of one session
type SessionExport struct {
	Version        int            `json:"version"`
	SessionID      string         `json:"session_id"`
	Conversation   []Message      `json:"conversation"`
	PatientContext PatientContext `json:"patient_context"`
}

// ExportSession serializes a session's messages and context. Exporting an
// unknown session yields an export with an empty log and zero context.
func (m *Memory) ExportSession(sessionID string) SessionExport {
	export := SessionExport{
		Version:      ExportVersion,
		SessionID:    sessionID,
		Conversation: m.GetConversation(sessionID, 0),
	}
	if context, ok := m.GetPatientContext(sessionID); ok {
		export.PatientContext = context
	}
	return export
}

// ImportSession restores a session from an export, replacing any existing
// session with the same ID. Exports without a version tag (legacy dumps)
// are accepted as version 1.
func (m *Memory) ImportSession(export SessionExport) error {
	if export.SessionID == "" {
		return fmt.Errorf("session export has no session ID")
	}
	if export.Version > ExportVersion {
		return fmt.Errorf("unsupported session export version %d (max %d)", export.Version, ExportVersion)
	}

	context := export.PatientContext.clone()
	if context.PatientInfo == nil {
		context.PatientInfo = make(map[string]string)
	}

	s := &session{
		messages: append([]Message(nil), export.Conversation...),
		context:  context,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[export.SessionID] = s
	return nil
}
