package api

import "DatopiaChat/internal/transcript"

// SendMessageRequest is the body for POST /chat/send_message. An empty
// SessionID asks the backend to create a new session for the message.
type SendMessageRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Content   string `json:"content"`
}

// sendMeta pulls the routable fields out of a send_message response.
// The full raw body is what ends up on the transcript; this struct only
// exists to read session_id for newly created sessions.
type sendMeta struct {
	SessionID string `json:"session_id"`
}

// HistoryResponse is the body of GET /chat/get_history/{session_id}.
type HistoryResponse struct {
	Messages []transcript.Turn `json:"messages"`
}

// EditMessageRequest is the body for POST /chat/edit_message.
type EditMessageRequest struct {
	SessionID    string `json:"session_id"`
	MessageIndex int    `json:"message_index"`
	NewContent   string `json:"new_content"`
}

// SessionInfo describes one entry of GET /chat/sessions.
type SessionInfo struct {
	SessionID string `json:"session_id"`
	Title     string `json:"title"`
}

// SessionsResponse is the body of GET /chat/sessions.
type SessionsResponse struct {
	Sessions []SessionInfo `json:"sessions"`
}

// RenameSessionRequest is the body for PATCH /chat/sessions/{id}.
type RenameSessionRequest struct {
	Title string `json:"title"`
}
