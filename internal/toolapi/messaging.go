package toolapi

import (
	"time"

	"github.com/opencode-teams/core/internal/types"
)

type SendMessageRequest struct {
	Team    string
	From    string
	To      string
	Body    string
	Type    types.MessageType
}

type SendMessageResponse struct {
	Sent bool `json:"sent"`
}

// SendMessage implements send-message. Type defaults to MessagePlain when
// unset, matching types.Message's on-disk default.
func (s *Server) SendMessage(req SendMessageRequest) (*SendMessageResponse, error) {
	msgType := req.Type
	if msgType == "" {
		msgType = types.MessagePlain
	}
	if err := s.coord.Messages.SendTyped(req.Team, req.To, req.Body, msgType, req.From); err != nil {
		return nil, err
	}
	return &SendMessageResponse{Sent: true}, nil
}

type BroadcastMessageRequest struct {
	Team string
	From string
	Body string
}

type BroadcastMessageResponse struct {
	Sent bool `json:"sent"`
}

// BroadcastMessage implements broadcast-message.
func (s *Server) BroadcastMessage(req BroadcastMessageRequest) (*BroadcastMessageResponse, error) {
	if err := s.coord.Messages.Broadcast(req.Team, req.Body, req.From); err != nil {
		return nil, err
	}
	return &BroadcastMessageResponse{Sent: true}, nil
}

type ReadMessagesRequest struct {
	Team    string
	AgentID string
	Since   *time.Time
}

type ReadMessagesResponse struct {
	Messages []types.Message `json:"messages"`
}

// ReadMessages implements read-messages.
func (s *Server) ReadMessages(req ReadMessagesRequest) (*ReadMessagesResponse, error) {
	msgs, err := s.coord.Messages.ReadMessages(req.Team, req.AgentID, req.Since)
	if err != nil {
		return nil, err
	}
	return &ReadMessagesResponse{Messages: msgs}, nil
}

type PollInboxRequest struct {
	Team      string
	AgentID   string
	TimeoutMs int
	Since     *time.Time
}

type PollInboxResponse struct {
	Messages []types.Message `json:"messages"`
}

// PollInbox implements poll-inbox. TimeoutMs defaults to the 30s
// polling default when zero.
func (s *Server) PollInbox(req PollInboxRequest) (*PollInboxResponse, error) {
	timeout := req.TimeoutMs
	if timeout == 0 {
		timeout = 30000
	}
	msgs, err := s.coord.Messages.PollInbox(req.Team, req.AgentID, timeout, req.Since)
	if err != nil {
		return nil, err
	}
	return &PollInboxResponse{Messages: msgs}, nil
}
