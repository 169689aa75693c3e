package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ent0n29/taskmaster/internal/access"
)

type createRoomRequest struct {
	AgentConfig map[string]any `json:"agentConfig"`
}

type createRoomResponse struct {
	Token    string `json:"token"`
	URL      string `json:"url"`
	RoomName string `json:"room_name"`
}

type roomErrorResponse struct {
	Error        string `json:"error"`
	ErrorMessage string `json:"error_message"`
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		s.metrics.ObserveToken("bad_request")
		respondJSON(w, http.StatusBadRequest, roomErrorResponse{Error: "invalid_request", ErrorMessage: err.Error()})
		return
	}
	if !s.signer.Enabled() {
		s.metrics.ObserveToken("unconfigured")
		respondJSON(w, http.StatusServiceUnavailable, roomErrorResponse{
			Error:        "livekit_unconfigured",
			ErrorMessage: "LiveKit API key and secret are not configured",
		})
		return
	}
	if err := s.nonces.Claim(authTokenOf(req.AgentConfig)); err != nil {
		s.metrics.ObserveToken("replayed")
		respondJSON(w, http.StatusConflict, roomErrorResponse{Error: "auth_token_reused", ErrorMessage: err.Error()})
		return
	}

	toolToken := s.toolTokens.Issue(DefaultListID)
	room := s.rooms.Issue(DefaultListID, toolToken)
	s.metrics.SetActiveRooms(s.rooms.ActiveCount())
	s.logger.Info("creating room", "room", room.Name, "identity", room.Identity)

	token, err := s.signer.RoomToken(room.Identity, "User", room.Name)
	if err != nil {
		s.toolTokens.Revoke(toolToken)
		s.metrics.ObserveToken("sign_failed")
		respondJSON(w, http.StatusInternalServerError, roomErrorResponse{Error: "token_failed", ErrorMessage: err.Error()})
		return
	}

	s.dispatchAgent(r, room.Name, stampToolToken(req.AgentConfig, toolToken))

	s.metrics.ObserveToken("issued")
	respondJSON(w, http.StatusOK, createRoomResponse{
		Token:    token,
		URL:      s.cfg.LiveKitURL,
		RoomName: room.Name,
	})
}

// dispatchAgent failures are logged only; the client still joins the room.
func (s *Server) dispatchAgent(r *http.Request, roomName string, agentConfig map[string]any) {
	if s.dispatcher == nil {
		return
	}
	metadata := ""
	if len(agentConfig) > 0 {
		raw, err := json.Marshal(agentConfig)
		if err != nil {
			s.logger.Error("agent dispatch failed", "room", roomName, "err", err)
			return
		}
		metadata = string(raw)
	}
	id, err := s.dispatcher.Dispatch(r.Context(), roomName, s.cfg.AgentName, metadata)
	if err != nil {
		s.logger.Error("agent dispatch failed", "room", roomName, "agent", s.cfg.AgentName, "err", err)
		return
	}
	s.logger.Info("agent dispatch created", "room", roomName, "dispatch_id", id)
}

// stampToolToken writes the tool token into agentConfig.auth.tool_token.
// An empty config stays empty.
func stampToolToken(cfg map[string]any, toolToken string) map[string]any {
	if len(cfg) == 0 {
		return cfg
	}
	auth, _ := cfg["auth"].(map[string]any)
	if auth == nil {
		auth = make(map[string]any, 1)
	}
	auth["tool_token"] = toolToken
	cfg["auth"] = auth
	return cfg
}

func authTokenOf(cfg map[string]any) string {
	auth, _ := cfg["auth"].(map[string]any)
	token, _ := auth["token"].(string)
	return token
}

var _ AgentDispatcher = (*access.DispatchClient)(nil)
