package httpadapter

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/socialme/messenger/internal/app/roster"
	"github.com/socialme/messenger/internal/app/session"
	"github.com/socialme/messenger/internal/app/thread"
	"github.com/socialme/messenger/internal/domain"
)

type Server struct {
	sessions *session.Service
	roster   *roster.Service
	thread   *thread.Service
	hub      *hub
}

func NewServer(sessions *session.Service, rosterSvc *roster.Service, threadSvc *thread.Service) http.Handler {
	s := &Server{
		sessions: sessions,
		roster:   rosterSvc,
		thread:   threadSvc,
		hub:      newHub(),
	}

	// The app services re-derive on every live-store callback; the hub
	// forwards each re-derivation to the connected views.
	rosterSvc.OnUpdate(func(entries []roster.Entry) {
		s.hub.broadcast("roster", s.toRosterResponse(entries))
	})
	threadSvc.OnUpdate(func(msgs []*domain.Message) {
		s.hub.broadcast("messages", s.toThreadResponse(msgs))
	})

	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealthz)

	mux.HandleFunc("/auth/signup", s.handleSignUp)
	mux.HandleFunc("/auth/signin", s.handleSignIn)
	mux.HandleFunc("/auth/google", s.handleGoogleSignIn)
	mux.HandleFunc("/auth/signout", s.handleSignOut)
	mux.HandleFunc("/me", s.handleMe)

	mux.HandleFunc("/roster", s.handleRoster)

	mux.HandleFunc("/thread", s.handleThread)
	mux.HandleFunc("/thread/select", s.handleSelect)
	mux.HandleFunc("/thread/messages", s.handleSendMessage)
	mux.HandleFunc("/thread/attachments", s.handleSendAttachment)
	mux.HandleFunc("/thread/composer", s.handleComposer)
	mux.HandleFunc("/thread/composer/emoji", s.handleComposerEmoji)
	mux.HandleFunc("/thread/composer/send", s.handleComposerSend)

	mux.HandleFunc("/ws", s.handleWS)

	// Innermost first: logging reads the request_id and uid the outer
	// middlewares put on the context.
	return chainMiddlewares(mux, withLogging, s.withSessionUID, withRequestID, withCORS)
}

// ─────────────────────────────────────────────
// DTOs (request/response)
// ─────────────────────────────────────────────

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type googleSignInRequest struct {
	IDToken string `json:"id_token"`
}

type identityResponse struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	PhotoURL    string `json:"photo_url"`
}

type profileResponse struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	PhotoURL    string `json:"photo_url"`
	Desc        string `json:"desc,omitempty"`
}

type rosterEntryResponse struct {
	Profile profileResponse `json:"profile"`
	Preview string          `json:"preview,omitempty"`
}

type rosterResponse struct {
	Users    []rosterEntryResponse `json:"users"`
	Degraded bool                  `json:"degraded"`
}

type attachmentResponse struct {
	URL         string `json:"url"`
	MimeType    string `json:"mime_type"`
	Filename    string `json:"filename"`
	InlineImage bool   `json:"inline_image"`
}

type messageResponse struct {
	ID         string              `json:"id"`
	From       string              `json:"from"`
	Text       string              `json:"text,omitempty"`
	Attachment *attachmentResponse `json:"attachment,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	Mine       bool                `json:"mine"`
}

type threadResponse struct {
	Peer     string            `json:"peer"`
	Messages []messageResponse `json:"messages"`
	Composer string            `json:"composer"`
	Degraded bool              `json:"degraded"`
}

type selectPeerRequest struct {
	Peer string `json:"peer"`
}

type sendTextRequest struct {
	Text string `json:"text"`
}

type composerRequest struct {
	Text string `json:"text"`
}

type emojiRequest struct {
	Symbol string `json:"symbol"`
}

// ─────────────────────────────────────────────
// Auth handlers
// ─────────────────────────────────────────────

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		badRequest(w, "email and password are required")
		return
	}

	if err := s.sessions.SignUpWithPassword(r.Context(), req.Email, req.Password); err != nil {
		authError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toIdentityResponse(s.sessions.Current()))
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	if err := s.sessions.SignInWithPassword(r.Context(), req.Email, req.Password); err != nil {
		authError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toIdentityResponse(s.sessions.Current()))
}

func (s *Server) handleGoogleSignIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req googleSignInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.IDToken == "" {
		badRequest(w, "id_token is required")
		return
	}

	if err := s.sessions.SignInWithGoogle(r.Context(), req.IDToken); err != nil {
		authError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toIdentityResponse(s.sessions.Current()))
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	if err := s.sessions.SignOut(r.Context()); err != nil {
		authError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "signed out"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	id := s.sessions.Current()
	if id == nil {
		unauthorized(w)
		return
	}
	writeJSON(w, http.StatusOK, toIdentityResponse(id))
}

// ─────────────────────────────────────────────
// Roster handlers
// ─────────────────────────────────────────────

func (s *Server) handleRoster(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.sessions.Current() == nil {
		unauthorized(w)
		return
	}

	s.roster.SetSearch(r.URL.Query().Get("search"))
	writeJSON(w, http.StatusOK, s.toRosterResponse(s.roster.Entries()))
}

// ─────────────────────────────────────────────
// Thread handlers
// ─────────────────────────────────────────────

func (s *Server) handleThread(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.sessions.Current() == nil {
		unauthorized(w)
		return
	}

	writeJSON(w, http.StatusOK, s.toThreadResponse(s.thread.Messages()))
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req selectPeerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.Peer == "" {
		badRequest(w, "peer is required")
		return
	}

	if err := s.thread.Select(r.Context(), domain.UserID(req.Peer)); err != nil {
		sendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toThreadResponse(s.thread.Messages()))
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.sessions.Current() == nil {
		unauthorized(w)
		return
	}

	var req sendTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	if err := s.thread.SendText(r.Context(), req.Text); err != nil {
		sendError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (s *Server) handleSendAttachment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.sessions.Current() == nil {
		unauthorized(w)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if err := s.thread.SendAttachment(r.Context(), header.Filename, contentType, file); err != nil {
		sendError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (s *Server) handleComposer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req composerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	s.thread.SetComposer(req.Text)
	writeJSON(w, http.StatusOK, map[string]string{"composer": s.thread.Composer()})
}

func (s *Server) handleComposerEmoji(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req emojiRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.Symbol == "" {
		badRequest(w, "symbol is required")
		return
	}

	s.thread.AppendToComposer(req.Symbol)
	writeJSON(w, http.StatusOK, map[string]string{"composer": s.thread.Composer()})
}

func (s *Server) handleComposerSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.sessions.Current() == nil {
		unauthorized(w)
		return
	}

	if err := s.thread.SendComposer(r.Context()); err != nil {
		sendError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"composer": s.thread.Composer()})
}

// ─────────────────────────────────────────────
// Response mapping
// ─────────────────────────────────────────────

func toIdentityResponse(id *domain.Identity) identityResponse {
	if id == nil {
		return identityResponse{}
	}
	return identityResponse{
		UID:         string(id.UID),
		Email:       id.Email,
		DisplayName: id.DisplayName,
		PhotoURL:    id.PhotoURL,
	}
}

func (s *Server) toRosterResponse(entries []roster.Entry) rosterResponse {
	users := make([]rosterEntryResponse, 0, len(entries))
	for _, e := range entries {
		users = append(users, rosterEntryResponse{
			Profile: profileResponse{
				UID:         string(e.Profile.UID),
				Email:       e.Profile.Email,
				DisplayName: e.Profile.DisplayName,
				PhotoURL:    e.Profile.PhotoURL,
				Desc:        e.Profile.Desc,
			},
			Preview: e.Preview,
		})
	}
	return rosterResponse{Users: users, Degraded: s.roster.Degraded()}
}

func (s *Server) toThreadResponse(msgs []*domain.Message) threadResponse {
	var self domain.UserID
	if id := s.sessions.Current(); id != nil {
		self = id.UID
	}

	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		resp := messageResponse{
			ID:        string(m.ID),
			From:      string(m.From),
			Text:      m.Text,
			CreatedAt: m.CreatedAt,
			Mine:      m.From == self,
		}
		if m.Attachment != nil {
			resp.Attachment = &attachmentResponse{
				URL:         m.Attachment.URL,
				MimeType:    m.Attachment.MimeType,
				Filename:    m.Attachment.Filename,
				InlineImage: m.Attachment.IsImage(),
			}
		}
		out = append(out, resp)
	}

	return threadResponse{
		Peer:     string(s.thread.Peer()),
		Messages: out,
		Composer: s.thread.Composer(),
		Degraded: s.thread.Degraded(),
	}
}

// ─────────────────────────────────────────────
// HTTP Helpers
// ─────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error": msg,
	})
}

func unauthorized(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, map[string]string{
		"error": "not signed in",
	})
}

func authError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusUnauthorized, map[string]string{
		"error": err.Error(),
	})
}

// sendError maps the send/select failure modes onto statuses. Rejected input
// is a 400 and the composer stays intact; anything else is a 502 from the
// backing store, also retryable by the user.
func sendError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotSignedIn):
		unauthorized(w)
	case errors.Is(err, domain.ErrEmptyMessage),
		errors.Is(err, domain.ErrNoPeerSelected),
		errors.Is(err, domain.ErrNoFile):
		badRequest(w, err.Error())
	default:
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error": "send failed: " + err.Error(),
		})
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{
		"error": "method not allowed",
	})
}
