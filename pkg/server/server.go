// Package server is the HTTP layer: routing, sessions, and templating. It
// holds no storage or synchronization logic of its own; every durable
// operation goes through the user and chat stores.
package server

import (
	"io"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/nebenchat/nebenchat/pkg/chat"
	"github.com/nebenchat/nebenchat/pkg/errors"
	"github.com/nebenchat/nebenchat/pkg/storage"
	"github.com/nebenchat/nebenchat/pkg/user"
)

// maxUploadBytes caps uploaded file size at 16MB.
const maxUploadBytes = 16 << 20

// Server wires the HTTP routes to the storage-backed stores.
type Server struct {
	users     *user.Store
	chats     *chat.Store
	assistant chat.Assistant
	sessions  *sessionManager
	router    *mux.Router
}

// New creates the HTTP handler for the chat frontend. assistant may be nil,
// which disables model replies but leaves the rest of the app working.
func New(users *user.Store, chats *chat.Store, assistant chat.Assistant,
	sessionSecret string) *Server {

	s := &Server{
		users:     users,
		chats:     chats,
		assistant: assistant,
		sessions:  newSessionManager(sessionSecret, clockwork.NewRealClock()),
	}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/login", s.handleLoginPage).Methods(http.MethodGet)
	r.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	r.HandleFunc("/chat", s.authed(s.handleChatPage)).Methods(http.MethodGet)
	r.HandleFunc("/chat/send", s.authed(s.handleSend)).Methods(http.MethodPost)
	r.HandleFunc("/chat/clear", s.authed(s.handleClear)).Methods(http.MethodPost)
	r.HandleFunc("/uploads", s.authed(s.handleUpload)).Methods(http.MethodPost)
	r.HandleFunc("/uploads/{name}", s.authed(s.handleDownload)).Methods(http.MethodGet)
	r.HandleFunc("/admin/users", s.authed(s.handleCreateUser)).Methods(http.MethodPost)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type authedHandler func(http.ResponseWriter, *http.Request, session)

// authed redirects requests without a valid session to the login page.
func (s *Server) authed(handler authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.sessions.verify(r)
		if err != nil {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		handler(w, r, sess)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if _, err := s.sessions.verify(r); err == nil {
		http.Redirect(w, r, "/chat", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	s.renderLogin(w, "")
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	username := r.FormValue("username")
	password := r.FormValue("password")
	if username == "" || password == "" {
		s.renderLogin(w, "Please enter both username and password.")
		return
	}

	record, err := s.users.Authenticate(username, password)
	if err == user.ErrBadCredentials {
		s.renderLogin(w, "Unknown username or wrong password.")
		return
	} else if err != nil {
		log.WithError(err).Error("Failed to authenticate user")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.sessions.issue(w, session{Username: record.Username, IsAdmin: record.IsAdmin})
	http.Redirect(w, r, "/chat", http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.clear(w)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (s *Server) handleChatPage(w http.ResponseWriter, r *http.Request, sess session) {
	history, err := s.chats.History(sess.Username)
	if err != nil {
		log.WithError(err).WithField("user", sess.Username).
			Error("Failed to load chat history")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	uploads, err := s.chats.Uploads(sess.Username)
	if err != nil {
		log.WithError(err).WithField("user", sess.Username).
			Error("Failed to list uploads")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.renderChat(w, chatPage{
		Username: sess.Username,
		IsAdmin:  sess.IsAdmin,
		History:  history,
		Uploads:  uploads,
	})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request, sess session) {
	content := r.FormValue("message")
	if content == "" {
		http.Redirect(w, r, "/chat", http.StatusSeeOther)
		return
	}

	// Store the user's message first: even if the model call fails, the
	// message must not be lost.
	history, err := s.chats.Append(sess.Username,
		chat.Message{Role: "user", Content: content})
	if err != nil {
		s.reportStorageError(w, sess, err, "store chat message")
		return
	}

	reply := "The assistant is not configured on this server."
	if s.assistant != nil {
		reply, err = s.assistant.Reply(r.Context(), history)
		if err != nil {
			log.WithError(err).WithField("user", sess.Username).
				Warn("Model call failed")
			reply = "I couldn't generate a response. Please try again."
		}
	}

	if _, err := s.chats.Append(sess.Username,
		chat.Message{Role: "assistant", Content: reply}); err != nil {
		s.reportStorageError(w, sess, err, "store assistant reply")
		return
	}

	http.Redirect(w, r, "/chat", http.StatusSeeOther)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request, sess session) {
	if err := s.chats.Clear(sess.Username); err != nil {
		s.reportStorageError(w, sess, err, "clear chat history")
		return
	}
	http.Redirect(w, r, "/chat", http.StatusSeeOther)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, sess session) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "upload too large", http.StatusRequestEntityTooLarge)
		return
	}

	name := filepath.Base(header.Filename)
	if err := s.chats.SaveUpload(sess.Username, name, data); err != nil {
		if storage.IsInvalidKey(err) {
			http.Error(w, "invalid file name", http.StatusBadRequest)
			return
		}
		s.reportStorageError(w, sess, err, "store upload")
		return
	}
	http.Redirect(w, r, "/chat", http.StatusSeeOther)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, sess session) {
	name := mux.Vars(r)["name"]
	data, err := s.chats.ReadUpload(sess.Username, name)
	if storage.IsNotFound(err) {
		http.NotFound(w, r)
		return
	} else if storage.IsInvalidKey(err) {
		http.Error(w, "invalid file name", http.StatusBadRequest)
		return
	} else if err != nil {
		s.reportStorageError(w, sess, err, "read upload")
		return
	}

	// The name is user supplied, so quote it rather than splicing it into
	// the header raw.
	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Write(data)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request, sess session) {
	if !sess.IsAdmin {
		http.Error(w, "admins only", http.StatusForbidden)
		return
	}

	username := r.FormValue("username")
	password := r.FormValue("password")
	if username == "" || password == "" {
		http.Error(w, "username and password are required", http.StatusBadRequest)
		return
	}

	err := s.users.Create(username, password, r.FormValue("is_admin") == "true")
	if err == user.ErrUserExists {
		http.Error(w, "username is already taken", http.StatusConflict)
		return
	} else if storage.IsInvalidKey(err) {
		http.Error(w, "invalid username", http.StatusBadRequest)
		return
	} else if err != nil {
		s.reportStorageError(w, sess, err, "create user")
		return
	}
	http.Redirect(w, r, "/chat", http.StatusSeeOther)
}

// reportStorageError distinguishes "stored locally but not yet durable
// remotely" from outright failure, since the former shouldn't read as data
// loss.
func (s *Server) reportStorageError(w http.ResponseWriter, sess session,
	err error, op string) {

	log.WithError(err).WithFields(log.Fields{
		"user": sess.Username,
		"op":   op,
	}).Error("Storage operation failed")

	if isSyncConflict(err) {
		http.Error(w, "saved locally, but syncing to the storage repository "+
			"failed; it will be retried on the next change",
			http.StatusServiceUnavailable)
		return
	}
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func isSyncConflict(err error) bool {
	_, ok := errors.RootCause(err).(storage.SyncConflictError)
	return ok
}
