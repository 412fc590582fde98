package server

import (
	"embed"
	"html/template"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/nebenchat/nebenchat/pkg/chat"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

type loginPage struct {
	Error string
}

type chatPage struct {
	Username string
	IsAdmin  bool
	History  []chat.Message
	Uploads  []string
}

func (s *Server) renderLogin(w http.ResponseWriter, errMsg string) {
	render(w, "login.html", loginPage{Error: errMsg})
}

func (s *Server) renderChat(w http.ResponseWriter, page chatPage) {
	render(w, "chat.html", page)
}

func render(w http.ResponseWriter, name string, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.ExecuteTemplate(w, name, data); err != nil {
		log.WithError(err).WithField("template", name).Error("Failed to render page")
	}
}
