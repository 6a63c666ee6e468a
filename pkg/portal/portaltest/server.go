// Package portaltest provides an in-process captcha-gated login portal for tests.
package portaltest

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/obsgrade/obsgrade/pkg/portal"
)

const sessionCookie = "PORTALSESSION"

// Server imitates a portal login page, its challenge endpoint and the form
// post. A login succeeds only when username, password and code all match and
// the request carries the session cookie issued with the login page.
type Server struct {
	*httptest.Server

	Username string
	Password string
	Code     string
	Image    []byte

	// FailImage makes the challenge endpoint answer 500.
	FailImage atomic.Bool
	// OmitChallenge serves a login page without the challenge image.
	OmitChallenge atomic.Bool

	mu          sync.Mutex
	submissions []url.Values
	imageHits   int
	nextSession int
	sessions    map[string]bool
}

// NewServer starts a portal that accepts user/secret with the given code.
// Callers must Close it.
func NewServer(image []byte, code string) *Server {
	s := &Server{
		Username: "user",
		Password: "secret",
		Code:     code,
		Image:    image,
		sessions: map[string]bool{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /login", s.loginPage)
	mux.HandleFunc("GET /captcha.png", s.captcha)
	mux.HandleFunc("POST /auth", s.submit)
	mux.HandleFunc("GET /home", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `<html><body><h1>Welcome</h1><a href="/logout">logout</a></body></html>`)
	})
	s.Server = httptest.NewServer(mux)
	return s
}

// Config returns a portal configuration pointing at the server.
func (s *Server) Config() portal.Config {
	cfg := portal.DefaultConfig()
	cfg.LoginURL = s.URL + "/login"
	cfg.UsernameField = "txtUser"
	cfg.PasswordField = "txtPass"
	cfg.CaptchaField = "txtCode"
	return cfg
}

// Submissions returns a copy of every posted form.
func (s *Server) Submissions() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]url.Values(nil), s.submissions...)
}

// ImageHits reports how many times the challenge was downloaded.
func (s *Server) ImageHits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.imageHits
}

func (s *Server) loginPage(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.nextSession++
	id := fmt.Sprintf("s%d", s.nextSession)
	s.sessions[id] = true
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: id, Path: "/"})
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprint(w, s.loginHTML())
}

func (s *Server) loginHTML() string {
	img := `<img id="imgCaptcha" src="captcha.png?t=1" alt="code">`
	if s.OmitChallenge.Load() {
		img = ""
	}
	return `<html><body>
<form method="post" action="/auth" id="loginForm">
  <input type="hidden" name="__VIEWSTATE" value="vs-token">
  <input type="hidden" name="__EVENTVALIDATION" value="ev-token">
  <input type="text" name="txtUser">
  <input type="password" name="txtPass">
  ` + img + `
  <input type="text" name="txtCode">
  <input type="submit" value="Login">
</form>
</body></html>`
}

func (s *Server) captcha(w http.ResponseWriter, r *http.Request) {
	if !s.hasSession(r) {
		http.Error(w, "no session", http.StatusForbidden)
		return
	}
	if s.FailImage.Load() {
		http.Error(w, "captcha backend down", http.StatusInternalServerError)
		return
	}
	s.mu.Lock()
	s.imageHits++
	s.mu.Unlock()

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(s.Image)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.submissions = append(s.submissions, r.PostForm)
	s.mu.Unlock()

	ok := s.hasSession(r) &&
		r.PostForm.Get("__VIEWSTATE") == "vs-token" &&
		r.PostForm.Get("txtUser") == s.Username &&
		r.PostForm.Get("txtPass") == s.Password &&
		r.PostForm.Get("txtCode") == s.Code
	if ok {
		http.Redirect(w, r, "/home", http.StatusSeeOther)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprint(w, s.loginHTML())
}

func (s *Server) hasSession(r *http.Request) bool {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[c.Value]
}

// ChallengePNG renders a 120x40 challenge with three dark blocks that the
// segmenter finds as three separate regions.
func ChallengePNG() []byte {
	img := image.NewGray(image.Rect(0, 0, 120, 40))
	for i := range img.Pix {
		img.Pix[i] = 235
	}
	for _, g := range []image.Rectangle{
		image.Rect(10, 5, 24, 35),
		image.Rect(50, 5, 64, 35),
		image.Rect(90, 5, 104, 35),
	} {
		for y := g.Min.Y; y < g.Max.Y; y++ {
			for x := g.Min.X; x < g.Max.X; x++ {
				img.SetGray(x, y, color.Gray{Y: 20})
			}
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
