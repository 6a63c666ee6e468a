// Package portal implements the two network exchanges of a captcha-gated
// login: fetching the login page with its challenge image, and submitting the
// login form.
package portal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/obsgrade/obsgrade/pkg/domain"
)

// LoginPage is what the login form needs to be submitted back.
type LoginPage struct {
	URL        *url.URL
	Action     *url.URL
	Hidden     url.Values
	CaptchaURL *url.URL
}

// Challenge is a downloaded challenge image together with its login page.
type Challenge struct {
	Page        LoginPage
	Image       []byte
	ContentType string
}

// Client builds per-attempt sessions against one portal.
type Client struct {
	cfg       Config
	transport http.RoundTripper
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTransport replaces the base round tripper. It is still wrapped for tracing.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		if rt != nil {
			c.transport = rt
		}
	}
}

// NewClient validates cfg and creates a client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, &domain.DomainError{
			Err:     domain.ErrConfigInvalid,
			Code:    "CONFIG_INVALID",
			Message: fmt.Sprintf("%s: %v", domain.ErrConfigInvalid, err),
		}
	}

	c := &Client{
		cfg:       cfg,
		transport: http.DefaultTransport,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// NewSession returns a session with its own cookie jar.
func (c *Client) NewSession() (*Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return &Session{
		cfg:    c.cfg,
		logger: c.logger,
		http: &http.Client{
			Transport: otelhttp.NewTransport(c.transport,
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return "portal " + r.Method + " " + r.URL.Path
				}),
			),
			Jar:     jar,
			Timeout: c.cfg.Timeout,
		},
	}, nil
}

// Session holds the cookie state of one login attempt. It is not safe for
// concurrent use.
type Session struct {
	cfg    Config
	logger *slog.Logger
	http   *http.Client
}

// FetchChallenge loads the login page, scrapes the challenge reference and the
// hidden form fields, and downloads the image. Every failure is a
// *domain.TransportError.
func (s *Session) FetchChallenge(ctx context.Context) (*Challenge, error) {
	doc, pageURL, err := s.getDocument(ctx, s.cfg.LoginURL)
	if err != nil {
		return nil, err
	}

	page, err := s.scrape(doc, pageURL)
	if err != nil {
		return nil, &domain.TransportError{Op: "scrape", URL: pageURL.String(), Err: err}
	}

	data, contentType, err := s.download(ctx, page.CaptchaURL, pageURL)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Challenge downloaded",
		"captcha_url", page.CaptchaURL.String(),
		"bytes", len(data),
		"hidden_fields", len(page.Hidden),
	)
	return &Challenge{Page: page, Image: data, ContentType: contentType}, nil
}

// Submit posts credentials, code and the page's hidden fields. It reports
// true when the response no longer shows a password input. A false result
// means the portal rejected the credentials or the code; the two are not
// distinguishable.
func (s *Session) Submit(ctx context.Context, page LoginPage, creds domain.Credentials, code string) (bool, error) {
	if page.Action == nil {
		return false, &domain.TransportError{Op: "submit", Err: errors.New("login page has no form action")}
	}

	form := url.Values{}
	for k, v := range page.Hidden {
		form[k] = append([]string(nil), v...)
	}
	form.Set(s.cfg.UsernameField, creds.Username)
	form.Set(s.cfg.PasswordField, creds.Password)
	form.Set(s.cfg.CaptchaField, code)

	target := page.Action.String()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return false, &domain.TransportError{Op: "submit", URL: target, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if page.URL != nil {
		req.Header.Set("Referer", page.URL.String())
	}
	s.decorate(req)

	resp, err := s.http.Do(req)
	if err != nil {
		return false, &domain.TransportError{Op: "submit", URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return false, &domain.TransportError{Op: "submit", URL: target, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return false, &domain.TransportError{Op: "submit", URL: target, Err: fmt.Errorf("parse response: %w", err)}
	}

	stillLogin := doc.Find(s.cfg.PasswordSelector).Length() > 0
	s.logger.Debug("Login form submitted", "status", resp.StatusCode, "login_form_present", stillLogin)
	return !stillLogin && resp.StatusCode < http.StatusBadRequest, nil
}

func (s *Session) getDocument(ctx context.Context, rawURL string) (*goquery.Document, *url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, &domain.TransportError{Op: "fetch", URL: rawURL, Err: err}
	}
	s.decorate(req)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, nil, &domain.TransportError{Op: "fetch", URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, &domain.TransportError{Op: "fetch", URL: rawURL, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, nil, &domain.TransportError{Op: "fetch", URL: rawURL, Err: fmt.Errorf("parse login page: %w", err)}
	}

	// Relative references resolve against the final URL after redirects.
	return doc, resp.Request.URL, nil
}

func (s *Session) scrape(doc *goquery.Document, pageURL *url.URL) (LoginPage, error) {
	img := doc.Find(s.cfg.CaptchaSelector).First()
	src, ok := img.Attr("src")
	if !ok || strings.TrimSpace(src) == "" {
		return LoginPage{}, domain.ErrChallengeNotFound
	}
	captchaURL, err := pageURL.Parse(strings.TrimSpace(src))
	if err != nil {
		return LoginPage{}, fmt.Errorf("captcha src %q: %w", src, err)
	}

	form := img.Closest("form")
	if form.Length() == 0 && s.cfg.FormSelector != "" {
		form = doc.Find(s.cfg.FormSelector).First()
	}

	action := pageURL
	if raw, ok := form.Attr("action"); ok && strings.TrimSpace(raw) != "" {
		action, err = pageURL.Parse(strings.TrimSpace(raw))
		if err != nil {
			return LoginPage{}, fmt.Errorf("form action %q: %w", raw, err)
		}
	}

	hidden := url.Values{}
	form.Find("input[type=hidden]").Each(func(_ int, in *goquery.Selection) {
		name, ok := in.Attr("name")
		if !ok || name == "" {
			return
		}
		hidden.Add(name, in.AttrOr("value", ""))
	})

	return LoginPage{URL: pageURL, Action: action, Hidden: hidden, CaptchaURL: captchaURL}, nil
}

func (s *Session) download(ctx context.Context, target, referer *url.URL) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, "", &domain.TransportError{Op: "download", URL: target.String(), Err: err}
	}
	req.Header.Set("Referer", referer.String())
	s.decorate(req)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, "", &domain.TransportError{Op: "download", URL: target.String(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", &domain.TransportError{Op: "download", URL: target.String(), Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, s.cfg.MaxImageBytes+1))
	if err != nil {
		return nil, "", &domain.TransportError{Op: "download", URL: target.String(), Err: err}
	}
	if int64(len(data)) > s.cfg.MaxImageBytes {
		return nil, "", &domain.TransportError{Op: "download", URL: target.String(), Err: fmt.Errorf("image exceeds %d bytes", s.cfg.MaxImageBytes)}
	}
	if len(data) == 0 {
		return nil, "", &domain.TransportError{Op: "download", URL: target.String(), Err: errors.New("empty image")}
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (s *Session) decorate(req *http.Request) {
	if s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}
}

// Save writes the challenge image to a new temporary file in dir (the system
// temp dir when empty). The caller owns the file and must remove it.
func (c *Challenge) Save(dir string) (domain.ChallengeImage, error) {
	f, err := os.CreateTemp(dir, "captcha-*"+extensionFor(c.ContentType))
	if err != nil {
		return domain.ChallengeImage{}, fmt.Errorf("create challenge file: %w", err)
	}
	path := f.Name()

	if _, err := f.Write(c.Image); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return domain.ChallengeImage{}, fmt.Errorf("write challenge file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return domain.ChallengeImage{}, fmt.Errorf("close challenge file: %w", err)
	}
	return domain.ChallengeImage{Path: path, Data: c.Image}, nil
}

func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".png"
	}
	switch mediaType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/bmp":
		return ".bmp"
	default:
		return ".png"
	}
}
