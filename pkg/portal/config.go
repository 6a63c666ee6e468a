package portal

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Config describes the portal's login page and form. Selectors use CSS syntax.
type Config struct {
	LoginURL         string        `yaml:"login_url" validate:"required,url"`
	CaptchaSelector  string        `yaml:"captcha_selector" validate:"required"`
	FormSelector     string        `yaml:"form_selector"`
	PasswordSelector string        `yaml:"password_selector" validate:"required"`
	UsernameField    string        `yaml:"username_field" validate:"required"`
	PasswordField    string        `yaml:"password_field" validate:"required"`
	CaptchaField     string        `yaml:"captcha_field" validate:"required"`
	UserAgent        string        `yaml:"user_agent"`
	Timeout          time.Duration `yaml:"timeout" validate:"gte=0"`
	MaxImageBytes    int64         `yaml:"max_image_bytes" validate:"gte=0"`
}

// DefaultConfig returns field names and selectors matching a typical ASP.NET
// style login form. LoginURL has no default.
func DefaultConfig() Config {
	return Config{
		CaptchaSelector:  "img[src*=captcha], img[src*=Captcha], img#captcha",
		FormSelector:     "form",
		PasswordSelector: "input[type=password]",
		UsernameField:    "username",
		PasswordField:    "password",
		CaptchaField:     "captcha",
		UserAgent:        "obsgrade/1.0",
		Timeout:          15 * time.Second,
		MaxImageBytes:    1 << 20,
	}
}

// Validate checks the configuration for a usable login URL.
func (c Config) Validate() error {
	if c.LoginURL == "" {
		return errors.New("portal.login_url is required")
	}
	u, err := url.Parse(c.LoginURL)
	if err != nil {
		return fmt.Errorf("portal.login_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("portal.login_url: unsupported scheme %q", u.Scheme)
	}
	if c.CaptchaField == "" || c.UsernameField == "" || c.PasswordField == "" {
		return errors.New("portal form field names must not be empty")
	}
	return nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CaptchaSelector == "" {
		c.CaptchaSelector = d.CaptchaSelector
	}
	if c.FormSelector == "" {
		c.FormSelector = d.FormSelector
	}
	if c.PasswordSelector == "" {
		c.PasswordSelector = d.PasswordSelector
	}
	if c.UsernameField == "" {
		c.UsernameField = d.UsernameField
	}
	if c.PasswordField == "" {
		c.PasswordField = d.PasswordField
	}
	if c.CaptchaField == "" {
		c.CaptchaField = d.CaptchaField
	}
	if c.Timeout == 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxImageBytes == 0 {
		c.MaxImageBytes = d.MaxImageBytes
	}
	return c
}
