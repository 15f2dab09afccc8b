package ttc

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// The session file keeps the cookies earned by solving a captcha so a
// restarted process stays past the challenge wall without a human.

type sessionCookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain"`
	Path     string `json:"path"`
	Expires  int64  `json:"expires"`
	Secure   bool   `json:"secure"`
	HTTPOnly bool   `json:"httpOnly"`
}

type sessionState struct {
	Cookies []sessionCookie `json:"cookies"`
}

func loadSessionCookies(path string) ([]*http.Cookie, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var state sessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}

	cookies := make([]*http.Cookie, 0, len(state.Cookies))
	for _, c := range state.Cookies {
		cookie := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			cookie.Expires = time.Unix(c.Expires, 0)
		}
		cookies = append(cookies, cookie)
	}
	return cookies, nil
}

func saveSessionCookies(path string, cookies []*http.Cookie) error {
	state := sessionState{Cookies: make([]sessionCookie, 0, len(cookies))}
	for _, c := range cookies {
		sc := sessionCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		}
		if !c.Expires.IsZero() {
			sc.Expires = c.Expires.Unix()
		}
		state.Cookies = append(state.Cookies, sc)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
