package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// libre talks to a LibreTranslate server. Options: url (required),
// source (default auto), target (default en).
type libre struct {
	url    string
	key    string
	source string
	target string
	http   *http.Client
}

func newLibre(cfg Config) (Translator, error) {
	u := strings.TrimRight(strings.TrimSpace(cfg.Options["url"]), "/")
	if u == "" {
		return nil, errors.New("libretranslate: options.url required")
	}
	l := &libre{
		url:    u,
		key:    cfg.APIKey,
		source: cfg.Options["source"],
		target: cfg.Options["target"],
		http:   &http.Client{Timeout: 30 * time.Second},
	}
	if l.source == "" {
		l.source = "auto"
	}
	if l.target == "" {
		l.target = "en"
	}
	return l, nil
}

func (*libre) Name() string { return "libretranslate" }

func (l *libre) Translate(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"q":       text,
		"source":  l.source,
		"target":  l.target,
		"format":  "text",
		"api_key": l.key,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url+"/translate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}

	var out struct {
		TranslatedText string `json:"translatedText"`
		Error          string `json:"error"`
	}
	_ = json.Unmarshal(raw, &out)
	if resp.StatusCode/100 != 2 {
		if out.Error != "" {
			return "", fmt.Errorf("libretranslate: %s (http %d)", out.Error, resp.StatusCode)
		}
		return "", fmt.Errorf("libretranslate: http %d", resp.StatusCode)
	}
	if out.TranslatedText == "" {
		return "", errors.New("libretranslate: empty translation")
	}
	return out.TranslatedText, nil
}
