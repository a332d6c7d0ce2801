package graph

import (
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// RequestType tells whether a request loaded a top-level document or a sub-resource
type RequestType string

const (
	RequestRoot     RequestType = "root"
	RequestEmbedded RequestType = "embedded"
)

// Request is one observed HTTP request
type Request struct {
	Method    string      `json:"method"`
	URL       string      `json:"url"`
	Timestamp time.Time   `json:"timestamp"`
	Type      RequestType `json:"type"`
}

// Redirect is one observed redirection between two URLs
type Redirect struct {
	InitialURL string      `json:"initial_url"`
	FinalURL   string      `json:"final_url"`
	Type       RequestType `json:"type"`
	Timestamp  time.Time   `json:"timestamp"`
}

// LinkKind is the kind of traffic occurrence recorded on an edge
type LinkKind string

const (
	LinkRequest  LinkKind = "request"
	LinkRedirect LinkKind = "redirect"
	LinkReferral LinkKind = "referral"
)

// Link is a single occurrence of traffic between the endpoints of an edge
type Link struct {
	Kind      LinkKind  `json:"kind"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// Hostname extracts the lower-cased hostname of an absolute URL.
// Protocol-relative URLs ("//cdn.example.com/x.js") are accepted.
func Hostname(rawURL string) (string, error) {
	if strings.HasPrefix(rawURL, "//") {
		rawURL = "https:" + rawURL
	}

	if !strings.Contains(rawURL, "://") {
		return "", errors.Wrapf(ErrPrecondition, "url %q is not absolute", rawURL)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.Wrapf(ErrPrecondition, "url %q: %v", rawURL, err)
	}

	hostname := parsed.Hostname()
	if hostname == "" {
		return "", errors.Wrapf(ErrPrecondition, "url %q has no host", rawURL)
	}

	return strings.ToLower(hostname), nil
}
