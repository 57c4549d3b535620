package polis

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// DefaultBaseURL is the public Polis instance.
const DefaultBaseURL = "https://pol.is"

// APISource fetches raw data from a Polis instance's v3 API. Exactly one of
// ConversationID or ReportID must be set.
type APISource struct {
	BaseURL        string
	ConversationID string
	ReportID       string

	HTTPClient *http.Client
}

// NewAPISource builds an APISource. A non-empty caBundle is a PEM file that
// replaces the system root pool.
func NewAPISource(baseURL, conversationID, reportID, caBundle string) (*APISource, error) {
	client := &http.Client{Timeout: 60 * time.Second}
	if caBundle != "" {
		pem, err := os.ReadFile(caBundle)
		if err != nil {
			return nil, fmt.Errorf("reading CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("CA bundle %s contains no certificates", caBundle)
		}
		client.Transport = &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12},
		}
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &APISource{
		BaseURL:        strings.TrimRight(baseURL, "/"),
		ConversationID: conversationID,
		ReportID:       reportID,
		HTTPClient:     client,
	}, nil
}

func (a *APISource) Describe() string {
	if a.ReportID != "" {
		return a.BaseURL + "/report/" + a.ReportID
	}
	return a.BaseURL + "/" + a.ConversationID
}

// Load fetches report (when loading by report), comments, votes,
// conversation and math. Only a math failure is tolerated.
func (a *APISource) Load(ctx context.Context) (*Bundle, error) {
	b := &Bundle{BaseURL: a.BaseURL, ConversationID: a.ConversationID}

	if a.ReportID != "" {
		var reports []rawReport
		if err := a.getJSON(ctx, "/api/v3/reports", url.Values{"report_id": {a.ReportID}}, &reports); err != nil {
			return nil, fmt.Errorf("fetching report %s: %w", a.ReportID, err)
		}
		if len(reports) == 0 || reports[0].ConversationID == "" {
			return nil, fmt.Errorf("report %s not found", a.ReportID)
		}
		b.ReportID = a.ReportID
		b.ConversationID = reports[0].ConversationID
		b.ReportURL = reports[0].ReportURL
		if b.ReportURL == "" {
			b.ReportURL = a.BaseURL + "/report/" + a.ReportID
		}
	}
	if b.ConversationID == "" {
		return nil, errors.New("no conversation id to fetch")
	}
	conv := url.Values{"conversation_id": {b.ConversationID}}

	comments, err := a.get(ctx, "/api/v3/comments", url.Values{
		"conversation_id":         {b.ConversationID},
		"moderation":              {"true"},
		"include_voting_patterns": {"true"},
	})
	if err != nil {
		return nil, fmt.Errorf("fetching comments: %w", err)
	}
	if b.Statements, err = ParseStatements(comments); err != nil {
		return nil, err
	}
	b.RawComments = comments

	votes, err := a.get(ctx, "/api/v3/votes", conv)
	if err != nil {
		return nil, fmt.Errorf("fetching votes: %w", err)
	}
	if b.Votes, err = ParseVotes(votes); err != nil {
		return nil, err
	}
	b.RawVotes = votes

	convData, err := a.get(ctx, "/api/v3/conversations", conv)
	if err != nil {
		return nil, fmt.Errorf("fetching conversation: %w", err)
	}
	b.RawConversation = convData

	math, err := a.get(ctx, "/api/v3/math/pca2", conv)
	if err != nil {
		b.MathErr = &UpstreamFetchError{Reason: ReasonUnavailable, Err: err}
		return b, nil
	}
	b.RawMath = math
	b.Math, b.MathErr = ParseMath(math)
	return b, nil
}

func (a *APISource) getJSON(ctx context.Context, path string, q url.Values, out interface{}) error {
	data, err := a.get(ctx, path, q)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (a *APISource) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	u := a.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	client := a.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("polis API %s returned %d: %s", path, resp.StatusCode, string(body))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return data, nil
}

// Target is the result of parsing a conversation or report URL.
type Target struct {
	BaseURL        string
	ConversationID string
	ReportID       string
}

// ParseURL extracts the instance base URL and the trailing ID from a
// conversation URL (https://pol.is/2abc) or report URL
// (https://pol.is/report/r7c...).
func ParseURL(raw string) (Target, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Target{}, fmt.Errorf("parsing URL: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if u.Scheme == "" || u.Host == "" || len(parts) == 0 || parts[len(parts)-1] == "" {
		return Target{}, fmt.Errorf("URL path is empty: %s", raw)
	}
	id := parts[len(parts)-1]
	t := Target{BaseURL: u.Scheme + "://" + u.Host}
	switch {
	case strings.HasPrefix(id, "r"):
		t.ReportID = id
	case id[0] >= '0' && id[0] <= '9':
		t.ConversationID = id
	default:
		return Target{}, fmt.Errorf("could not detect ID type in URL: %s", raw)
	}
	return t, nil
}
