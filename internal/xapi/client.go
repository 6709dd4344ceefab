// Package xapi is a small client for the X API v2 endpoints the agent uses:
// the authenticated user, mention timelines, post creation and media upload.
package xapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/spredd-markets/spredd-degen/internal/social"
)

const (
	DefaultBaseURL = "https://api.x.com"
	defaultTimeout = 30 * time.Second
	maxRetries     = 3
	initialBackoff = time.Second

	mentionPageSize = 100
	// The mentions timeline only reaches back 800 posts.
	maxMentionPages = 8
	maxErrorBody    = 1024
)

// APIError is a non-2xx response from the API. Rate limiting and server
// errors unwrap to social.ErrUnavailable.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500 {
		return social.ErrUnavailable
	}
	return nil
}

// Client talks to the X API with a pre-provisioned user access token.
type Client struct {
	baseURL    string
	httpClient *http.Client
	backoff    time.Duration
	logger     *slog.Logger
}

// NewClient creates a client authenticating every request with token.
func NewClient(token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	httpClient := oauth2.NewClient(context.Background(), src)
	httpClient.Timeout = timeout
	return &Client{
		baseURL:    DefaultBaseURL,
		httpClient: httpClient,
		backoff:    initialBackoff,
		logger:     slog.Default(),
	}
}

// NewClientWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewClientWithBaseURL(token, baseURL string) *Client {
	c := NewClient(token, 0)
	if baseURL != "" {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
	return c
}

// SetBaseURL points the client at another API host. Empty keeps the current one.
func (c *Client) SetBaseURL(baseURL string) {
	if baseURL != "" {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// SetLogger replaces the client's logger.
func (c *Client) SetLogger(l *slog.Logger) {
	if l != nil {
		c.logger = l
	}
}

// --- Users ---

type userPayload struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// Me returns the account the token belongs to.
func (c *Client) Me(ctx context.Context) (social.User, error) {
	var resp struct {
		Data userPayload `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/2/users/me", nil, "", &resp); err != nil {
		return social.User{}, err
	}
	return social.User{ID: resp.Data.ID, Username: resp.Data.Username, Name: resp.Data.Name}, nil
}

// --- Mentions ---

type tweetPayload struct {
	ID             string `json:"id"`
	Text           string `json:"text"`
	AuthorID       string `json:"author_id"`
	ConversationID string `json:"conversation_id"`
	CreatedAt      string `json:"created_at"`
}

type mentionsResponse struct {
	Data     []tweetPayload `json:"data"`
	Includes struct {
		Users []userPayload `json:"users"`
	} `json:"includes"`
	Meta struct {
		NextToken   string `json:"next_token"`
		ResultCount int    `json:"result_count"`
	} `json:"meta"`
}

// MentionSource lists mentions of a fixed user through a Client.
type MentionSource struct {
	client *Client
	userID string
}

// Mentions binds the client to the timeline of userID.
func (c *Client) Mentions(userID string) *MentionSource {
	return &MentionSource{client: c, userID: userID}
}

// ListMentions returns mentions newer than sinceID (all recent mentions when
// sinceID is zero), following pagination through everything the timeline
// can return.
// Order is whatever the API returns; callers sort.
func (s *MentionSource) ListMentions(ctx context.Context, sinceID uint64) ([]social.Mention, error) {
	var (
		out   []social.Mention
		token string
	)
	for page := 0; page < maxMentionPages; page++ {
		q := url.Values{}
		q.Set("max_results", strconv.Itoa(mentionPageSize))
		q.Set("expansions", "author_id")
		q.Set("tweet.fields", "author_id,conversation_id,created_at")
		q.Set("user.fields", "username")
		if sinceID > 0 {
			q.Set("since_id", strconv.FormatUint(sinceID, 10))
		}
		if token != "" {
			q.Set("pagination_token", token)
		}

		var resp mentionsResponse
		path := "/2/users/" + url.PathEscape(s.userID) + "/mentions?" + q.Encode()
		if err := s.client.do(ctx, http.MethodGet, path, nil, "", &resp); err != nil {
			return nil, err
		}

		handles := make(map[string]string, len(resp.Includes.Users))
		for _, u := range resp.Includes.Users {
			handles[u.ID] = u.Username
		}
		for _, tw := range resp.Data {
			m, err := toMention(tw, handles)
			if err != nil {
				return nil, err
			}
			out = append(out, m)
		}

		token = resp.Meta.NextToken
		if token == "" {
			return out, nil
		}
	}
	s.client.logger.Warn("mention pagination truncated", "pages", maxMentionPages, "mentions", len(out))
	return out, nil
}

func toMention(tw tweetPayload, handles map[string]string) (social.Mention, error) {
	id, err := strconv.ParseUint(tw.ID, 10, 64)
	if err != nil {
		return social.Mention{}, fmt.Errorf("decoding mention id %q: %w", tw.ID, err)
	}
	m := social.Mention{
		ID:             id,
		Text:           tw.Text,
		AuthorID:       tw.AuthorID,
		AuthorHandle:   handles[tw.AuthorID],
		ConversationID: tw.ConversationID,
	}
	if t, err := time.Parse(time.RFC3339, tw.CreatedAt); err == nil {
		m.CreatedAt = t.UTC()
	}
	return m, nil
}

// --- Posts ---

type createPostRequest struct {
	Text  string `json:"text"`
	Reply *struct {
		InReplyTo string `json:"in_reply_to_tweet_id"`
	} `json:"reply,omitempty"`
	Media *struct {
		MediaIDs []string `json:"media_ids"`
	} `json:"media,omitempty"`
}

// CreatePost publishes text as a reply to replyTo (when set) with optional
// media attached, returning the new post ID.
func (c *Client) CreatePost(ctx context.Context, text, replyTo string, mediaIDs []string) (string, error) {
	body := createPostRequest{Text: text}
	if replyTo != "" {
		body.Reply = &struct {
			InReplyTo string `json:"in_reply_to_tweet_id"`
		}{InReplyTo: replyTo}
	}
	if len(mediaIDs) > 0 {
		body.Media = &struct {
			MediaIDs []string `json:"media_ids"`
		}{MediaIDs: mediaIDs}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling post: %w", err)
	}

	var resp struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/2/tweets", payload, "application/json", &resp); err != nil {
		return "", err
	}
	if resp.Data.ID == "" {
		return "", fmt.Errorf("create post: response carried no id")
	}
	return resp.Data.ID, nil
}

// --- Media ---

// UploadMedia sends an image as multipart form data and returns the media ID.
func (c *Client) UploadMedia(ctx context.Context, r io.Reader, filename, contentType string) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("media_category", "tweet_image"); err != nil {
		return "", fmt.Errorf("writing media form: %w", err)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="media"; filename=%q`, filename))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return "", fmt.Errorf("writing media form: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("copying media: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("closing media form: %w", err)
	}

	var resp struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
		MediaIDString string `json:"media_id_string"`
	}
	if err := c.do(ctx, http.MethodPost, "/2/media/upload", buf.Bytes(), w.FormDataContentType(), &resp); err != nil {
		return "", err
	}
	id := resp.Data.ID
	if id == "" {
		id = resp.MediaIDString
	}
	if id == "" {
		return "", fmt.Errorf("media upload: response carried no id")
	}
	return id, nil
}

// --- transport ---

// do sends one request, retrying HTTP 429 with exponential backoff, and
// decodes a 2xx JSON body into out.
func (c *Client) do(ctx context.Context, method, path string, body []byte, contentType string, out any) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err := c.doOnce(ctx, method, path, body, contentType, out)
		if err == nil {
			return nil
		}
		if !isRateLimit(err) {
			return err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(c.backoff) * math.Pow(2, float64(attempt)))
			c.logger.Warn("rate limited, backing off", "path", stripQuery(path), "attempt", attempt+1, "backoff", backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)
}

func (c *Client) doOnce(ctx context.Context, method, path string, body []byte, contentType string, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s %s: %w: %w", method, stripQuery(path), social.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{
			Method:     method,
			Path:       stripQuery(path),
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", stripQuery(path), err)
	}
	return nil
}

func isRateLimit(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == http.StatusTooManyRequests
}

func stripQuery(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}
