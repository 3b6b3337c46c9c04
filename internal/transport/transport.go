// Package transport speaks the chat backend's HTTP protocol: the delta
// long-poll endpoint, paginated history, and the visitor action
// endpoints. It knows nothing about ordering or state; callers get
// decoded wire records or a typed error.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/h2non/filetype"

	"chatkit/internal/wire"
)

// ServerError is a backend-reported rejection: a 2xx response whose body
// carries an error code instead of a result.
type ServerError struct {
	Code string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error: %s", e.Code)
}

// AsServerError unwraps err into a *ServerError if it is one.
func AsServerError(err error) (*ServerError, bool) {
	var serverErr *ServerError
	if errors.As(err, &serverErr) {
		return serverErr, true
	}
	return nil, false
}

type Config struct {
	// BaseURL of the chat backend, e.g. "https://demo.example.com".
	BaseURL string
	// Location is the chat placement requested at bootstrap.
	Location string
	// AppVersion is reported to the backend at bootstrap.
	AppVersion string
	// PollTimeout is the server-side long-poll hold passed with every
	// delta request.
	PollTimeout time.Duration
	// HTTPClient is used for all requests. If nil, a client without a
	// request timeout is used (the long poll outlives any sane timeout;
	// cancellation comes from the context).
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger
}

type Client struct {
	baseURL     string
	pollTimeout time.Duration
	appVersion  string
	httpClient  *http.Client
	logger      *slog.Logger

	mu          sync.Mutex
	location    string
	pageID      string
	authToken   string
	deviceToken string
}

func NewClient(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, errors.New("transport: BaseURL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("transport: invalid BaseURL %q: %w", config.BaseURL, err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		pollTimeout: config.PollTimeout,
		appVersion:  config.AppVersion,
		httpClient:  httpClient,
		logger:      logger,
		location:    config.Location,
	}, nil
}

// SetIdentity stores the page and auth identity assigned by the backend
// in the bootstrap full update. All subsequent requests carry it.
func (c *Client) SetIdentity(pageID, authToken string) {
	c.mu.Lock()
	c.pageID = pageID
	c.authToken = authToken
	c.mu.Unlock()
}

// SetLocation switches the chat placement for subsequent bootstraps.
func (c *Client) SetLocation(location string) {
	c.mu.Lock()
	c.location = location
	c.mu.Unlock()
}

// SetDeviceToken records a push token reported at the next bootstrap and
// pushed immediately via an action request.
func (c *Client) SetDeviceToken(ctx context.Context, token string) error {
	c.mu.Lock()
	c.deviceToken = token
	c.mu.Unlock()
	return c.action(ctx, url.Values{
		"action":     {"set_push_token"},
		"push-token": {token},
	})
}

// CloseIdleConnections drops pooled connections. Called after transport
// errors so the next attempt opens a fresh socket instead of reusing a
// poisoned one.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

func (c *Client) identity() (pageID, authToken, location, deviceToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pageID, c.authToken, c.location, c.deviceToken
}

// Bootstrap performs the first delta request (no revision). The response
// is expected to carry a full update.
func (c *Client) Bootstrap(ctx context.Context) (*wire.DeltaResponse, error) {
	_, _, location, deviceToken := c.identity()
	query := url.Values{
		"event":    {"init"},
		"location": {location},
		"timeout":  {strconv.FormatInt(c.pollTimeout.Milliseconds(), 10)},
	}
	if c.appVersion != "" {
		query.Set("app-version", c.appVersion)
	}
	if deviceToken != "" {
		query.Set("push-token", deviceToken)
	}
	return c.requestDeltas(ctx, query)
}

// PollDeltas long-polls for changes since the given revision. An empty
// delta list is a normal response (the hold expired with no changes).
func (c *Client) PollDeltas(ctx context.Context, since wire.Revision) (*wire.DeltaResponse, error) {
	query := url.Values{
		"since":   {string(since)},
		"timeout": {strconv.FormatInt(c.pollTimeout.Milliseconds(), 10)},
	}
	return c.requestDeltas(ctx, query)
}

func (c *Client) requestDeltas(ctx context.Context, query url.Values) (*wire.DeltaResponse, error) {
	pageID, authToken, _, _ := c.identity()
	if pageID != "" {
		query.Set("page-id", pageID)
	}
	if authToken != "" {
		query.Set("auth-token", authToken)
	}

	body, err := c.doRequest(ctx, http.MethodGet, "/l/v/m/delta", query, nil)
	if err != nil {
		return nil, err
	}
	resp, err := wire.DecodeDeltaResponse(body)
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, &ServerError{Code: resp.Error}
	}
	return resp, nil
}

// HistoryBefore fetches up to the server's page size of messages older
// than the given timestamp.
func (c *Client) HistoryBefore(ctx context.Context, beforeMicros int64) (*wire.HistoryResponse, error) {
	query := url.Values{
		"before-ts": {strconv.FormatInt(beforeMicros, 10)},
	}
	return c.requestHistory(ctx, query)
}

// HistorySince fetches messages changed since a history revision.
func (c *Client) HistorySince(ctx context.Context, revision string) (*wire.HistoryResponse, error) {
	query := url.Values{}
	if revision != "" {
		query.Set("since", revision)
	}
	return c.requestHistory(ctx, query)
}

func (c *Client) requestHistory(ctx context.Context, query url.Values) (*wire.HistoryResponse, error) {
	pageID, authToken, _, _ := c.identity()
	if pageID != "" {
		query.Set("page-id", pageID)
	}
	if authToken != "" {
		query.Set("auth-token", authToken)
	}

	body, err := c.doRequest(ctx, http.MethodGet, "/l/v/m/history", query, nil)
	if err != nil {
		return nil, err
	}
	resp, err := wire.DecodeHistoryResponse(body)
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, &ServerError{Code: resp.Error}
	}
	return resp, nil
}

// --- visitor actions ---

func (c *Client) StartChat(ctx context.Context, clientSideID, departmentKey, firstQuestion string) error {
	values := url.Values{
		"action":         {"chat.start"},
		"client-side-id": {clientSideID},
	}
	if departmentKey != "" {
		values.Set("department-key", departmentKey)
	}
	if firstQuestion != "" {
		values.Set("first-question", firstQuestion)
	}
	return c.action(ctx, values)
}

func (c *Client) CloseChat(ctx context.Context) error {
	return c.action(ctx, url.Values{"action": {"chat.close"}})
}

func (c *Client) SendMessage(ctx context.Context, clientSideID, text string) error {
	return c.action(ctx, url.Values{
		"action":         {"chat.message"},
		"client-side-id": {clientSideID},
		"message":        {text},
	})
}

func (c *Client) EditMessage(ctx context.Context, clientSideID, text string) error {
	return c.action(ctx, url.Values{
		"action":  {"chat.edit_message"},
		"id":      {clientSideID},
		"message": {text},
	})
}

func (c *Client) DeleteMessage(ctx context.Context, clientSideID string) error {
	return c.action(ctx, url.Values{
		"action": {"chat.delete_message"},
		"id":     {clientSideID},
	})
}

func (c *Client) ReactMessage(ctx context.Context, clientSideID, reaction string) error {
	return c.action(ctx, url.Values{
		"action":   {"chat.react_message"},
		"id":       {clientSideID},
		"reaction": {reaction},
	})
}

func (c *Client) SendSticker(ctx context.Context, clientSideID string, stickerID int) error {
	return c.action(ctx, url.Values{
		"action":         {"sticker"},
		"client-side-id": {clientSideID},
		"sticker-id":     {strconv.Itoa(stickerID)},
	})
}

func (c *Client) SendKeyboardResponse(ctx context.Context, requestMessageID, buttonID string) error {
	return c.action(ctx, url.Values{
		"action":             {"chat.keyboard_response"},
		"request-message-id": {requestMessageID},
		"button-id":          {buttonID},
	})
}

func (c *Client) RateOperator(ctx context.Context, operatorID string, rating int) error {
	return c.action(ctx, url.Values{
		"action":      {"chat.operator_rate_select"},
		"operator-id": {operatorID},
		"rate":        {strconv.Itoa(rating)},
	})
}

func (c *Client) SetVisitorTyping(ctx context.Context, typing bool, draft string) error {
	values := url.Values{
		"action":            {"chat.visitor_typing"},
		"typing":            {strconv.FormatBool(typing)},
		"del-message-draft": {strconv.FormatBool(draft == "")},
	}
	if draft != "" {
		values.Set("message-draft", draft)
	}
	return c.action(ctx, values)
}

func (c *Client) SetChatRead(ctx context.Context) error {
	return c.action(ctx, url.Values{"action": {"chat.read_by_visitor"}})
}

// UploadFile sends file bytes as multipart form data. The content type
// is sniffed from the bytes; the declared filename extension is not
// trusted.
func (c *Client) UploadFile(ctx context.Context, clientSideID, filename string, data []byte) error {
	contentType := "application/octet-stream"
	if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown {
		contentType = kind.MIME.Value
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	header := make(map[string][]string)
	header["Content-Disposition"] = []string{
		fmt.Sprintf(`form-data; name="webim_upload_file"; filename=%q`, filename),
	}
	header["Content-Type"] = []string{contentType}
	part, err := writer.CreatePart(header)
	if err != nil {
		return fmt.Errorf("transport: failed to create multipart body: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("transport: failed to write file body: %w", err)
	}

	pageID, authToken, _, _ := c.identity()
	_ = writer.WriteField("client-side-id", clientSideID)
	_ = writer.WriteField("page-id", pageID)
	if authToken != "" {
		_ = writer.WriteField("auth-token", authToken)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("transport: failed to finish multipart body: %w", err)
	}

	body, err := c.doRequestRaw(ctx, http.MethodPost, "/l/v/m/upload", writer.FormDataContentType(), &buf)
	if err != nil {
		return err
	}
	return checkActionResult(body)
}

func (c *Client) action(ctx context.Context, values url.Values) error {
	pageID, authToken, _, _ := c.identity()
	if pageID != "" {
		values.Set("page-id", pageID)
	}
	if authToken != "" {
		values.Set("auth-token", authToken)
	}

	body, err := c.doRequestRaw(ctx, http.MethodPost, "/l/v/m/action",
		"application/x-www-form-urlencoded", strings.NewReader(values.Encode()))
	if err != nil {
		return err
	}
	return checkActionResult(body)
}

func checkActionResult(body []byte) error {
	resp := struct {
		Result string `json:"result"`
		Error  string `json:"error"`
	}{}
	if err := wireUnmarshal(body, &resp); err != nil {
		return err
	}
	if resp.Error != "" {
		return &ServerError{Code: resp.Error}
	}
	return nil
}

func wireUnmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("transport: failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) ([]byte, error) {
	requestURL := c.baseURL + path
	if query != nil {
		requestURL += "?" + query.Encode()
	}
	return c.do(ctx, method, requestURL, "", body)
}

func (c *Client) doRequestRaw(ctx context.Context, method, path, contentType string, body io.Reader) ([]byte, error) {
	return c.do(ctx, method, c.baseURL+path, contentType, body)
}

func (c *Client) do(ctx context.Context, method, requestURL, contentType string, body io.Reader) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, method, requestURL, body)
	if err != nil {
		return nil, fmt.Errorf("transport: failed to create request: %w", err)
	}
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("transport: request to %s failed: %w", method, err)
	}
	defer func() { _ = response.Body.Close() }()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("transport: failed to read response body: %w", err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, fmt.Errorf("transport: unexpected status %d from %s", response.StatusCode, method)
	}
	return responseBody, nil
}
