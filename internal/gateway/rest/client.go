// Package rest はLTMEのHTTP APIを使うGatewayの実装を提供する。
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/ltme/internal/gateway"
	"github.com/hitoshi/ltme/internal/model"
	"github.com/hitoshi/ltme/internal/session"
)

// defaultTimeout は通常のAPI呼び出しのタイムアウト。変更通知のストリームには適用しない。
const defaultTimeout = 15 * time.Second

// maxErrorBodyBytes はエラーレスポンスとして読み込む最大バイト数。
const maxErrorBodyBytes = 64 << 10

// Client はREST APIのGateway実装。トークンはSessionから読み出す。
type Client struct {
	baseURL string
	http    *http.Client
	stream  *http.Client
	session *session.Session
	logger  *slog.Logger

	initialReconnectDelay time.Duration
	maxReconnectDelay     time.Duration
}

// Option はClientの設定を変更する。
type Option func(*Client)

// WithHTTPClient は通常のAPI呼び出しに使うhttp.Clientを差し替える。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithStreamClient は変更通知のストリームに使うhttp.Clientを差し替える。
func WithStreamClient(hc *http.Client) Option {
	return func(c *Client) { c.stream = hc }
}

// WithReconnectDelay はストリーム再接続の待ち時間の初期値と上限を設定する。
func WithReconnectDelay(initial, ceiling time.Duration) Option {
	return func(c *Client) {
		c.initialReconnectDelay = initial
		c.maxReconnectDelay = ceiling
	}
}

// WithLogger はロガーを設定する。
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New はClientを生成する。
func New(baseURL string, sess *session.Session, opts ...Option) *Client {
	c := &Client{
		baseURL:               strings.TrimRight(baseURL, "/"),
		http:                  &http.Client{Timeout: defaultTimeout},
		stream:                &http.Client{},
		session:               sess,
		logger:                slog.Default(),
		initialReconnectDelay: initialReconnectDelay,
		maxReconnectDelay:     maxReconnectDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// errorEnvelope はサーバーの統一エラーフォーマット。
type errorEnvelope struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token, err := c.session.Token(); err == nil {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// do はリクエストを送り、成功時はレスポンスをoutへ読み込む。
// エラーレスポンスは*model.APIErrorに変換する。
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

// decodeError はエラーレスポンスを*model.APIErrorに変換する。
// 統一フォーマットでない場合はステータスコードを含むエラーを返す。
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err == nil && env.Code != "" {
		return &model.APIError{
			Code:     env.Code,
			Message:  env.Message,
			Category: env.Category,
			Action:   env.Action,
		}
	}
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
}

// requireSelf はuserIDがサインイン中のユーザーであることを確認する。
// REST APIは自分の関係しか変更・取得できない。
func (c *Client) requireSelf(userID string) error {
	own := c.session.UserID()
	if own == "" {
		return model.NewUnauthorizedError()
	}
	if userID != own {
		return model.NewForbiddenError("他のユーザーの関係")
	}
	return nil
}

func isUnauthorized(err error) bool {
	var apiErr *model.APIError
	return errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeUnauthorized
}

// compile-time interface check
var (
	_ gateway.Gateway       = (*Client)(nil)
	_ gateway.Subscriber    = (*Client)(nil)
	_ gateway.Authenticator = (*Client)(nil)
)
