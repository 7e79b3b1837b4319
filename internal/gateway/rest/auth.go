package rest

import (
	"context"
	"log/slog"
	"net/http"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// SignUp はユーザー登録し、発行されたトークンをセッションに保存する。
func (c *Client) SignUp(ctx context.Context, email, password string) error {
	return c.issue(ctx, "/api/auth/signup", email, password)
}

// SignIn はサインインし、発行されたトークンをセッションに保存する。
func (c *Client) SignIn(ctx context.Context, email, password string) error {
	return c.issue(ctx, "/api/auth/signin", email, password)
}

func (c *Client) issue(ctx context.Context, path, email, password string) error {
	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, path, nil, credentials{Email: email, Password: password}, &resp); err != nil {
		return err
	}
	return c.session.SetToken(ctx, resp.Token)
}

// SignOut はサーバー側のセッションを破棄し、ローカルのトークンを消す。
// サーバーで既に失効している場合もローカルのトークンは消す。
func (c *Client) SignOut(ctx context.Context) error {
	if _, err := c.session.Token(); err != nil {
		return nil
	}
	if err := c.do(ctx, http.MethodPost, "/api/auth/signout", nil, nil, nil); err != nil {
		if !isUnauthorized(err) {
			return err
		}
		c.logger.Info("server session already revoked", slog.String("error", err.Error()))
	}
	return c.session.ClearToken(ctx)
}
