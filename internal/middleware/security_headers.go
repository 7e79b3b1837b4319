package middleware

import (
	"net/http"
	"strings"
)

// mediaPathPrefix は保存画像を配信するパス。別オリジンのフロントエンドから<img>で読まれる。
const mediaPathPrefix = "/media/"

// NewSecurityHeadersMiddleware はセキュリティ関連のHTTPレスポンスヘッダーを付与するミドルウェアを返す。
// APIのレスポンスはJSONのみのため、スクリプトや埋め込みを一切許可しない。
// 画像の配信パスだけはクロスオリジンでの読み込みを許可する。
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")

			if strings.HasPrefix(r.URL.Path, mediaPathPrefix) {
				h.Set("Cross-Origin-Resource-Policy", "cross-origin")
				h.Set("Content-Security-Policy", "default-src 'none'; img-src 'self'; sandbox")
			} else {
				h.Set("Cross-Origin-Resource-Policy", "same-site")
				h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
				h.Set("Cache-Control", "no-store")
			}
			next.ServeHTTP(w, r)
		})
	}
}
