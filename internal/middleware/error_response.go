package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/ltme/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// ゲートウェイのRESTアダプタはこの形をmodel.APIErrorへ復元する。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// StatusCode はAPIErrorのコードに対応するHTTPステータスを返す。
func StatusCode(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized, model.ErrCodeInvalidCredentials:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden, model.ErrCodeSSRFBlocked:
		return http.StatusForbidden
	case model.ErrCodeUserNotFound, model.ErrCodePostNotFound, model.ErrCodeAlbumNotFound:
		return http.StatusNotFound
	case model.ErrCodeEmailTaken, model.ErrCodeUsernameTaken,
		model.ErrCodeAlreadyFollowing, model.ErrCodeAlreadySaved, model.ErrCodeAlreadyInAlbum:
		return http.StatusConflict
	case model.ErrCodeInvalidRequest, model.ErrCodeInvalidFilter, model.ErrCodeInvalidURL,
		model.ErrCodeCannotFollowSelf:
		return http.StatusBadRequest
	case model.ErrCodeInvalidImage:
		return http.StatusUnsupportedMediaType
	case model.ErrCodeImageTooLarge:
		return http.StatusRequestEntityTooLarge
	case model.ErrCodeFetchFailed:
		return http.StatusBadGateway
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// WriteErrorResponse はAPIErrorを指定のステータスで書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	}); err != nil {
		slog.Warn("failed to encode error response", slog.String("error", err.Error()))
	}
}

// WriteError はサービス層のエラーを書き込む。
// ラップされたAPIErrorはそのコードのステータスで返し、それ以外は詳細を隠して500にする。
func WriteError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		WriteErrorResponse(w, StatusCode(apiErr), apiErr)
		return
	}
	slog.Error("internal server error", slog.String("error", err.Error()))
	WriteInternalServerError(w)
}

// WriteInternalServerError は汎用の500を書き込む。詳細はログ側にだけ残すこと。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}
