package handler

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/hitoshi/ltme/internal/model"
)

const (
	// multipartMemory はメモリに保持するmultipartの上限。超過分は一時ファイルに退避される。
	multipartMemory = 8 << 20
	// multipartOverhead は画像以外のフィールドとmultipart境界のための余裕。
	multipartOverhead = 1 << 20
)

// parseMultipart はサイズ上限付きでmultipartフォームを解析する。
// 失敗時はエラーレスポンスを書き込みfalseを返す。呼び出し側はRemoveAllで一時ファイルを削除すること。
func parseMultipart(w http.ResponseWriter, r *http.Request, maxBytes int64) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeAPIErrorResponse(w, http.StatusRequestEntityTooLarge, model.NewImageTooLargeError(maxBytes))
			return false
		}
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("multipartフォームの解析に失敗しました。"))
		return false
	}
	return true
}

// formFile はmultipartフォームからファイルを開く。フィールドがない場合はnilを返す。
func formFile(r *http.Request, field string) (multipart.File, error) {
	f, _, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	return f, err
}

// closeFile はnilでないファイルを閉じる。
func closeFile(f io.Closer) {
	if f != nil {
		_ = f.Close()
	}
}
