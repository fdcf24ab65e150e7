package api

import (
	"encoding/json"
	"net/http"

	"ragworker/internal/domain/rag"
)

// errorResponse 统一错误体 {"error":{"code","message"}}
type errorResponse struct {
	Error rag.ErrorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code rag.ErrorCode, message string) {
	writeJSON(w, code.HTTPStatus(), &errorResponse{
		Error: rag.ErrorBody{Code: code, Message: message},
	})
}

// writeClassified 按错误分类写出状态码与错误码，返回状态码
func writeClassified(w http.ResponseWriter, err error) int {
	code := rag.Classify(err)
	writeError(w, code, err.Error())
	return code.HTTPStatus()
}
