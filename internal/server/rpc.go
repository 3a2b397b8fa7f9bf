package server

import (
	"bytes"
	"encoding/json"
	"net/http"

	apperrors "github.com/nataliia-kulatska/gadget/internal/errors"
)

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type idParams struct {
	ID string `json:"id"`
}

// handleJSONRPC handles JSON-RPC 2.0 requests
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.respondWithError(w, codeParseError, "Parse error", nil, nil)
		return
	}

	// Validate JSON-RPC 2.0 request
	if request.JSONRPC != "2.0" || request.Method == "" {
		s.respondWithError(w, codeInvalidRequest, "Invalid Request", request.ID, nil)
		return
	}

	var result interface{}
	var err error

	switch request.Method {
	case "calibration.start":
		var req StartRequest
		if err := decodeParams(request.Params, &req); err != nil {
			s.respondWithError(w, codeInvalidParams, "Invalid params", request.ID, err.Error())
			return
		}
		result, err = s.Start(req)
	case "calibration.status":
		var p idParams
		if err := decodeParams(request.Params, &p); err != nil || p.ID == "" {
			s.respondWithError(w, codeInvalidParams, "Invalid params", request.ID, "id is required")
			return
		}
		result, err = s.Status(p.ID)
	case "calibration.cancel":
		var p idParams
		if err := decodeParams(request.Params, &p); err != nil || p.ID == "" {
			s.respondWithError(w, codeInvalidParams, "Invalid params", request.ID, "id is required")
			return
		}
		if err = s.Cancel(p.ID); err == nil {
			result = map[string]string{"status": "cancellation requested"}
		}
	case "calibration.list":
		result = s.List()
	default:
		s.respondWithError(w, codeMethodNotFound, "Method not found", request.ID, nil)
		return
	}

	if err != nil {
		s.respondWithError(w, codeServerError, "Server error", request.ID, map[string]interface{}{
			"error":  err.Error(),
			"status": apperrors.KindOf(err).HTTPStatus(),
		})
		return
	}

	response := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	}
	s.respondJSON(w, http.StatusOK, response)
}

// decodeParams accepts either a params object or a single-element array
// holding one.
func decodeParams(raw json.RawMessage, v interface{}) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return apperrors.New("missing required parameters").WithOperation("decodeParams").WithKind(apperrors.KindInvalid)
	}
	if raw[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return err
		}
		if len(list) != 1 {
			return apperrors.Errorf("expected one parameter object, got %d", len(list)).
				WithOperation("decodeParams").
				WithKind(apperrors.KindInvalid)
		}
		raw = list[0]
	}
	return json.Unmarshal(raw, v)
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}, data interface{}) {
	s.logger.Warn("RPC request error", map[string]interface{}{
		"code":    code,
		"message": message,
	})

	rpcErr := map[string]interface{}{
		"code":    code,
		"message": message,
	}
	if data != nil {
		rpcErr["data"] = data
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"error":   rpcErr,
		"id":      id,
	})
}
