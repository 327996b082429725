package httputil

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name string  `json:"name"`
		Size float64 `json:"size"`
	}
	tests := []struct {
		body    string
		wantErr string
	}{
		{body: `{"name": "M31", "size": 190}`},
		{body: ``, wantErr: "request body is empty"},
		{body: `{"name": "M31", "colour": "red"}`, wantErr: "unknown field"},
		{body: `{"name": 5}`, wantErr: "invalid JSON"},
		{body: `{"name": "a"} {"name": "b"}`, wantErr: "trailing data"},
		{body: `{"name": "` + strings.Repeat("x", MaxJSONBody) + `"}`, wantErr: "larger than"},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
		var p payload
		err := DecodeJSON(httptest.NewRecorder(), r, &p)
		switch {
		case tt.wantErr == "" && err != nil:
			t.Errorf("DecodeJSON(%.40q) error: %v", tt.body, err)
		case tt.wantErr != "" && (err == nil || !strings.Contains(err.Error(), tt.wantErr)):
			t.Errorf("DecodeJSON(%.40q) = %v, want error containing %q", tt.body, err, tt.wantErr)
		}
	}
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, http.StatusConflict, "already exists")

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil || body["error"] != "already exists" {
		t.Errorf("body = %v, %v", body, err)
	}
}

func TestWriteJSONUnencodable(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusOK, map[string]float64{"mean": math.NaN()})

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil || body["error"] == "" {
		t.Errorf("body = %v, %v", body, err)
	}
}
