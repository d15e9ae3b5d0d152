package http

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestJSONResponseBuilder_Basic(t *testing.T) {
	w := httptest.NewRecorder()

	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/months/2024-06").
		Body(map[string]string{"id": "abc"}).
		Write(w)

	if w.Code != http.StatusCreated {
		t.Errorf("Status code = %d, want %d", w.Code, http.StatusCreated)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if loc := w.Header().Get("Location"); loc != "/api/months/2024-06" {
		t.Errorf("Location = %q", loc)
	}
	if w.Body.String() != "{\"id\":\"abc\"}\n" {
		t.Errorf("Body = %q", w.Body.String())
	}
}

func TestJSONResponseBuilder_NoBody(t *testing.T) {
	w := httptest.NewRecorder()
	NewJSONResponse().Status(http.StatusNoContent).Write(w)

	if w.Code != http.StatusNoContent {
		t.Errorf("Status code = %d, want %d", w.Code, http.StatusNoContent)
	}
	if w.Body.Len() != 0 {
		t.Errorf("Body = %q, want empty", w.Body.String())
	}
}

func TestJSONResponseBuilder_EncodeFailure(t *testing.T) {
	w := httptest.NewRecorder()
	NewJSONResponse().Body(math.Inf(1)).Write(w)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Status code = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestErrorResponses(t *testing.T) {
	tests := []struct {
		name     string
		builder  *JSONResponseBuilder
		wantCode int
	}{
		{"BadRequest", BadRequestError("bad"), http.StatusBadRequest},
		{"Unauthorized", UnauthorizedError("no token"), http.StatusUnauthorized},
		{"NotFound", NotFoundError("missing"), http.StatusNotFound},
		{"Conflict", ConflictError("stale"), http.StatusConflict},
		{"Unprocessable", UnprocessableEntityError("invalid"), http.StatusUnprocessableEntity},
		{"TooManyRequests", TooManyRequestsError("slow down"), http.StatusTooManyRequests},
		{"Internal", InternalServerError("oops"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.builder.Write(w)

			if w.Code != tt.wantCode {
				t.Errorf("Status code = %d, want %d", w.Code, tt.wantCode)
			}
			var body ErrorBody
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Error == "" {
				t.Error("error message is empty")
			}
		})
	}
}

func TestUnauthorizedChallenge(t *testing.T) {
	w := httptest.NewRecorder()
	UnauthorizedError("no token").Write(w)

	if got := w.Header().Get("WWW-Authenticate"); got != `Bearer realm="kasa"` {
		t.Errorf("WWW-Authenticate = %q", got)
	}
}
