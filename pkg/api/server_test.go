package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dkalashnik/openwrite/pkg/prompt"
	"github.com/dkalashnik/openwrite/pkg/state"
	"github.com/dkalashnik/openwrite/pkg/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakePrompts struct {
	p   state.Prompt
	err error
}

func (f *fakePrompts) Today(context.Context) (state.Prompt, error) { return f.p, f.err }

type fakeUsers struct {
	users map[string]storage.User
	err   error
}

func (f *fakeUsers) UserByToken(_ context.Context, token string) (storage.User, error) {
	if f.err != nil {
		return storage.User{}, f.err
	}
	u, ok := f.users[token]
	if !ok {
		return storage.User{}, storage.ErrNotFound
	}
	return u, nil
}

type fakeSubmissions struct {
	saved []storage.Submission
	err   error
}

func (f *fakeSubmissions) SaveSubmission(_ context.Context, sub *storage.Submission) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, *sub)
	return nil
}

type fakeWaitlist struct {
	emails map[string]bool
	err    error
}

func (f *fakeWaitlist) Subscribe(_ context.Context, email string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.emails == nil {
		f.emails = map[string]bool{}
	}
	if f.emails[email] {
		return false, nil
	}
	f.emails[email] = true
	return true, nil
}

type fakeProfiles struct {
	taken     map[string]uuid.UUID
	usernames map[uuid.UUID]string
	err       error
}

func (f *fakeProfiles) UpdateUsername(_ context.Context, userID uuid.UUID, username string) error {
	if f.err != nil {
		return f.err
	}
	if owner, ok := f.taken[username]; ok && owner != userID {
		return storage.ErrUsernameTaken
	}
	if f.taken == nil {
		f.taken = map[string]uuid.UUID{}
		f.usernames = map[uuid.UUID]string{}
	}
	f.taken[username] = userID
	f.usernames[userID] = username
	return nil
}

type mailCall struct{ to, prompt, text string }

type fakeMailer struct {
	calls []mailCall
	err   error
}

func (f *fakeMailer) SendSubmission(_ context.Context, to, p, text string) error {
	f.calls = append(f.calls, mailCall{to, p, text})
	return f.err
}

type harness struct {
	prompts     *fakePrompts
	users       *fakeUsers
	submissions *fakeSubmissions
	profiles    *fakeProfiles
	waitlist    *fakeWaitlist
	mailer      *fakeMailer
	router      *gin.Engine
	writer      storage.User
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	writer := storage.User{ID: uuid.New(), Name: "Ada"}
	h := &harness{
		prompts:     &fakePrompts{p: state.Prompt{ID: "42", Text: "Describe a color you've never seen."}},
		users:       &fakeUsers{users: map[string]storage.User{"good-token": writer}},
		submissions: &fakeSubmissions{},
		profiles:    &fakeProfiles{},
		waitlist:    &fakeWaitlist{},
		mailer:      &fakeMailer{},
		writer:      writer,
	}
	h.router = NewRouter(Deps{
		Prompts:     h.prompts,
		Users:       h.users,
		Submissions: h.submissions,
		Profiles:    h.profiles,
		Waitlist:    h.waitlist,
		Mailer:      h.mailer,
	})
	return h
}

func (h *harness) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not JSON: %v (%s)", err, rec.Body.String())
	}
	return out
}

func TestGetPromptReturnsNumericID(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/api/get-prompt", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decode(t, rec)
	if body["id"] != float64(42) {
		t.Fatalf("expected numeric id 42, got %#v", body["id"])
	}
	if body["prompt_text"] != "Describe a color you've never seen." {
		t.Fatalf("unexpected prompt_text %#v", body["prompt_text"])
	}
}

func TestGetPromptNotFound(t *testing.T) {
	for _, err := range []error{prompt.ErrPromptUnavailable, errors.New("connection refused")} {
		h := newHarness(t)
		h.prompts.err = err
		rec := h.do(http.MethodGet, "/api/get-prompt", "", nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%v: expected 404, got %d", err, rec.Code)
		}
		if _, ok := decode(t, rec)["error"]; !ok {
			t.Fatalf("%v: expected error field", err)
		}
	}
}

func TestSaveSubmission(t *testing.T) {
	auth := map[string]string{"Authorization": "Bearer good-token"}
	valid := `{"promptId": 42, "submissionText": "hello", "isAnonymous": true}`

	cases := []struct {
		name    string
		body    string
		headers map[string]string
		saveErr error
		want    int
	}{
		{"created", valid, auth, nil, http.StatusCreated},
		{"no token", valid, nil, nil, http.StatusUnauthorized},
		{"wrong scheme", valid, map[string]string{"Authorization": "Basic good-token"}, nil, http.StatusUnauthorized},
		{"unknown token", valid, map[string]string{"Authorization": "Bearer nope"}, nil, http.StatusUnauthorized},
		{"string prompt id", `{"promptId": "42", "submissionText": "x", "isAnonymous": false}`, auth, nil, http.StatusBadRequest},
		{"missing anonymity", `{"promptId": 42, "submissionText": "x"}`, auth, nil, http.StatusBadRequest},
		{"missing text", `{"promptId": 42, "isAnonymous": false}`, auth, nil, http.StatusBadRequest},
		{"not json", `promptId=42`, auth, nil, http.StatusBadRequest},
		{"store failure", valid, auth, errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.submissions.err = tc.saveErr
			rec := h.do(http.MethodPost, "/api/save-submission", tc.body, tc.headers)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d (%s)", tc.want, rec.Code, rec.Body.String())
			}
			if tc.want != http.StatusCreated {
				if len(h.submissions.saved) != 0 {
					t.Fatalf("expected nothing saved, got %v", h.submissions.saved)
				}
				return
			}
			if len(h.submissions.saved) != 1 {
				t.Fatalf("expected one saved submission, got %d", len(h.submissions.saved))
			}
			got := h.submissions.saved[0]
			if got.UserID != h.writer.ID || got.PromptID != 42 || got.SubmissionText != "hello" || !got.IsAnonymous {
				t.Fatalf("unexpected submission %+v", got)
			}
		})
	}
}

func TestSaveSubmissionTokenLookupFailure(t *testing.T) {
	h := newHarness(t)
	h.users.err = errors.New("db down")
	rec := h.do(http.MethodPost, "/api/save-submission", `{"promptId":1,"submissionText":"x","isAnonymous":false}`,
		map[string]string{"Authorization": "Bearer good-token"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestSendSubmissionAcceptsBothFieldNames(t *testing.T) {
	bodies := []string{
		`{"userEmail": "a@b.c", "prompt": "P", "submissionText": "T"}`,
		`{"recipientEmail": "a@b.c", "promptText": "P", "submissionText": "T"}`,
	}
	for _, body := range bodies {
		h := newHarness(t)
		rec := h.do(http.MethodPost, "/api/send-submission", body, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d (%s)", body, rec.Code, rec.Body.String())
		}
		if len(h.mailer.calls) != 1 || h.mailer.calls[0] != (mailCall{"a@b.c", "P", "T"}) {
			t.Fatalf("%s: unexpected mail calls %v", body, h.mailer.calls)
		}
		if !h.waitlist.emails["a@b.c"] {
			t.Fatalf("%s: expected recipient registered on the waitlist", body)
		}
	}
}

func TestSendSubmissionValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"no at sign", `{"userEmail": "nope", "prompt": "P", "submissionText": "T"}`},
		{"no prompt", `{"userEmail": "a@b.c", "submissionText": "T"}`},
		{"no text", `{"userEmail": "a@b.c", "prompt": "P"}`},
		{"text not string", `{"userEmail": "a@b.c", "prompt": "P", "submissionText": 5}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			rec := h.do(http.MethodPost, "/api/send-submission", tc.body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			if len(h.mailer.calls) != 0 {
				t.Fatalf("expected no mail sent")
			}
		})
	}
}

func TestSendSubmissionWaitlistFailureIsBestEffort(t *testing.T) {
	h := newHarness(t)
	h.waitlist.err = errors.New("db down")
	rec := h.do(http.MethodPost, "/api/send-submission", `{"userEmail": "a@b.c", "prompt": "P", "submissionText": ""}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 despite waitlist failure, got %d", rec.Code)
	}
}

func TestSendSubmissionMailFailure(t *testing.T) {
	h := newHarness(t)
	h.mailer.err = errors.New("smtp down")
	rec := h.do(http.MethodPost, "/api/send-submission", `{"userEmail": "a@b.c", "prompt": "P", "submissionText": "T"}`, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if h.waitlist.emails["a@b.c"] {
		t.Fatalf("expected no waitlist registration when mail fails")
	}
}

func TestSendSubmissionWithoutMailer(t *testing.T) {
	router := NewRouter(Deps{Prompts: &fakePrompts{}})
	req := httptest.NewRequest(http.MethodPost, "/api/send-submission", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestSubscribe(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/api/subscribe", `{"email": "Writer@Example.COM"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if !h.waitlist.emails["writer@example.com"] {
		t.Fatalf("expected lower-cased email stored, got %v", h.waitlist.emails)
	}

	rec = h.do(http.MethodPost, "/api/subscribe", `{"email": "writer@example.com"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for duplicate, got %d", rec.Code)
	}
	if msg := decode(t, rec)["message"]; msg != "This email address is already registered!" {
		t.Fatalf("unexpected message %#v", msg)
	}

	rec = h.do(http.MethodPost, "/api/subscribe", `{"email": "nope"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	h.waitlist.err = errors.New("db down")
	rec = h.do(http.MethodPost, "/api/subscribe", `{"email": "x@y.z"}`, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	healthy := true
	router := NewRouter(Deps{Health: func(context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("ping failed")
	}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	healthy = false
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestBearerToken(t *testing.T) {
	cases := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer  abc ", "abc", true},
		{"Bearer", "", false},
		{"Bearer ", "", false},
		{"Token abc", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		token, ok := bearerToken(tc.header)
		if token != tc.token || ok != tc.ok {
			t.Fatalf("bearerToken(%q) = (%q, %v), want (%q, %v)", tc.header, token, ok, tc.token, tc.ok)
		}
	}
}

func TestPreflightIsAnsweredByCORS(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodOptions, "/api/subscribe", "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected open CORS origin, got %q", got)
	}
	if len(h.waitlist.emails) != 0 {
		t.Fatalf("preflight must not reach the handler")
	}
}

func TestUpdateProfile(t *testing.T) {
	auth := map[string]string{"Authorization": "Bearer good-token"}

	cases := []struct {
		name    string
		body    string
		headers map[string]string
		taken   bool
		err     error
		want    int
	}{
		{"updated", `{"username": "ada_l"}`, auth, false, nil, http.StatusOK},
		{"no token", `{"username": "ada_l"}`, nil, false, nil, http.StatusUnauthorized},
		{"too short", `{"username": "ab"}`, auth, false, nil, http.StatusBadRequest},
		{"too long", `{"username": "abcdefghijklmnopqrstu"}`, auth, false, nil, http.StatusBadRequest},
		{"upper case", `{"username": "Ada"}`, auth, false, nil, http.StatusBadRequest},
		{"punctuation", `{"username": "ada-l"}`, auth, false, nil, http.StatusBadRequest},
		{"not a string", `{"username": 12345}`, auth, false, nil, http.StatusBadRequest},
		{"taken", `{"username": "ada_l"}`, auth, true, nil, http.StatusConflict},
		{"store failure", `{"username": "ada_l"}`, auth, false, errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.profiles.err = tc.err
			if tc.taken {
				h.profiles.taken = map[string]uuid.UUID{"ada_l": uuid.New()}
				h.profiles.usernames = map[uuid.UUID]string{}
			}
			rec := h.do(http.MethodPost, "/api/profile", tc.body, tc.headers)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d (%s)", tc.want, rec.Code, rec.Body.String())
			}
			if tc.want == http.StatusOK && h.profiles.usernames[h.writer.ID] != "ada_l" {
				t.Fatalf("expected username stored for the signed-in writer, got %v", h.profiles.usernames)
			}
		})
	}
}
