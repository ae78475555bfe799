package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/liamwears/reelstream/internal/auth"
	"github.com/liamwears/reelstream/internal/database"
	"github.com/liamwears/reelstream/internal/logging"
	"github.com/liamwears/reelstream/internal/media"
	"github.com/liamwears/reelstream/internal/metrics"
	"github.com/liamwears/reelstream/internal/middleware"
	"github.com/liamwears/reelstream/internal/models"
	"github.com/liamwears/reelstream/internal/services"
	"github.com/liamwears/reelstream/internal/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testEnv struct {
	handler    http.Handler
	media      *testutil.MockMediaStore
	movies     *testutil.MovieStore
	accounts   *testutil.AccountStore
	accountSvc *services.AccountService
	authH      *AuthHandler
}

func newTestEnv(t *testing.T, production bool, oauthCfg AuthConfig) *testEnv {
	t.Helper()
	logger := logging.Discard()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	env := &testEnv{
		media:    &testutil.MockMediaStore{},
		accounts: testutil.NewAccountStore(),
	}
	env.movies = testutil.NewMovieStore(env.accounts)

	tokens := auth.NewTokenIssuer(testSecret, time.Hour)
	revocations := database.NewTokenRevocationStore(rdb)
	gate := auth.NewGate(tokens, revocations)

	movieSvc := services.NewMovieService(env.movies, env.media, 1<<20, logger)
	env.accountSvc = services.NewAccountService(env.accounts, tokens, revocations, logger)
	env.authH = NewAuthHandler(env.accountSvc, database.NewOAuthStateStore(rdb, 0), oauthCfg, logger, production)

	env.handler = NewRouter(Router{
		Movies:         NewMovieHandler(movieSvc, logger, production),
		Admin:          NewAdminHandler(movieSvc, 1<<20, logger, production),
		Auth:           env.authH,
		Health:         NewHealthHandler(okChecker{}, okChecker{}, logger),
		Metrics:        metrics.Handler(),
		AuthMiddleware: middleware.NewAuthMiddleware(gate),
	})
	t.Cleanup(func() { env.media.AssertExpectations(t) })
	return env
}

type okChecker struct{ err error }

func (c okChecker) Health(ctx context.Context) error { return c.err }

func (e *testEnv) adminToken(t *testing.T) string {
	t.Helper()
	_, _, err := e.accountSvc.SeedAdmin(context.Background(), "root", "root@example.com", "supersecret")
	require.NoError(t, err)
	resp, err := e.accountSvc.Login(context.Background(), models.LoginInput{Email: "root@example.com", Password: "supersecret"})
	require.NoError(t, err)
	return resp.Token
}

func (e *testEnv) userToken(t *testing.T, name string) string {
	t.Helper()
	resp, err := e.accountSvc.Register(context.Background(), models.RegisterInput{
		Username: name, Email: name + "@example.com", Password: "hunter22",
	})
	require.NoError(t, err)
	return resp.Token
}

func novaFields() map[string]string {
	return map[string]string{
		"title":       "Nova",
		"description": "A star is born",
		"genre":       "Sci-Fi, Drama",
		"releaseYear": "2021",
		"duration":    "118",
		"featured":    "true",
	}
}

func novaFiles() []testutil.FilePart {
	return []testutil.FilePart{
		{Field: "poster", Filename: "nova.jpg", ContentType: "image/jpeg", Data: []byte("jpeg")},
		{Field: "video", Filename: "nova.mp4", ContentType: "video/mp4", Data: []byte("mp4!")},
	}
}

func (e *testEnv) postMovie(t *testing.T, token string, fields map[string]string, files ...testutil.FilePart) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := testutil.Multipart(t, fields, files...)
	req := httptest.NewRequest(http.MethodPost, "/api/admin/movies", body)
	req.Header.Set("Content-Type", contentType)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) expectNovaUploads() {
	e.media.On("Upload", mock.Anything, mock.Anything, testutil.InFolder(media.PosterFolder, media.ResourceImage)).
		Return(testutil.CloudinaryAsset(media.PosterFolder, "nova", "jpg", media.ResourceImage), nil).Once()
	e.media.On("Upload", mock.Anything, mock.Anything, testutil.InFolder(media.VideoFolder, media.ResourceVideo)).
		Return(testutil.CloudinaryAsset(media.VideoFolder, "nova", "mp4", media.ResourceVideo), nil).Once()
}

func TestNovaLifecycle(t *testing.T) {
	env := newTestEnv(t, false, AuthConfig{})
	admin := env.adminToken(t)
	viewer := env.userToken(t, "viewer")
	env.expectNovaUploads()

	rr := env.postMovie(t, admin, novaFields(), novaFiles()...)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var created models.Movie
	testutil.DecodeJSON(t, rr, &created)
	assert.Equal(t, "Nova", created.Title)
	assert.Equal(t, []string{"Sci-Fi", "Drama"}, created.Genre)
	assert.Equal(t, "root", created.UploadedBy.Username)
	assert.True(t, created.Featured)
	assert.Contains(t, created.PosterURL, "/movie-posters/nova.jpg")

	id := created.ID.String()

	// Public reads
	rr = testutil.Do(t, env.handler, http.MethodGet, "/api/movies", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list []models.Movie
	testutil.DecodeJSON(t, rr, &list)
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)

	for _, path := range []string{"/api/movies/featured", "/api/movies/search/sci-fi", "/api/movies/search/STAR", "/api/movies/search"} {
		rr = testutil.Do(t, env.handler, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusOK, rr.Code, path)
		testutil.DecodeJSON(t, rr, &list)
		assert.Len(t, list, 1, path)
	}

	rr = testutil.Do(t, env.handler, http.MethodGet, "/api/movies/search/western", "", nil)
	testutil.DecodeJSON(t, rr, &list)
	assert.Empty(t, list)

	// Rating
	rr = testutil.Do(t, env.handler, http.MethodPost, "/api/movies/"+id+"/rate", viewer, map[string]float64{"rating": 8.5})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var rated models.Movie
	testutil.DecodeJSON(t, rr, &rated)
	assert.Equal(t, 8.5, rated.Rating)

	rr = testutil.Do(t, env.handler, http.MethodPost, "/api/movies/"+id+"/rate", viewer, map[string]float64{"rating": 11})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = testutil.Do(t, env.handler, http.MethodPost, "/api/movies/"+id+"/rate", "", map[string]float64{"rating": 5})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	// Update
	rr = testutil.Do(t, env.handler, http.MethodPut, "/api/admin/movies/"+id, admin, map[string]interface{}{
		"title":    "Nova Redux",
		"featured": false,
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var updated models.Movie
	testutil.DecodeJSON(t, rr, &updated)
	assert.Equal(t, "Nova Redux", updated.Title)
	assert.False(t, updated.Featured)
	assert.Equal(t, 8.5, updated.Rating)
	assert.Equal(t, created.PosterURL, updated.PosterURL)

	// Delete
	env.media.On("Delete", mock.Anything, "movie-posters/nova", media.ResourceImage).Return(nil).Once()
	env.media.On("Delete", mock.Anything, "movie-videos/nova", media.ResourceVideo).Return(nil).Once()

	rr = testutil.Do(t, env.handler, http.MethodDelete, "/api/admin/movies/"+id, admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var ack messageBody
	testutil.DecodeJSON(t, rr, &ack)
	assert.Equal(t, "Movie deleted successfully", ack.Message)

	rr = testutil.Do(t, env.handler, http.MethodGet, "/api/movies/"+id, "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCreate_AccessControl(t *testing.T) {
	env := newTestEnv(t, false, AuthConfig{})
	viewer := env.userToken(t, "viewer")

	rr := env.postMovie(t, "", novaFields(), novaFiles()...)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = env.postMovie(t, viewer, novaFields(), novaFiles()...)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = testutil.Do(t, env.handler, http.MethodGet, "/api/admin/movies", viewer, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	env.media.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, 0, env.movies.Len())
}

func TestCreate_ValidationListsFields(t *testing.T) {
	env := newTestEnv(t, false, AuthConfig{})
	admin := env.adminToken(t)

	rr := env.postMovie(t, admin, map[string]string{"title": "Nova"},
		testutil.FilePart{Field: "poster", Filename: "poster.txt", ContentType: "text/plain", Data: []byte("x")})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	var body errorBody
	testutil.DecodeJSON(t, rr, &body)
	fields := map[string]bool{}
	for _, f := range body.Fields {
		fields[f.Field] = true
	}
	for _, want := range []string{"description", "genre", "releaseYear", "duration", "poster", "video"} {
		assert.True(t, fields[want], "missing %s in %v", want, body.Fields)
	}
	assert.False(t, fields["title"])
	env.media.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/movies", strings.NewReader(`{"title":"Nova"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+admin)
	rr = httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCreate_UploadFailure(t *testing.T) {
	for _, production := range []bool{false, true} {
		env := newTestEnv(t, production, AuthConfig{})
		admin := env.adminToken(t)
		env.media.On("Upload", mock.Anything, mock.Anything, testutil.InFolder(media.PosterFolder, media.ResourceImage)).
			Return(nil, errors.New("cloudinary: 503")).Once()

		rr := env.postMovie(t, admin, novaFields(), novaFiles()...)
		require.Equal(t, http.StatusInternalServerError, rr.Code)

		var body errorBody
		testutil.DecodeJSON(t, rr, &body)
		assert.Equal(t, "Failed to upload poster", body.Error)
		if production {
			assert.Empty(t, body.Detail)
		} else {
			assert.Contains(t, body.Detail, "cloudinary: 503")
		}
		assert.Equal(t, 0, env.movies.Len())
	}
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t, false, AuthConfig{})
	admin := env.adminToken(t)

	for _, path := range []string{"/api/movies/not-a-uuid", "/api/movies/00000000-0000-0000-0000-000000000001"} {
		rr := testutil.Do(t, env.handler, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusNotFound, rr.Code, path)
	}

	rr := testutil.Do(t, env.handler, http.MethodDelete, "/api/admin/movies/00000000-0000-0000-0000-000000000001", admin, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = testutil.Do(t, env.handler, http.MethodPut, "/api/admin/movies/nope", admin, map[string]string{"title": "x"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestServerErrorDetail(t *testing.T) {
	tests := []struct {
		production bool
		wantDetail bool
	}{
		{production: false, wantDetail: true},
		{production: true, wantDetail: false},
	}

	for _, tt := range tests {
		env := newTestEnv(t, tt.production, AuthConfig{})
		env.movies.Err = errors.New("connection refused")

		rr := testutil.Do(t, env.handler, http.MethodGet, "/api/movies", "", nil)
		require.Equal(t, http.StatusInternalServerError, rr.Code)

		var body errorBody
		testutil.DecodeJSON(t, rr, &body)
		assert.Equal(t, "Something went wrong!", body.Error)
		assert.Equal(t, tt.wantDetail, body.Detail != "", "production=%v", tt.production)
	}
}

func TestAuthRoutes(t *testing.T) {
	env := newTestEnv(t, false, AuthConfig{})

	rr := testutil.Do(t, env.handler, http.MethodPost, "/api/auth/register", "", models.RegisterInput{
		Username: "nova", Email: "nova@example.com", Password: "hunter22",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.NotContains(t, rr.Body.String(), "password")

	rr = testutil.Do(t, env.handler, http.MethodPost, "/api/auth/register", "", models.RegisterInput{
		Username: "nova", Email: "other@example.com", Password: "hunter22",
	})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = testutil.Do(t, env.handler, http.MethodPost, "/api/auth/login", "", models.LoginInput{Email: "nova@example.com", Password: "nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = testutil.Do(t, env.handler, http.MethodPost, "/api/auth/login", "", models.LoginInput{Email: "nova@example.com", Password: "hunter22"})
	require.Equal(t, http.StatusOK, rr.Code)
	var login models.AuthResponse
	testutil.DecodeJSON(t, rr, &login)
	assert.Equal(t, models.RoleUser, login.User.Role)

	rr = testutil.Do(t, env.handler, http.MethodGet, "/api/auth/me", login.Token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var me models.Account
	testutil.DecodeJSON(t, rr, &me)
	assert.Equal(t, "nova", me.Username)

	rr = testutil.Do(t, env.handler, http.MethodPost, "/api/auth/logout", login.Token, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = testutil.Do(t, env.handler, http.MethodGet, "/api/auth/me", login.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestExpiredToken(t *testing.T) {
	env := newTestEnv(t, false, AuthConfig{})

	expired := auth.NewTokenIssuer(testSecret, time.Nanosecond)
	account, err := env.accounts.Create(context.Background(), &models.Account{Username: "late", Email: "late@example.com", Role: models.RoleUser})
	require.NoError(t, err)
	token, _, err := expired.Issue(account)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	rr := testutil.Do(t, env.handler, http.MethodGet, "/api/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestOAuth(t *testing.T) {
	provider := http.NewServeMux()
	provider.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"gh-token","token_type":"bearer"}`))
	})
	provider.HandleFunc("GET /user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer gh-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"id":42,"login":"octocat","name":"","email":""}`))
	})
	provider.HandleFunc("GET /user/emails", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"email":"octo@example.com","primary":true,"verified":true}]`))
	})
	srv := httptest.NewServer(provider)
	t.Cleanup(srv.Close)

	env := newTestEnv(t, false, AuthConfig{GitHubClientID: "client", GitHubClientSecret: "secret", CallbackHost: "http://localhost:5000"})
	gh := env.authH.providers["github"]
	require.NotNil(t, gh)
	gh.config.Endpoint = oauth2.Endpoint{AuthURL: srv.URL + "/authorize", TokenURL: srv.URL + "/token"}
	gh.profile = githubProfile(srv.URL)

	rr := testutil.Do(t, env.handler, http.MethodGet, "/api/auth/google/login", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = testutil.Do(t, env.handler, http.MethodGet, "/api/auth/github/login", "", nil)
	require.Equal(t, http.StatusTemporaryRedirect, rr.Code)
	loc, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)

	rr = testutil.Do(t, env.handler, http.MethodGet, "/api/auth/github/callback?state=forged&code=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = testutil.Do(t, env.handler, http.MethodGet, "/api/auth/github/callback?state="+url.QueryEscape(state)+"&code=abc", "", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp models.AuthResponse
	testutil.DecodeJSON(t, rr, &resp)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "octocat", resp.User.Username)
	assert.Equal(t, "octo@example.com", resp.User.Email)
	assert.Equal(t, models.ProviderGitHub, resp.User.Provider)

	// State is single use.
	rr = testutil.Do(t, env.handler, http.MethodGet, "/api/auth/github/callback?state="+url.QueryEscape(state)+"&code=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	logger := logging.Discard()
	healthy := NewHealthHandler(okChecker{}, okChecker{}, logger)
	rr := httptest.NewRecorder()
	healthy.Check(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok","database":"up","redis":"up"}`, rr.Body.String())

	sick := NewHealthHandler(okChecker{}, okChecker{err: errors.New("down")}, logger)
	rr = httptest.NewRecorder()
	sick.Check(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.JSONEq(t, `{"status":"unhealthy","database":"up","redis":"down"}`, rr.Body.String())

	env := newTestEnv(t, false, AuthConfig{})
	rr = testutil.Do(t, env.handler, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}
