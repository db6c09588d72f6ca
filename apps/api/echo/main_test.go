package echoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/auth"
	"github.com/trezcool/academia/core/course"
	"github.com/trezcool/academia/core/live"
	"github.com/trezcool/academia/core/quiz"
	"github.com/trezcool/academia/core/user"
	emailsvc "github.com/trezcool/academia/services/email"
	logsvc "github.com/trezcool/academia/services/logger"
	inmemdb "github.com/trezcool/academia/storage/database/inmem"
)

type testApp struct {
	server    *Server
	conf      *core.Config
	db        *inmemdb.DB
	usrSvc    user.ServiceInterface
	authSvc   auth.ServiceInterface
	courseSvc course.ServiceInterface
	quizSvc   quiz.ServiceInterface
	liveSvc   live.ServiceInterface
}

func testConfig() *core.Config {
	return &core.Config{
		AppName:         "Academia",
		Env:             "TEST",
		TestMode:        true,
		SecretKey:       []byte("test-secret-key"),
		FrontendBaseURL: "http://localhost:3000",
		Server: core.ServerConfig{
			Addr:            ":0",
			AccessTokenTTL:  10 * time.Minute,
			RefreshTokenTTL: 14 * 24 * time.Hour,
			InviteTokenTTL:  72 * time.Hour,
			CookieSameSite:  http.SameSiteLaxMode,
			LoginRateLimit:  1000, // out of the way unless a test lowers it
		},
	}
}

func setupApp(t *testing.T, mods ...func(*ServerDeps)) *testApp {
	t.Helper()
	emailsvc.ClearSentMessages()

	conf := testConfig()
	logger := logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), conf)
	db := inmemdb.NewDB()

	usrSvc := user.NewService(db, inmemdb.NewUserRepository(db))
	authSvc := auth.NewService(db, inmemdb.NewTokenRepository(db), usrSvc, emailsvc.NewConsoleService(conf), conf)
	courseSvc := course.NewService(db, inmemdb.NewCourseRepository(db))
	quizSvc := quiz.NewService(inmemdb.NewQuizRepository(db))
	liveSvc := live.NewService(inmemdb.NewLiveRepository(db), live.IntervalExpander{})

	validate := validator.New()
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	course.InitValidators(validate, translator)

	deps := ServerDeps{
		Conf:           conf,
		Logger:         logger,
		DB:             db,
		UserSvc:        usrSvc,
		AuthSvc:        authSvc,
		CourseSvc:      courseSvc,
		QuizSvc:        quizSvc,
		LiveSvc:        liveSvc,
		Validate:       validate,
		Translator:     translator,
		DisableReqLogs: true,
	}
	for _, mod := range mods {
		mod(&deps)
	}
	server := NewServer(deps)
	return &testApp{
		server:    server,
		conf:      conf,
		db:        db,
		usrSvc:    usrSvc,
		authSvc:   authSvc,
		courseSvc: courseSvc,
		quizSvc:   quizSvc,
		liveSvc:   liveSvc,
	}
}

func (app *testApp) createUser(t *testing.T, email, pwd string, roles ...string) user.User {
	t.Helper()
	usr, err := app.usrSvc.Create(context.Background(), user.NewUser{
		Name:            "Test User",
		Email:           email,
		Password:        pwd,
		PasswordConfirm: pwd,
		Roles:           roles,
	})
	require.NoError(t, err)
	return usr
}

func (app *testApp) token(t *testing.T, usr user.User) string {
	t.Helper()
	token, err := auth.SignToken(app.conf, auth.NewClaims(app.conf, usr))
	require.NoError(t, err)
	return token
}

func (app *testApp) createCourse(t *testing.T, ownerID, title string) course.Course {
	t.Helper()
	crs, err := app.courseSvc.Create(context.Background(), ownerID, course.NewCourse{Title: title})
	require.NoError(t, err)
	return crs
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     interface{}
	token    string
	wantCode int
	wantErr  string // expected {"error": ...} message, when set
}

func (app *testApp) request(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echoHeaderContentType, "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	app.server.ServeHTTP(rec, req)
	return rec
}

const echoHeaderContentType = "Content-Type"

func (app *testApp) run(t *testing.T, tt httpTest) *httptest.ResponseRecorder {
	t.Helper()
	rec := app.request(t, tt.method, tt.path, tt.token, tt.body)
	require.Equal(t, tt.wantCode, rec.Code, "body: %s", rec.Body.String())
	if tt.wantErr != "" {
		var body struct {
			Error string `json:"error"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, tt.wantErr, body.Error)
	}
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), "body: %s", rec.Body.String())
}

func refreshCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == "refresh_token" {
			return c
		}
	}
	return nil
}
