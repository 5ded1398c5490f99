package tests

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/trezcool/coursehub/apps/api/echo"
	"github.com/trezcool/coursehub/core"
	"github.com/trezcool/coursehub/core/user"
	"github.com/trezcool/coursehub/tests"
)

func newUserBody(t *testing.T, name, email, pwd, confirm string, role user.Role) []byte {
	return marchallObj(t, user.NewUser{Name: name, Email: email, Password: pwd, PasswordConfirm: confirm, Role: role})
}

func Test_userApi_register(t *testing.T) {
	ta := setup(t)
	existing := ta.Student(t, "Existing", "existing@test.cd")

	tests := []httpTest{
		{
			name: "missing fields", method: http.MethodPost, path: "/api/auth/register",
			body: []byte(`{}`), wantCode: http.StatusBadRequest,
		},
		{
			name: "passwords mismatch", method: http.MethodPost, path: "/api/auth/register",
			body:     newUserBody(t, "Joe", "joe@test.cd", testutil.Password, testutil.Password+"x", user.RoleStudent),
			wantCode: http.StatusBadRequest,
		},
		{
			name: "unknown role", method: http.MethodPost, path: "/api/auth/register",
			body:     newUserBody(t, "Joe", "joe@test.cd", testutil.Password, testutil.Password, "janitor"),
			wantCode: http.StatusBadRequest,
		},
		{
			name: "email taken", method: http.MethodPost, path: "/api/auth/register",
			body:     newUserBody(t, "Joe", " EXISTING@test.cd ", testutil.Password, testutil.Password, user.RoleStudent),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"email": user.ErrEmailExists.Error()}),
		},
	}
	runHTTPTests(t, ta, tests)

	t.Run("success", func(t *testing.T) {
		rec := ta.serve(httpTest{
			method: http.MethodPost, path: "/api/auth/register",
			body: newUserBody(t, " Joe ", "Joe@Test.cd", testutil.Password, testutil.Password, ""),
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		data := decode(t, rec)
		assert.NotEmpty(t, data["token"])
		usr := data["user"].(map[string]interface{})
		assert.Equal(t, "Joe", usr["name"])
		assert.Equal(t, "joe@test.cd", usr["email"])
		assert.Equal(t, string(user.RoleStudent), usr["role"])
		assert.NotContains(t, usr, "password_hash")

		stored, err := ta.UserSvc.GetByEmail(ta.ctx(), "joe@test.cd")
		require.NoError(t, err)
		assert.NotEqual(t, existing.ID, stored.ID)
	})
}

func Test_userApi_login(t *testing.T) {
	ta := setup(t)
	usr := ta.Student(t, "User", "user@test.cd")
	testutil.CreateUser(t, ta.UserRepo, "Naughty", "naughty@test.cd", user.RoleStudent, false)

	login := func(email, pwd string) []byte {
		return marchallObj(t, LoginRequest{Email: email, Password: pwd})
	}
	invalidCreds := marchallObj(t, httpErr{Error: "invalid credentials"})

	tests := []httpTest{
		{name: "missing password", method: http.MethodPost, path: "/api/auth/login", body: login("user@test.cd", ""), wantCode: http.StatusBadRequest},
		{
			name: "unknown email", method: http.MethodPost, path: "/api/auth/login",
			body: login("nobody@test.cd", testutil.Password), wantCode: http.StatusBadRequest, wantData: invalidCreds,
		},
		{
			name: "wrong password", method: http.MethodPost, path: "/api/auth/login",
			body: login("user@test.cd", "wrong"), wantCode: http.StatusBadRequest, wantData: invalidCreds,
		},
		{
			name: "inactive account", method: http.MethodPost, path: "/api/auth/login",
			body: login("naughty@test.cd", testutil.Password), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
	}
	runHTTPTests(t, ta, tests)

	t.Run("success", func(t *testing.T) {
		rec := ta.serve(httpTest{method: http.MethodPost, path: "/api/auth/login", body: login(" USER@test.cd", testutil.Password)})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		data := decode(t, rec)
		token, _ := data["token"].(string)
		assert.NotEmpty(t, token)
		assert.Equal(t, usr.ID, data["user"].(map[string]interface{})["id"])

		stored, err := ta.UserSvc.GetByID(ta.ctx(), usr.ID)
		require.NoError(t, err)
		assert.False(t, stored.LastLogin.IsZero())

		// the issued token opens authed endpoints
		me := ta.serve(httpTest{path: "/api/auth/me", token: token})
		assert.Equal(t, http.StatusOK, me.Code)
	})

	t.Run("attempts are counted", func(t *testing.T) {
		rec := ta.serve(httpTest{path: "/metrics"})
		require.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, body, `coursehub_auth_attempts_total{result="invalid_credentials"} 2`)
		assert.Contains(t, body, `coursehub_auth_attempts_total{result="inactive"} 1`)
		assert.Contains(t, body, `coursehub_auth_attempts_total{result="success"} 1`)
	})
}

func Test_userApi_me(t *testing.T) {
	ta := setup(t)
	usr := ta.Student(t, "User", "user@test.cd")
	naughty := testutil.CreateUser(t, ta.UserRepo, "Naughty", "naughty@test.cd", user.RoleStudent, false)
	ghost := user.User{ID: core.NewID(), Email: "ghost@test.cd", Role: user.RoleStudent, IsActive: true}

	tests := []httpTest{
		{name: "auth required", path: "/api/auth/me", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "invalid token", path: "/api/auth/me", token: "not.a.token", wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, httpErr{Error: "invalid or expired jwt"}),
		},
		{
			name: "unknown user", path: "/api/auth/me", token: getToken(t, ta.Conf, ghost), wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, httpErr{Error: "user not authenticated"}),
		},
		{
			name: "deactivated user", path: "/api/auth/me", token: getToken(t, ta.Conf, naughty), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
		{name: "ok", path: "/api/auth/me", token: getToken(t, ta.Conf, usr), wantData: marchallObj(t, usr)},
		{name: "profile alias", path: "/api/users/me/profile/", token: getToken(t, ta.Conf, usr), wantData: marchallObj(t, usr)},
	}
	runHTTPTests(t, ta, tests)
}

func Test_userApi_refreshToken(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		ta := setup(t)
		usr := ta.Student(t, "User", "user@test.cd")

		rec := ta.serve(httpTest{method: http.MethodPost, path: "/api/auth/token-refresh", token: getToken(t, ta.Conf, usr)})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.NotEmpty(t, decode(t, rec)["token"])
	})

	t.Run("refresh expired", func(t *testing.T) {
		ta := setup(t, func(conf *core.Config) {
			conf.Server.JWTRefreshExpirationDelta = -time.Minute
		})
		usr := ta.Student(t, "User", "user@test.cd")

		checkCodeAndData(t, httpTest{
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "refresh has expired"}),
		}, ta.serve(httpTest{method: http.MethodPost, path: "/api/auth/token-refresh", token: getToken(t, ta.Conf, usr)}))
	})
}

func Test_userApi_passwordReset(t *testing.T) {
	ta := setup(t)
	ta.Student(t, "User", "user@test.cd")
	testutil.CreateUser(t, ta.UserRepo, "Naughty", "naughty@test.cd", user.RoleStudent, false)

	success := marchallObj(t, SuccessResponse{
		Success: "If the email address supplied is associated with an active account on this system, " +
			"an email will arrive in your inbox shortly with instructions to reset your password.",
	})

	tests := []struct {
		email    string
		wantCode int
		wantSent int
	}{
		{email: "", wantCode: http.StatusBadRequest},
		{email: "nobody@test.cd", wantCode: http.StatusOK},
		{email: "naughty@test.cd", wantCode: http.StatusOK},
		{email: "USER@test.cd", wantCode: http.StatusOK, wantSent: 1},
	}
	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			ta.Mail.Reset()
			rec := ta.serve(httpTest{
				method: http.MethodPost, path: "/api/auth/password-reset",
				body: marchallObj(t, map[string]string{"email": tt.email}),
			})
			want := httpTest{wantCode: tt.wantCode}
			if tt.wantCode == http.StatusOK {
				want.wantData = success
			}
			checkCodeAndData(t, want, rec)
			assert.Len(t, ta.Mail.SentMessages(), tt.wantSent)
		})
	}

	t.Run("confirm with invalid link", func(t *testing.T) {
		rec := ta.serve(httpTest{
			method: http.MethodPost, path: "/api/auth/password-reset-confirm",
			body: marchallObj(t, user.ResetUserPassword{
				Token: "token", UID: "bad-uid", Password: testutil.Password, PasswordConfirm: testutil.Password,
			}),
		})
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "invalid password reset link"}),
		}, rec)
	})
}

func Test_authRateLimit(t *testing.T) {
	ta := setup(t, func(conf *core.Config) {
		conf.Server.AuthRateLimit = 1
		conf.Server.AuthRateBurst = 2
	})
	ta.Student(t, "User", "user@test.cd")
	body := marchallObj(t, LoginRequest{Email: "user@test.cd", Password: testutil.Password})

	for i := 0; i < 2; i++ {
		rec := ta.serve(httpTest{method: http.MethodPost, path: "/api/auth/login", body: body})
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
	}
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusTooManyRequests,
		wantData: marchallObj(t, httpErr{Error: "too many requests"}),
	}, ta.serve(httpTest{method: http.MethodPost, path: "/api/auth/login", body: body}))

	// authed endpoints are not limited
	rec := ta.serve(httpTest{path: "/api/auth/me", token: getToken(t, ta.Conf, ta.Student(t, "Other", "other@test.cd"))})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ta.serve(httpTest{path: "/metrics"})
	assert.Contains(t, rec.Body.String(), `coursehub_rate_limited_requests_total{route="/api/auth/login"} 1`)
}

func Test_authRateLimit_forwardedFor(t *testing.T) {
	login := func(ta *testApp, body []byte, remoteAddr, forwardedFor string) int {
		req, rec := newRequest(http.MethodPost, "/api/auth/login", body)
		req.RemoteAddr = remoteAddr
		req.Header.Set("X-Forwarded-For", forwardedFor)
		ta.srv.ServeHTTP(rec, req)
		return rec.Code
	}
	limitTo2 := func(conf *core.Config) {
		conf.Server.AuthRateLimit = 1
		conf.Server.AuthRateBurst = 2
	}

	t.Run("untrusted peer cannot pick its IP", func(t *testing.T) {
		ta := setup(t, limitTo2)
		ta.Student(t, "User", "user@test.cd")
		body := marchallObj(t, LoginRequest{Email: "user@test.cd", Password: testutil.Password})

		limited := 0
		for i := 0; i < 20; i++ {
			if login(ta, body, "203.0.113.7:5000", fmt.Sprintf("198.51.100.%d", i)) == http.StatusTooManyRequests {
				limited++
			}
		}
		assert.Equal(t, 18, limited)
	})

	t.Run("trusted proxy forwards client IPs", func(t *testing.T) {
		ta := setup(t, limitTo2, func(conf *core.Config) {
			conf.Server.TrustedProxies = []string{"10.0.0.0/8", "192.0.2.10"}
		})
		ta.Student(t, "User", "user@test.cd")
		body := marchallObj(t, LoginRequest{Email: "user@test.cd", Password: testutil.Password})

		for i := 0; i < 5; i++ {
			assert.Equal(t, http.StatusOK, login(ta, body, "10.1.2.3:443", fmt.Sprintf("198.51.100.%d", i)), "client %d", i)
		}

		// a spoofed entry before the real client is ignored
		assert.Equal(t, http.StatusOK, login(ta, body, "192.0.2.10:443", "1.1.1.1, 198.51.100.50"))
		assert.Equal(t, http.StatusOK, login(ta, body, "10.1.2.3:443", "2.2.2.2, 198.51.100.50"))
		assert.Equal(t, http.StatusTooManyRequests, login(ta, body, "10.1.2.3:443", "3.3.3.3, 198.51.100.50"))
	})
}
