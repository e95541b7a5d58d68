package middleware

import (
	"crypto/subtle"
	"encoding/base64"
	"strings"

	"github.com/shravanasati/restserver/request"
	"github.com/shravanasati/restserver/response"
	"github.com/shravanasati/restserver/server"
)

type Account struct {
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

func unauthorized() response.Response {
	return response.NewTextResponse(response.GetStatusReason(response.StatusUnauthorized)).
		WithStatusCode(response.StatusUnauthorized).
		WithHeader("www-authenticate", `Basic realm="Restricted"`)
}

// BasicAuth rejects requests without valid HTTP basic credentials for one
// of accounts.
func BasicAuth(accounts []Account) server.Middleware {
	accountMap := make(map[string]string)
	for _, acc := range accounts {
		accountMap[acc.Username] = acc.Password
	}

	return func(next server.Handler) server.Handler {
		return server.HandlerFunc(func(sink server.ResponseSink, r *request.Request) {
			auth := r.Headers.Get("Authorization")

			if !strings.HasPrefix(auth, "Basic ") {
				sink.Send(unauthorized())
				return
			}

			payload, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
			if err != nil {
				sink.SendBadRequest("Invalid authorization header")
				return
			}

			user, pass, ok := strings.Cut(string(payload), ":")
			if !ok {
				sink.SendBadRequest("Invalid authorization header")
				return
			}

			actualPass, ok := accountMap[user]
			if !ok || subtle.ConstantTimeCompare([]byte(actualPass), []byte(pass)) != 1 {
				sink.Send(unauthorized())
				return
			}

			next.ServeRequest(sink, r)
		})
	}
}
