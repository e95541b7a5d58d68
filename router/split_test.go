package router

import (
	"testing"

	"github.com/shravanasati/restserver/request"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitPath(t *testing.T) {
	testCases := []struct {
		target string
		want   []string
	}{
		{"/", []string{"/"}},
		{"/users", []string{"/", "users"}},
		{"/users/profile/", []string{"/", "users", "profile"}},
		{"//a///b", []string{"/", "a", "b"}},
		{"/search?q=a/b", []string{"/", "search"}},
		{"/files/my%20report.pdf", []string{"/", "files", "my report.pdf"}},
		{"/a%2Fb", []string{"/", "a/b"}},
	}

	for _, tc := range testCases {
		t.Run(tc.target, func(t *testing.T) {
			got, err := SplitPath(tc.target)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSplitPathErrors(t *testing.T) {
	_, err := SplitPath("users")
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, err = SplitPath("")
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, err = SplitPath("/bad%zzescape")
	assert.ErrorIs(t, err, request.ErrMalformedEscape)
}
