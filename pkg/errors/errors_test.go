package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithContext(t *testing.T) {
	cause := New("connection refused")
	err := WithContext(WithContext(cause, "dial remote"), "clone repository")

	assert.Equal(t, "clone repository: dial remote: connection refused", err.Error())
	assert.Equal(t, cause, RootCause(err))
}

func TestGetPrintableMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		exp  string
	}{
		{
			name: "Plain",
			err:  New("boom"),
			exp:  "boom",
		},
		{
			name: "Wrapped",
			err:  WithContext(New("boom"), "do thing"),
			exp:  "do thing: boom",
		},
		{
			name: "Friendly",
			err:  NewFriendlyError("please run %q first", "nebenchat setup"),
			exp:  `please run "nebenchat setup" first`,
		},
		{
			name: "WrappedFriendly",
			err:  WithContext(NewFriendlyError("config file is missing"), "parse config"),
			exp:  "config file is missing",
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.exp, GetPrintableMessage(test.err))
		})
	}
}
