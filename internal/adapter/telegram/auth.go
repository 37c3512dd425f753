package telegram

import (
	"context"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
)

// AuthInput defines an interface for interactive authentication input, used
// by the session generator to log a user account in.
type AuthInput interface {
	GetPhoneNumber() (string, error)
	GetCode() (string, error)
	GetPassword() (string, error)
}

// termAuth implements auth.UserAuthenticator using the provided AuthInput.
type termAuth struct {
	input AuthInput
}

// NewAuthFlow builds the interactive user-authentication flow for the given
// input source.
func NewAuthFlow(input AuthInput) auth.Flow {
	return auth.NewFlow(termAuth{input: input}, auth.SendCodeOptions{})
}

func (t termAuth) Phone(_ context.Context) (string, error) {
	return t.input.GetPhoneNumber()
}

func (t termAuth) Password(_ context.Context) (string, error) {
	return t.input.GetPassword()
}

func (t termAuth) AcceptTermsOfService(_ context.Context, tos tg.HelpTermsOfService) error {
	return nil // Accept implicitly
}

func (t termAuth) Code(_ context.Context, _ *tg.AuthSentCode) (string, error) {
	return t.input.GetCode()
}

func (t termAuth) SignUp(_ context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, nil // Login only; the account must exist
}
