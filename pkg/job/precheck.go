package job

import (
	"context"

	pkgerrors "github.com/pkg/errors"
	"golang.org/x/oauth2"
)

// TokenCheck returns a pre-check that passes once ts can hand out a token.
func TokenCheck(ts oauth2.TokenSource) TaskFunc {
	return func(context.Context) error {
		tok, err := ts.Token()
		if err != nil {
			return pkgerrors.Wrapf(err, "failed to acquire graph token")
		}
		if !tok.Valid() {
			return pkgerrors.New("graph token is not valid")
		}
		return nil
	}
}
