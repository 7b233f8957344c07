package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/wesm/issuemirror/internal/models"
)

// translate maps a go-github error onto the error taxonomy. The original
// error stays in the chain.
func translate(err error) error {
	if err == nil || isContextErr(err) {
		return err
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return &models.RateLimitError{ResetTime: rateErr.Rate.Reset.Time, Remaining: rateErr.Rate.Remaining}
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return &models.RateLimitError{ResetTime: time.Now().Add(abuseErr.GetRetryAfter())}
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		switch respErr.Response.StatusCode {
		case http.StatusNotFound, http.StatusGone:
			return fmt.Errorf("%w: %w", models.ErrNotFound, err)
		case http.StatusConflict, http.StatusPreconditionFailed, http.StatusUnprocessableEntity:
			return fmt.Errorf("%w: %w", models.ErrConflict, err)
		}
	}
	return fmt.Errorf("%w: %w", models.ErrTransport, err)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
