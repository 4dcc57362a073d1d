// Package publish sends generated content to external platforms.
//
// Every platform is a Publisher looked up through a Registry. Publishers
// report failure through Outcome.Error; they never return Go errors, so one
// platform failing cannot affect its siblings.
package publish

import (
	"postpilot/pkg/models"
)

type ErrorKind = models.ErrorKind

const (
	ErrAccountMissing      = models.ErrorAccountMissing
	ErrUnsupportedPlatform = models.ErrorUnsupportedPlatform
	ErrTimeout             = models.ErrorTimeout
	ErrRejected            = models.ErrorRejected
	ErrRateLimited         = models.ErrorRateLimited
	ErrCircuitOpen         = models.ErrorCircuitOpen
	ErrInternal            = models.ErrorInternal
)

// Outcome is the result of one publish attempt.
type Outcome struct {
	Success    bool
	ExternalID string
	Error      ErrorKind
	Detail     string
}

func Ok(externalID string) Outcome { return Outcome{Success: true, ExternalID: externalID} }

func Fail(kind ErrorKind, detail string) Outcome {
	if kind == models.ErrorNone {
		kind = ErrInternal
	}
	return Outcome{Error: kind, Detail: detail}
}

// Credential is what an adapter needs from a linked account.
type Credential struct {
	Token       string
	ExternalID  string
	AccountName string
}

func CredentialFrom(a models.LinkedAccount) Credential {
	return Credential{Token: a.Credential, ExternalID: a.ExternalID, AccountName: a.AccountName}
}
