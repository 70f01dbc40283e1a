package bot

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"assignbot/internal/erp"
	"assignbot/internal/service"
)

// Frappe API key/secret shapes.
var (
	apiKeyRe    = regexp.MustCompile(`^[A-Fa-f0-9]{15}$`)
	apiSecretRe = regexp.MustCompile(`^[A-Fa-f0-9]{15,16}$`)
)

type credStage int

const (
	credAwaitingKey credStage = iota + 1
	credAwaitingSecret
)

type credSession struct {
	stage credStage
	key   string
}

// CredOutcome reports what a consumed message did to the dialog, so the
// controller can mirror a finished verification into the manager's group.
type CredOutcome int

const (
	CredContinue CredOutcome = iota
	CredVerified
	CredRejected
)

// Verifier activates credentials after a gateway identity check.
type Verifier interface {
	VerifyAndActivate(ctx context.Context, userID int64, key, secret string) error
	ResetCredentials(ctx context.Context, userID int64) error
}

// CredentialDialog runs the private key → secret → verify conversation.
// Nothing is persisted until verification succeeds.
type CredentialDialog struct {
	mu       sync.Mutex
	sessions *Sessions[*credSession]
	verifier Verifier
}

// NewCredentialDialog builds the dialog engine.
func NewCredentialDialog(verifier Verifier, ttl time.Duration) *CredentialDialog {
	sweep := ttl / 4
	if sweep <= 0 {
		sweep = time.Minute
	}
	return &CredentialDialog{
		sessions: NewSessions[*credSession](ttl, sweep),
		verifier: verifier,
	}
}

// Stop terminates background eviction.
func (d *CredentialDialog) Stop() { d.sessions.Stop() }

// InProgress reports whether the user has a live dialog.
func (d *CredentialDialog) InProgress(userID int64) bool {
	_, ok := d.sessions.Get(sessionKey{User: userID})
	return ok
}

// Reset clears any stored credential and starts the dialog over.
func (d *CredentialDialog) Reset(ctx context.Context, userID int64) (Reply, error) {
	if err := d.verifier.ResetCredentials(ctx, userID); err != nil {
		return Reply{}, err
	}
	d.sessions.Put(sessionKey{User: userID}, &credSession{stage: credAwaitingKey})
	return textReply(textCredsReset + " " + textAskAPIKey), nil
}

// Prompt starts the dialog without clearing anything, used right after an
// assignment to onboard the new manager.
func (d *CredentialDialog) Prompt(userID int64) Reply {
	d.sessions.Put(sessionKey{User: userID}, &credSession{stage: credAwaitingKey})
	return textReply(textAskAPIKey)
}

// HandleText feeds a private message into the dialog. The boolean reports
// whether a dialog consumed the input.
func (d *CredentialDialog) HandleText(ctx context.Context, userID int64, text string) (Reply, CredOutcome, bool, error) {
	k := sessionKey{User: userID}
	sess, ok := d.sessions.Get(k)
	if !ok {
		return Reply{}, CredContinue, false, nil
	}
	text = strings.TrimSpace(text)

	d.mu.Lock()
	st := sess.stage
	d.mu.Unlock()

	switch st {
	case credAwaitingKey:
		if !apiKeyRe.MatchString(text) {
			return textReply(textBadAPIKey), CredContinue, true, nil
		}
		d.mu.Lock()
		sess.key = text
		sess.stage = credAwaitingSecret
		d.mu.Unlock()
		return textReply(textAskAPISecret), CredContinue, true, nil

	default: // credAwaitingSecret
		if !apiSecretRe.MatchString(text) {
			return textReply(textBadAPISecret), CredContinue, true, nil
		}
		d.mu.Lock()
		key := sess.key
		d.mu.Unlock()

		err := d.verifier.VerifyAndActivate(ctx, userID, key, text)
		switch {
		case err == nil:
			d.sessions.Delete(k)
			return textReply(textCredsVerified), CredVerified, true, nil
		case errors.Is(err, service.ErrCredentialRejected):
			d.sessions.Delete(k)
			return textReply(textCredsRejected), CredRejected, true, nil
		case errors.Is(err, erp.ErrUnavailable):
			// Transient: keep the dialog so the user can resend the secret.
			return textReply(textGatewayDown), CredContinue, true, nil
		default:
			d.sessions.Delete(k)
			return Reply{}, CredContinue, true, err
		}
	}
}
