package auth

import (
	"context"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/user"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDeactivated = errors.New("account deactivated")
)

type (
	Repository interface {
		CreateRefreshToken(ctx context.Context, rt RefreshToken, exec ...core.DBExecutor) (RefreshToken, error)
		GetRefreshToken(ctx context.Context, hash string, exec ...core.DBExecutor) (RefreshToken, error)
		// ClaimRefreshToken atomically revokes a live token identified by its
		// hash; concurrent claims of the same hash yield exactly one winner.
		// It fails with ErrTokenNotFound, ErrTokenExpired or ErrTokenRevoked.
		ClaimRefreshToken(ctx context.Context, hash string, now time.Time, exec ...core.DBExecutor) (RefreshToken, error)
		RevokeRefreshToken(ctx context.Context, hash string, now time.Time, exec ...core.DBExecutor) error

		CreateInviteToken(ctx context.Context, it InviteToken, exec ...core.DBExecutor) (InviteToken, error)
		// ConsumeInviteToken marks a live token of the given purpose used.
		// It fails with ErrTokenNotFound, ErrTokenExpired or ErrTokenUsed.
		ConsumeInviteToken(ctx context.Context, hash string, purpose InvitePurpose, now time.Time, exec ...core.DBExecutor) (InviteToken, error)
	}

	// Session is the outcome of a successful login or refresh rotation.
	Session struct {
		User             user.User
		AccessToken      string
		AccessExpiresAt  time.Time
		RefreshToken     string // raw value; transported as an HTTP-only cookie
		RefreshExpiresAt time.Time
	}

	ServiceInterface interface {
		Authenticate(ctx context.Context, email, pwd string) (Session, error)
		IssueSession(ctx context.Context, usr user.User) (Session, error)
		VerifyAccess(token string) (*Claims, error)
		Rotate(ctx context.Context, rawRefresh string) (Session, error)
		Revoke(ctx context.Context, rawRefresh string) error

		Invite(ctx context.Context, usr user.User, exec ...core.DBExecutor) (string, error)
		Activate(ctx context.Context, a ActivateAccount) (user.User, error)
		RequestPasswordReset(ctx context.Context, email string) error
		ConfirmPasswordReset(ctx context.Context, rp ResetPassword) error
	}

	Service struct {
		db      core.DB
		repo    Repository
		usrSvc  user.ServiceInterface
		mailSvc core.EmailService
		conf    *core.Config
	}
)

var _ ServiceInterface = (*Service)(nil)

func NewService(db core.DB, repo Repository, usrSvc user.ServiceInterface, mailSvc core.EmailService, conf *core.Config) *Service {
	return &Service{
		db:      db,
		repo:    repo,
		usrSvc:  usrSvc,
		mailSvc: mailSvc,
		conf:    conf,
	}
}

// Authenticate checks email+password and opens a new session.
func (svc *Service) Authenticate(ctx context.Context, email, pwd string) (Session, error) {
	usr, err := svc.usrSvc.GetByEmail(ctx, email)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, errors.Wrap(err, "finding user by email")
	}
	if err = usr.CheckPassword(pwd); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	if !usr.Active() {
		return Session{}, ErrAccountDeactivated
	}
	if usr, err = svc.usrSvc.SetLastLogin(ctx, usr); err != nil {
		return Session{}, errors.Wrap(err, "setting last login")
	}
	return svc.IssueSession(ctx, usr)
}

// IssueSession issues a fresh access token and persists a new refresh token.
func (svc *Service) IssueSession(ctx context.Context, usr user.User) (Session, error) {
	claims := NewClaims(svc.conf, usr)
	access, err := SignToken(svc.conf, claims)
	if err != nil {
		return Session{}, err
	}

	raw, err := newRawToken()
	if err != nil {
		return Session{}, err
	}
	rt := RefreshToken{
		UserID:    usr.ID,
		TokenHash: HashToken(raw),
		ExpiresAt: time.Now().UTC().Add(svc.conf.Server.RefreshTokenTTL),
		CreatedAt: time.Now().UTC(),
	}
	if rt, err = svc.repo.CreateRefreshToken(ctx, rt); err != nil {
		return Session{}, errors.Wrap(err, "persisting refresh token")
	}

	return Session{
		User:             usr,
		AccessToken:      access,
		AccessExpiresAt:  claims.ExpiresAt.Time,
		RefreshToken:     raw,
		RefreshExpiresAt: rt.ExpiresAt,
	}, nil
}

func (svc *Service) VerifyAccess(token string) (*Claims, error) {
	return VerifyToken(svc.conf, token)
}

// Rotate exchanges a valid refresh token for a new session. The old token is
// revoked and the replacement inserted in one transaction, so two concurrent
// rotations of the same raw value produce exactly one winner.
func (svc *Service) Rotate(ctx context.Context, rawRefresh string) (Session, error) {
	var sess Session
	err := core.RunInTx(ctx, svc.db, func(tx core.DBTransactor) error {
		now := time.Now().UTC()
		old, err := svc.repo.ClaimRefreshToken(ctx, HashToken(rawRefresh), now, tx)
		if err != nil {
			return err
		}

		usr, err := svc.usrSvc.GetByID(ctx, old.UserID)
		if err != nil {
			return errors.Wrap(err, "finding token's user")
		}
		if !usr.Active() {
			return ErrAccountDeactivated
		}

		claims := NewClaims(svc.conf, usr)
		access, err := SignToken(svc.conf, claims)
		if err != nil {
			return err
		}
		raw, err := newRawToken()
		if err != nil {
			return err
		}
		rt := RefreshToken{
			UserID:    usr.ID,
			TokenHash: HashToken(raw),
			ExpiresAt: now.Add(svc.conf.Server.RefreshTokenTTL),
			CreatedAt: now,
		}
		if rt, err = svc.repo.CreateRefreshToken(ctx, rt, tx); err != nil {
			return errors.Wrap(err, "persisting refresh token")
		}

		sess = Session{
			User:             usr,
			AccessToken:      access,
			AccessExpiresAt:  claims.ExpiresAt.Time,
			RefreshToken:     raw,
			RefreshExpiresAt: rt.ExpiresAt,
		}
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Revoke marks the session's refresh token revoked. Other sessions' tokens
// are left untouched.
func (svc *Service) Revoke(ctx context.Context, rawRefresh string) error {
	return svc.repo.RevokeRefreshToken(ctx, HashToken(rawRefresh), time.Now().UTC())
}

// Invite issues an activation token for usr and emails the activation link.
// It returns the raw token so callers in the same transaction can report it.
func (svc *Service) Invite(ctx context.Context, usr user.User, exec ...core.DBExecutor) (string, error) {
	raw, err := svc.issueInviteToken(ctx, usr.ID, PurposeActivate, exec...)
	if err != nil {
		return "", err
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Activate your account",
		TemplateName: "invite",
		TemplateData: struct{ Name, Token string }{usr.Name, raw},
	})
	return raw, nil
}

type ActivateAccount struct {
	Token           string `json:"token" validate:"required"`
	Password        string `json:"password" validate:"required,min=8,notcommon"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
}

// Activate consumes an activation token and sets the account's first
// password; consumption and the password write share one transaction.
func (svc *Service) Activate(ctx context.Context, a ActivateAccount) (user.User, error) {
	var usr user.User
	err := core.RunInTx(ctx, svc.db, func(tx core.DBTransactor) error {
		it, err := svc.repo.ConsumeInviteToken(ctx, HashToken(a.Token), PurposeActivate, time.Now().UTC(), tx)
		if err != nil {
			return err
		}
		if usr, err = svc.usrSvc.GetByID(ctx, it.UserID); err != nil {
			return errors.Wrap(err, "finding token's user")
		}
		if err = svc.usrSvc.SetPassword(ctx, usr.ID, a.Password, tx); err != nil {
			return err
		}
		if err = svc.usrSvc.Activate(ctx, usr.ID, tx); err != nil {
			return errors.Wrap(err, "activating user")
		}
		usr.SetActive(true)
		usr.MustResetPassword = false
		return nil
	})
	if err != nil {
		return user.User{}, err
	}
	return usr, nil
}

// RequestPasswordReset issues a reset token and emails the reset link.
// An unknown email is not an error; callers must not leak existence.
func (svc *Service) RequestPasswordReset(ctx context.Context, email string) error {
	usr, err := svc.usrSvc.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if !usr.Active() {
		return user.ErrNotFound
	}
	raw, err := svc.issueInviteToken(ctx, usr.ID, PurposePasswordReset)
	if err != nil {
		return err
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Password reset",
		TemplateName: "password-reset",
		TemplateData: struct{ Name, Token string }{usr.Name, raw},
	})
	return nil
}

type ResetPassword struct {
	Token           string `json:"token" validate:"required"`
	Password        string `json:"password" validate:"required,min=8,notcommon"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
}

// ConfirmPasswordReset consumes a reset token and writes the new password in
// one transaction.
func (svc *Service) ConfirmPasswordReset(ctx context.Context, rp ResetPassword) error {
	return core.RunInTx(ctx, svc.db, func(tx core.DBTransactor) error {
		it, err := svc.repo.ConsumeInviteToken(ctx, HashToken(rp.Token), PurposePasswordReset, time.Now().UTC(), tx)
		if err != nil {
			return err
		}
		return svc.usrSvc.SetPassword(ctx, it.UserID, rp.Password, tx)
	})
}

func (svc *Service) issueInviteToken(ctx context.Context, userID string, purpose InvitePurpose, exec ...core.DBExecutor) (string, error) {
	raw, err := newRawToken()
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	it := InviteToken{
		UserID:    userID,
		TokenHash: HashToken(raw),
		Purpose:   purpose,
		ExpiresAt: now.Add(svc.conf.Server.InviteTokenTTL),
		CreatedAt: now,
	}
	if _, err = svc.repo.CreateInviteToken(ctx, it, exec...); err != nil {
		return "", errors.Wrap(err, "persisting invite token")
	}
	return raw, nil
}
