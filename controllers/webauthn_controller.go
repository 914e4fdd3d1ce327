// controllers/webauthn_controller.go
package controllers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"

	"github.com/nawapolsungjun/borrow-it/app"
	"github.com/nawapolsungjun/borrow-it/apperr"
	"github.com/nawapolsungjun/borrow-it/logger"
	"github.com/nawapolsungjun/borrow-it/models"
	"github.com/nawapolsungjun/borrow-it/session"
)

var (
	errPasskeyLogin    = apperr.Unauthorized("passkey login failed")
	errCeremonyExpired = apperr.Validation("session expired or invalid")
)

func ceremonyErr(err error) error {
	if errors.Is(err, session.ErrNotFound) {
		return errCeremonyExpired
	}
	return apperr.Internal(err)
}

// ===== 添加新凭据（已登录） =====

func (s *Srv) BeginAddCredential(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	wUser, err := s.loadWAUserByID(ctx, who.UserID)
	if err != nil {
		app.Fail(c, err)
		return
	}

	exclude := make([]protocol.CredentialDescriptor, 0, len(wUser.creds))
	for _, cred := range wUser.creds {
		exclude = append(exclude, cred.Descriptor())
	}
	opts, sd, err := s.WA.BeginRegistration(
		wUser,
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			UserVerification: protocol.VerificationRequired,
		}),
		webauthn.WithExclusions(exclude),
	)
	if err != nil {
		app.Fail(c, apperr.Internal(err))
		return
	}

	if err := s.Sess.SaveReg(ctx, who.UserID, sd); err != nil {
		app.Fail(c, apperr.Internal(err))
		return
	}
	c.JSON(http.StatusOK, app.H{"opts": opts})
}

func (s *Srv) FinishAddCredential(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	sd, err := s.Sess.TakeReg(ctx, who.UserID)
	if err != nil {
		app.Fail(c, ceremonyErr(err))
		return
	}
	wUser, err := s.loadWAUserByID(ctx, who.UserID)
	if err != nil {
		app.Fail(c, err)
		return
	}

	cred, err := s.WA.FinishRegistration(wUser, *sd, c.Request)
	if err != nil {
		logger.Log.Debugw("passkey registration rejected", "user_id", who.UserID, "err", err)
		app.Fail(c, apperr.Validation("passkey registration failed"))
		return
	}

	if err := s.Store.AddCredential(ctx, &models.Credential{
		UserID:          who.UserID,
		CredentialID:    cred.ID,
		PublicKey:       cred.PublicKey,
		AttestationType: cred.AttestationType,
		AAGUID:          cred.Authenticator.AAGUID,
		SignCount:       cred.Authenticator.SignCount,
		CloneWarning:    cred.Authenticator.CloneWarning,
		BackupEligible:  cred.Flags.BackupEligible,
		BackupState:     cred.Flags.BackupState,
	}); err != nil {
		app.Fail(c, err)
		return
	}
	logger.Log.Infow("passkey added", "user_id", who.UserID)
	c.JSON(http.StatusOK, app.H{"ok": true})
}

// ===== 登录 =====

type loginBeginReq struct {
	Username string `json:"username"`
}
type loginBeginResp struct {
	Options   *protocol.CredentialAssertion `json:"options"`
	SessionID string                        `json:"sessionId"`
}

// BeginLogin starts a passkey login. Without a username the browser picks a
// discoverable credential.
func (s *Srv) BeginLogin(c *gin.Context) {
	var req loginBeginReq
	// 空 body 等同于 discoverable
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	var (
		opts *protocol.CredentialAssertion
		sd   *webauthn.SessionData
		err  error
	)
	if username := strings.TrimSpace(req.Username); username == "" {
		opts, sd, err = s.WA.BeginDiscoverableLogin(webauthn.WithUserVerification(protocol.VerificationRequired))
	} else {
		wUser, err2 := s.loadWAUserByUsername(ctx, username)
		if err2 != nil {
			if apperr.KindOf(err2) == apperr.KindNotFound {
				app.Fail(c, errPasskeyLogin)
			} else {
				app.Fail(c, err2)
			}
			return
		}
		if len(wUser.creds) == 0 {
			app.Fail(c, errPasskeyLogin)
			return
		}
		opts, sd, err = s.WA.BeginLogin(wUser, webauthn.WithUserVerification(protocol.VerificationRequired))
	}
	if err != nil {
		app.Fail(c, apperr.Internal(err))
		return
	}

	sid := uuid.NewString()
	if err := s.Sess.SaveAuth(ctx, sid, sd); err != nil {
		app.Fail(c, apperr.Internal(err))
		return
	}
	c.JSON(http.StatusOK, loginBeginResp{Options: opts, SessionID: sid})
}

func (s *Srv) FinishLogin(c *gin.Context) {
	sid := c.Query("sessionId")
	if sid == "" {
		app.Fail(c, apperr.Validation("missing sessionId"))
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	sd, err := s.Sess.TakeAuth(ctx, sid)
	if err != nil {
		app.Fail(c, ceremonyErr(err))
		return
	}

	var (
		user *models.User
		cred *webauthn.Credential
	)
	if len(sd.UserID) > 0 {
		// 指定了用户名的登录
		uid, err := userIDFromHandle(sd.UserID)
		if err != nil {
			app.Fail(c, errPasskeyLogin)
			return
		}
		wUser, err := s.loadWAUserByID(ctx, uid)
		if err != nil {
			app.Fail(c, errPasskeyLogin)
			return
		}
		cred, err = s.WA.FinishLogin(wUser, *sd, c.Request)
		if err != nil {
			logger.Log.Debugw("passkey login rejected", "user_id", uid, "err", err)
			app.Fail(c, errPasskeyLogin)
			return
		}
		user = &wUser.user
	} else {
		handler := func(rawID, userHandleBytes []byte) (webauthn.User, error) {
			u, _, err := s.Store.FindUserByCredentialID(ctx, rawID)
			if err != nil {
				return nil, protocol.ErrBadRequest.WithDetails("credential not found")
			}
			if uid, err := userIDFromHandle(userHandleBytes); err != nil || uid != u.ID {
				return nil, protocol.ErrBadRequest.WithDetails("user handle mismatch")
			}
			w, err := s.waUserFor(ctx, u)
			if err != nil {
				return nil, err
			}
			return w, nil
		}
		wu, found, err := s.WA.FinishPasskeyLogin(handler, *sd, c.Request)
		if err != nil {
			logger.Log.Debugw("passkey login rejected", "err", err)
			app.Fail(c, errPasskeyLogin)
			return
		}
		user = &wu.(*waUser).user
		cred = found
	}

	if err := s.Store.UpdateCredentialCounter(ctx, cred.ID, cred.Authenticator.SignCount, cred.Authenticator.CloneWarning); err != nil {
		logger.Log.Warnw("update credential counter failed", "user_id", user.ID, "err", err)
	}
	if cred.Authenticator.CloneWarning {
		logger.Log.Warnw("passkey sign count went backwards", "user_id", user.ID)
	}
	s.Auth.RecordLogin(ctx, user.ID, c.ClientIP(), c.Request.UserAgent())

	resp, err := s.issueSession(c, user)
	if err != nil {
		app.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
