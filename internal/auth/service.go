// Package auth registers users, verifies credentials and manages profile
// changes for the signed-in user.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"miaomiao/internal/core"
	"miaomiao/internal/ledger"
	"miaomiao/internal/log"
	"miaomiao/internal/session"
)

// MinPasswordLength applies to registration and password changes.
const MinPasswordLength = 6

// Errors carry the messages shown to the user.
var (
	ErrAccountNotFound   = errors.New("账号不存在")
	ErrWrongPassword     = errors.New("密码错误")
	ErrPhoneTaken        = errors.New("手机号已被注册")
	ErrPasswordTooShort  = errors.New("密码长度不能少于6位")
	ErrOldPasswordWrong  = errors.New("原密码错误")
	ErrTooManyAttempts   = errors.New("登录失败次数过多，请稍后再试")
	ErrMissingCredential = errors.New("手机号和密码不能为空")
)

const msgRegistered = "注册成功"

// Option configures a Service.
type Option func(*Service)

// WithHashCost sets the bcrypt cost; tests use bcrypt.MinCost.
func WithHashCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

// WithLimiter enables lockout after repeated failed logins.
func WithLimiter(l *Limiter) Option {
	return func(s *Service) { s.limiter = l }
}

type Service struct {
	users   ledger.UserStore
	session *session.Session
	limiter *Limiter
	logger  *log.Logger
	cost    int
}

func NewService(users ledger.UserStore, sess *session.Session, logger *log.Logger, opts ...Option) *Service {
	s := &Service{
		users:   users,
		session: sess,
		logger:  log.OrDiscard(logger).WithComponent(log.ComponentAuth),
		cost:    bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates an account. It does not sign the user in.
func (s *Service) Register(ctx context.Context, username, phone, password string) (core.User, error) {
	user, err := s.register(ctx, username, phone, password)
	if err != nil {
		s.session.SetMessage(err.Error())
		return core.User{}, err
	}
	s.session.SetMessage(msgRegistered)
	s.logger.InfoContext(ctx, "User registered", log.FieldUserID, user.ID)
	return user, nil
}

func (s *Service) register(ctx context.Context, username, phone, password string) (core.User, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" || password == "" {
		return core.User{}, ErrMissingCredential
	}
	if len([]rune(password)) < MinPasswordLength {
		return core.User{}, ErrPasswordTooShort
	}

	if _, err := s.users.GetUserByPhone(ctx, phone); err == nil {
		return core.User{}, ErrPhoneTaken
	} else if !errors.Is(err, ledger.ErrUserNotFound) {
		return core.User{}, fmt.Errorf("lookup phone: %w", err)
	}

	hash, err := s.hash(password)
	if err != nil {
		return core.User{}, err
	}
	user := core.NewUser(username, phone, hash)
	if err := s.users.InsertUser(ctx, user); err != nil {
		if errors.Is(err, ledger.ErrPhoneExists) {
			return core.User{}, ErrPhoneTaken
		}
		return core.User{}, fmt.Errorf("save user: %w", err)
	}
	return user, nil
}

// Login checks the credentials and signs the user into the session.
func (s *Service) Login(ctx context.Context, phone, password string) (core.User, error) {
	phone = strings.TrimSpace(phone)
	user, err := s.login(ctx, phone, password)
	if err != nil {
		s.session.SetMessage(err.Error())
		s.logger.WarnContext(ctx, "Login failed", log.FieldPhone, phone, log.FieldError, err)
		return core.User{}, err
	}
	s.session.SignIn(user)
	s.logger.InfoContext(ctx, "User logged in", log.FieldOperation, log.OpLogin, log.FieldUserID, user.ID)
	return user, nil
}

func (s *Service) login(ctx context.Context, phone, password string) (core.User, error) {
	if phone == "" || password == "" {
		return core.User{}, ErrMissingCredential
	}
	if !s.limiter.Allowed(phone) {
		return core.User{}, ErrTooManyAttempts
	}

	user, err := s.users.GetUserByPhone(ctx, phone)
	if errors.Is(err, ledger.ErrUserNotFound) {
		return core.User{}, ErrAccountNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("lookup phone: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.limiter.Fail(phone)
		return core.User{}, ErrWrongPassword
	}
	s.limiter.Reset(phone)
	return user, nil
}

// Logout clears the session.
func (s *Service) Logout() {
	s.session.SignOut()
	s.logger.Info("User logged out")
}

// ChangePassword replaces the signed-in user's password after checking the
// current one.
func (s *Service) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	return s.updateCurrent(ctx, func(u *core.User) error {
		if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(oldPassword)) != nil {
			return ErrOldPasswordWrong
		}
		if len([]rune(newPassword)) < MinPasswordLength {
			return ErrPasswordTooShort
		}
		hash, err := s.hash(newPassword)
		if err != nil {
			return err
		}
		u.PasswordHash = hash
		return nil
	})
}

func (s *Service) UpdateAvatar(ctx context.Context, avatar string) error {
	return s.updateCurrent(ctx, func(u *core.User) error {
		if avatar = strings.TrimSpace(avatar); avatar != "" {
			u.Avatar = avatar
		}
		return nil
	})
}

// UpdateProfile changes the display name and avatar.
func (s *Service) UpdateProfile(ctx context.Context, username, avatar string) error {
	return s.updateCurrent(ctx, func(u *core.User) error {
		if username = strings.TrimSpace(username); username == "" {
			return core.ErrEmptyUsername
		}
		u.Username = username
		if avatar = strings.TrimSpace(avatar); avatar != "" {
			u.Avatar = avatar
		}
		return nil
	})
}

// updateCurrent reloads the signed-in user, applies change, persists it and
// refreshes the session. The session is untouched on any failure.
func (s *Service) updateCurrent(ctx context.Context, change func(*core.User) error) error {
	id, ok := s.session.UserID()
	if !ok {
		return core.ErrNotAuthenticated
	}
	user, err := s.users.GetUser(ctx, id)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if err := change(&user); err != nil {
		return err
	}
	if err := s.users.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	s.session.Refresh(user)
	return nil
}

func (s *Service) hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}
