package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"userdesk/app/database"
	"userdesk/pkg/utils"
)

const accessTokenExp = 3600
const refreshTokenExp = 365

const maxAccessFailed = 5
const maxTicketAttempts = 5

const (
	loginTicketTTL  = 5 * time.Minute
	challengeTTL    = 5 * time.Minute
	inviteCodeTTL   = 7 * 24 * time.Hour
	recoveryCodeTTL = time.Hour
)

// Service is the in-house identity provider: accounts, credentials,
// sessions and second factors. The application profile table is deliberately
// not reachable from here; the two stores stay independent.
type Service struct {
	db        *gorm.DB
	jwtSecret []byte
	issuer    string
}

func NewService(db *gorm.DB, jwtSecret, issuer string) *Service {
	return &Service{db: db, jwtSecret: []byte(jwtSecret), issuer: issuer}
}

type AuthToken struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int       `json:"expires_in"`
	ExpiresAt    time.Time `json:"expires_at"`
	RefreshToken string    `json:"refresh_token"`
}

type FactorView struct {
	ID     uuid.UUID `json:"id"`
	Type   string    `json:"type"`
	Status string    `json:"status"`
}

// SignInResult is either an issued token or an MFA-required handoff carrying
// the login ticket and the verified factors to choose from.
type SignInResult struct {
	AccountID   uuid.UUID    `json:"account_id"`
	MFARequired bool         `json:"mfa_required"`
	Ticket      string       `json:"ticket,omitempty"`
	Factors     []FactorView `json:"factors,omitempty"`
	Token       *AuthToken   `json:"token,omitempty"`
}

// SignIn checks credentials and either issues tokens or, when at least one
// verified TOTP factor exists, returns an MFA-required result without
// granting a session. All credential failures collapse into
// ErrInvalidCredentials so the caller cannot tell which field was wrong.
func (s *Service) SignIn(email, password string) (*SignInResult, error) {
	email = utils.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	var account database.Account
	result := s.db.First(&account, "email = ?", email)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, result.Error
	}

	if account.AccessFailedCount >= maxAccessFailed {
		return nil, ErrAccountLocked
	}

	if !s.verifyPassword(&account, password) {
		s.db.Model(&account).Update("access_failed_count", gorm.Expr("access_failed_count + 1"))
		return nil, ErrInvalidCredentials
	}

	err := s.db.Model(&account).Updates(map[string]any{
		"access_failed_count": 0,
		"login_count":         gorm.Expr("login_count + 1"),
		"last_login":          time.Now(),
	}).Error
	if err != nil {
		return nil, err
	}

	factors, err := s.verifiedTOTPFactors(account.ID)
	if err != nil {
		return nil, err
	}

	if len(factors) > 0 {
		ticket, err := s.createLoginTicket(account.ID)
		if err != nil {
			return nil, err
		}
		views := make([]FactorView, 0, len(factors))
		for _, f := range factors {
			views = append(views, FactorView{ID: f.ID, Type: f.Type, Status: f.Status})
		}
		return &SignInResult{AccountID: account.ID, MFARequired: true, Ticket: ticket, Factors: views}, nil
	}

	token, err := s.IssueTokens(&account)
	if err != nil {
		return nil, err
	}
	return &SignInResult{AccountID: account.ID, Token: &token}, nil
}

// ResolveLoginTicket loads a live login ticket. Expired tickets are removed
// on sight.
func (s *Service) ResolveLoginTicket(ticket string) (*database.LoginTicket, error) {
	if ticket == "" {
		return nil, ErrTicketInvalid
	}

	var lt database.LoginTicket
	result := s.db.First(&lt, "ticket = ?", ticket)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrTicketInvalid
		}
		return nil, result.Error
	}

	if time.Now().After(lt.ExpiredAt) {
		s.db.Delete(&database.LoginTicket{}, "ticket = ?", ticket)
		return nil, ErrTicketExpired
	}
	return &lt, nil
}

// ConfirmSignInMFA finishes a sign-in that entered the MFA state. The ticket
// scopes which factors may complete it; a factor outside that scope is
// reported as not found before any factor state moves. A wrong code leaves
// the ticket valid for retry until the attempt budget runs out; the password
// is never needed again.
func (s *Service) ConfirmSignInMFA(ticket string, factorID, challengeID uuid.UUID, code string) (*SignInResult, error) {
	lt, err := s.ResolveLoginTicket(ticket)
	if err != nil {
		return nil, err
	}

	_, err = s.VerifyChallenge(lt.AccountID, factorID, challengeID, code, time.Now())
	if err != nil {
		if errors.Is(err, ErrCodeInvalid) || errors.Is(err, ErrCodeReplayed) {
			if ferr := s.recordTicketFailure(lt); ferr != nil {
				return nil, ferr
			}
		}
		return nil, err
	}

	s.db.Delete(&database.LoginTicket{}, "ticket = ?", ticket)

	var account database.Account
	if err := s.db.First(&account, "id = ?", lt.AccountID).Error; err != nil {
		return nil, ErrAccountNotFound
	}

	token, err := s.IssueTokens(&account)
	if err != nil {
		return nil, err
	}
	return &SignInResult{AccountID: account.ID, Token: &token}, nil
}

func (s *Service) recordTicketFailure(lt *database.LoginTicket) error {
	lt.Attempts++
	if lt.Attempts >= maxTicketAttempts {
		s.db.Delete(&database.LoginTicket{}, "ticket = ?", lt.Ticket)
		return ErrMFAAttemptsExceeded
	}
	return s.db.Model(lt).Update("attempts", lt.Attempts).Error
}

func (s *Service) createLoginTicket(accountID uuid.UUID) (string, error) {
	ticket := database.LoginTicket{
		Ticket:    fmt.Sprintf("udlt%s", utils.GenerateRandomString(40)),
		AccountID: accountID,
		ExpiredAt: time.Now().Add(loginTicketTTL),
	}
	if err := s.db.Create(&ticket).Error; err != nil {
		return "", err
	}
	return ticket.Ticket, nil
}

// IssueTokens creates a signed access token plus an opaque refresh token row.
func (s *Service) IssueTokens(account *database.Account) (AuthToken, error) {
	const tokenType = "Bearer"

	now := time.Now()
	expiresAt := now.Add(accessTokenExp * time.Second)

	claims := jwt.MapClaims{
		"sub":   account.ID.String(),
		"email": account.Email,
		"iss":   s.issuer,
		"iat":   now.Unix(),
		"exp":   expiresAt.Unix(),
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return AuthToken{}, err
	}

	refresh := database.AuthRefreshToken{
		Token:     fmt.Sprintf("udrt%s", utils.GenerateRandomString(40)),
		AccountID: account.ID,
		ExpiredAt: now.AddDate(0, 0, refreshTokenExp),
	}
	if err := s.db.Create(&refresh).Error; err != nil {
		return AuthToken{}, err
	}

	return AuthToken{
		AccessToken:  access,
		TokenType:    tokenType,
		ExpiresIn:    accessTokenExp,
		ExpiresAt:    expiresAt,
		RefreshToken: refresh.Token,
	}, nil
}

// TokenClaims is the identity half of the per-request view model.
type TokenClaims struct {
	AccountID uuid.UUID
	Email     string
}

func (s *Service) VerifyAccessToken(token string) (*TokenClaims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}

	sub, err := claims.GetSubject()
	if err != nil {
		return nil, err
	}
	accountID, err := uuid.Parse(sub)
	if err != nil {
		return nil, err
	}

	email, _ := claims["email"].(string)
	return &TokenClaims{AccountID: accountID, Email: email}, nil
}

// Refresh rotates a refresh token into a fresh token pair.
func (s *Service) Refresh(refreshToken string) (AuthToken, error) {
	if refreshToken == "" {
		return AuthToken{}, ErrRefreshInvalid
	}

	var row database.AuthRefreshToken
	result := s.db.First(&row, "token = ? AND expired_at > ?", refreshToken, time.Now())
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return AuthToken{}, ErrRefreshInvalid
		}
		return AuthToken{}, result.Error
	}

	var account database.Account
	if err := s.db.First(&account, "id = ?", row.AccountID).Error; err != nil {
		return AuthToken{}, ErrRefreshInvalid
	}
	if account.AccessFailedCount >= maxAccessFailed {
		return AuthToken{}, ErrAccountLocked
	}

	if err := s.db.Delete(&database.AuthRefreshToken{}, "token = ?", row.Token).Error; err != nil {
		return AuthToken{}, err
	}

	return s.IssueTokens(&account)
}

func (s *Service) RevokeRefreshToken(refreshToken string) error {
	return s.db.Delete(&database.AuthRefreshToken{}, "token = ?", refreshToken).Error
}

func (s *Service) GetAccount(accountID uuid.UUID) (*database.Account, error) {
	var account database.Account
	result := s.db.First(&account, "id = ?", accountID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, result.Error
	}
	return &account, nil
}

func (s *Service) GetAccountByEmail(email string) (*database.Account, error) {
	var account database.Account
	result := s.db.First(&account, "email = ?", utils.NormalizeEmail(email))
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, result.Error
	}
	return &account, nil
}

// CreateAccount registers an account. An empty password leaves the account
// without credentials until the invite is accepted.
func (s *Service) CreateAccount(email, password string) (*database.Account, error) {
	email = utils.NormalizeEmail(email)

	if existing, err := s.GetAccountByEmail(email); err == nil && existing != nil {
		return nil, ErrEmailTaken
	} else if err != nil && !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	account := database.Account{
		ID:    uuid.New(),
		Email: email,
	}
	if password != "" {
		account.PasswordHash = utils.HashPassword(password)
	}

	if err := s.db.Create(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

// InviteByEmail creates a password-less account and a one-time invite code
// for the mail link. The caller sends the mail.
func (s *Service) InviteByEmail(email string) (*database.Account, string, error) {
	account, err := s.CreateAccount(email, "")
	if err != nil {
		return nil, "", err
	}

	code, err := s.createAccountCode(account.ID, database.CodePurposeInvite, inviteCodeTTL)
	if err != nil {
		return nil, "", err
	}
	return account, code, nil
}

// CreateRecoveryCode issues a one-time password recovery code.
func (s *Service) CreateRecoveryCode(accountID uuid.UUID) (string, error) {
	return s.createAccountCode(accountID, database.CodePurposeRecovery, recoveryCodeTTL)
}

func (s *Service) createAccountCode(accountID uuid.UUID, purpose string, ttl time.Duration) (string, error) {
	code := database.AccountCode{
		Code:      utils.GenerateRandomString(48),
		AccountID: accountID,
		Purpose:   purpose,
		ExpiredAt: time.Now().Add(ttl),
	}
	if err := s.db.Create(&code).Error; err != nil {
		return "", err
	}
	return code.Code, nil
}

// ExchangeCode redeems an invite or recovery code for a session. The code is
// consumed regardless of what the caller does with the tokens.
func (s *Service) ExchangeCode(code string) (*database.Account, string, *AuthToken, error) {
	if code == "" {
		return nil, "", nil, ErrAccountCodeInvalid
	}

	var row database.AccountCode
	result := s.db.First(&row, "code = ? AND expired_at > ?", code, time.Now())
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, "", nil, ErrAccountCodeInvalid
		}
		return nil, "", nil, result.Error
	}

	if err := s.db.Delete(&database.AccountCode{}, "code = ?", row.Code).Error; err != nil {
		return nil, "", nil, err
	}

	account, err := s.GetAccount(row.AccountID)
	if err != nil {
		return nil, "", nil, ErrAccountCodeInvalid
	}

	token, err := s.IssueTokens(account)
	if err != nil {
		return nil, "", nil, err
	}
	return account, row.Purpose, &token, nil
}

// UpdatePassword rehashes and clears outstanding recovery codes plus the
// failed-attempt counter.
func (s *Service) UpdatePassword(accountID uuid.UUID, newPassword string) error {
	account, err := s.GetAccount(accountID)
	if err != nil {
		return err
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(account).Updates(map[string]any{
			"password_hash":       utils.HashPassword(newPassword),
			"access_failed_count": 0,
		}).Error; err != nil {
			return err
		}

		return tx.Where("account_id = ? AND purpose = ?", accountID, database.CodePurposeRecovery).
			Delete(&database.AccountCode{}).Error
	})
}

// VerifyAccountPassword is used by the change-password flow to confirm the
// current password before accepting a new one.
func (s *Service) VerifyAccountPassword(account *database.Account, password string) bool {
	return s.verifyPassword(account, password)
}

// DeleteAccount removes the account and everything hanging off it: factors,
// challenges, tickets, refresh tokens and one-time codes. Idempotent so the
// reconciler can retry it.
func (s *Service) DeleteAccount(accountID uuid.UUID) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var factorIDs []uuid.UUID
		if err := tx.Model(&database.MFAFactor{}).Where("account_id = ?", accountID).
			Pluck("id", &factorIDs).Error; err != nil {
			return err
		}
		if len(factorIDs) > 0 {
			if err := tx.Where("factor_id IN ?", factorIDs).Delete(&database.MFAChallenge{}).Error; err != nil {
				return err
			}
		}

		if err := tx.Where("account_id = ?", accountID).Delete(&database.MFAFactor{}).Error; err != nil {
			return err
		}
		if err := tx.Where("account_id = ?", accountID).Delete(&database.LoginTicket{}).Error; err != nil {
			return err
		}
		if err := tx.Where("account_id = ?", accountID).Delete(&database.AuthRefreshToken{}).Error; err != nil {
			return err
		}
		if err := tx.Where("account_id = ?", accountID).Delete(&database.AccountCode{}).Error; err != nil {
			return err
		}

		return tx.Delete(&database.Account{}, "id = ?", accountID).Error
	})
}

func (s *Service) verifyPassword(account *database.Account, password string) bool {
	if account.PasswordHash == "" {
		return false
	}
	if len(account.PasswordHash) > 10 && account.PasswordHash[:10] == "$argon2id$" {
		return utils.VerifyPassword(password, account.PasswordHash)
	}
	return utils.VerifyLegacyPassword(password, account.PasswordHash)
}
