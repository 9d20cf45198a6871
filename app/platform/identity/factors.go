package identity

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"userdesk/app/database"
)

// EnrollResult carries everything the client needs to finish enrollment:
// the pending factor, the raw secret as manual-entry fallback, and the
// provisioning URI to render as a matrix barcode.
type EnrollResult struct {
	Factor database.MFAFactor `json:"factor"`
	Secret string             `json:"secret"`
	URI    string             `json:"uri"`
}

func (s *Service) ListFactors(accountID uuid.UUID) ([]database.MFAFactor, error) {
	var factors []database.MFAFactor
	result := s.db.Order("created_at ASC").Find(&factors, "account_id = ?", accountID)
	if result.Error != nil {
		return nil, result.Error
	}
	return factors, nil
}

func (s *Service) verifiedTOTPFactors(accountID uuid.UUID) ([]database.MFAFactor, error) {
	var factors []database.MFAFactor
	result := s.db.Order("created_at ASC").
		Find(&factors, "account_id = ? AND type = ? AND status = ?",
			accountID, database.FactorTypeTOTP, database.FactorStatusVerified)
	if result.Error != nil {
		return nil, result.Error
	}
	return factors, nil
}

// HasVerifiedTOTP reports whether sign-in must enter the MFA state.
func (s *Service) HasVerifiedTOTP(accountID uuid.UUID) (bool, error) {
	factors, err := s.verifiedTOTPFactors(accountID)
	if err != nil {
		return false, err
	}
	return len(factors) > 0, nil
}

// EnrollFactor registers a new pending TOTP factor. Any unverified TOTP
// factors left behind by an abandoned enrollment are removed first so at
// most one enrollment is ever pending.
func (s *Service) EnrollFactor(accountID uuid.UUID, accountEmail string) (*EnrollResult, error) {
	if err := s.CleanupUnverifiedFactors(accountID); err != nil {
		return nil, err
	}

	secret, err := GenerateTOTPSecret()
	if err != nil {
		return nil, err
	}

	factor := database.MFAFactor{
		ID:              uuid.New(),
		AccountID:       accountID,
		Type:            database.FactorTypeTOTP,
		Status:          database.FactorStatusUnverified,
		Secret:          secret,
		LastUsedCounter: -1,
	}
	if err := s.db.Create(&factor).Error; err != nil {
		return nil, err
	}

	return &EnrollResult{
		Factor: factor,
		Secret: secret,
		URI:    ProvisionURI(secret, accountEmail, s.issuer),
	}, nil
}

// CleanupUnverifiedFactors drops pending TOTP enrollments and their
// challenges. Nothing to delete is not an error.
func (s *Service) CleanupUnverifiedFactors(accountID uuid.UUID) error {
	var stale []database.MFAFactor
	result := s.db.Find(&stale, "account_id = ? AND type = ? AND status = ?",
		accountID, database.FactorTypeTOTP, database.FactorStatusUnverified)
	if result.Error != nil {
		return result.Error
	}

	for _, factor := range stale {
		if err := s.db.Where("factor_id = ?", factor.ID).Delete(&database.MFAChallenge{}).Error; err != nil {
			return err
		}
		err := s.db.Delete(&database.MFAFactor{}, "id = ?", factor.ID).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
	}
	return nil
}

// CreateChallenge opens a verification window against a factor owned by the
// account. A factor belonging to someone else is indistinguishable from a
// missing one.
func (s *Service) CreateChallenge(accountID, factorID uuid.UUID) (*database.MFAChallenge, error) {
	var factor database.MFAFactor
	result := s.db.First(&factor, "id = ? AND account_id = ?", factorID, accountID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrFactorNotFound
		}
		return nil, result.Error
	}

	challenge := database.MFAChallenge{
		ID:        uuid.New(),
		FactorID:  factor.ID,
		ExpiredAt: time.Now().Add(challengeTTL),
	}
	if err := s.db.Create(&challenge).Error; err != nil {
		return nil, err
	}
	return &challenge, nil
}

// VerifyChallenge submits a code against a factor owned by the account
// through an open challenge. Ownership is checked before anything is
// touched; a foreign factor never has its state advanced. On success the
// challenge is consumed, the replay floor advances and a first success
// marks the factor verified. A wrong code leaves the challenge open for
// retry.
func (s *Service) VerifyChallenge(accountID, factorID, challengeID uuid.UUID, code string, now time.Time) (*database.MFAFactor, error) {
	var factor database.MFAFactor
	result := s.db.First(&factor, "id = ? AND account_id = ?", factorID, accountID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrFactorNotFound
		}
		return nil, result.Error
	}

	var challenge database.MFAChallenge
	result = s.db.First(&challenge, "id = ? AND factor_id = ?", challengeID, factor.ID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrChallengeInvalid
		}
		return nil, result.Error
	}

	if now.After(challenge.ExpiredAt) {
		s.db.Delete(&database.MFAChallenge{}, "id = ?", challenge.ID)
		return nil, ErrChallengeExpired
	}

	ok, counter, err := VerifyTOTPCode(factor.Secret, code, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrCodeInvalid
	}

	if counter <= factor.LastUsedCounter {
		return nil, ErrCodeReplayed
	}

	updates := map[string]any{"last_used_counter": counter}
	if factor.Status == database.FactorStatusUnverified {
		updates["status"] = database.FactorStatusVerified
	}
	if err := s.db.Model(&factor).Updates(updates).Error; err != nil {
		return nil, err
	}

	if err := s.db.Delete(&database.MFAChallenge{}, "id = ?", challenge.ID).Error; err != nil {
		return nil, err
	}

	factor.LastUsedCounter = counter
	factor.Status = database.FactorStatusVerified
	return &factor, nil
}

// UnenrollFactor removes a factor owned by the account, verified or not.
// Used both for explicit disable and for enrollment cancellation.
func (s *Service) UnenrollFactor(accountID, factorID uuid.UUID) error {
	var factor database.MFAFactor
	result := s.db.First(&factor, "id = ? AND account_id = ?", factorID, accountID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return ErrFactorNotFound
		}
		return result.Error
	}

	if err := s.db.Where("factor_id = ?", factor.ID).Delete(&database.MFAChallenge{}).Error; err != nil {
		return err
	}
	return s.db.Delete(&database.MFAFactor{}, "id = ?", factor.ID).Error
}
