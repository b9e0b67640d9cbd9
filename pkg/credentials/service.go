package credentials

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cajaflow/cajaflow/pkg/config"
	"github.com/cajaflow/cajaflow/pkg/metrics"
	"github.com/cajaflow/cajaflow/pkg/model"
	"github.com/cajaflow/cajaflow/pkg/provider"
	"github.com/cajaflow/cajaflow/pkg/secrets"
)

// refreshSkew is how close to expiry a token may get before a read triggers
// a proactive refresh.
const refreshSkew = 60 * time.Second

// ErrNotConnected means the tenant has no usable active credential.
var ErrNotConnected = errors.New("tenant has no active provider credential")

// Repository is the storage surface the service needs. Implemented by
// postgres.CredentialRepository.
type Repository interface {
	ActiveByTenant(ctx context.Context, tenantID uuid.UUID) (*model.ProviderCredential, error)
	ActiveByProviderUserID(ctx context.Context, providerUserID string) (*model.ProviderCredential, error)
	Insert(ctx context.Context, credential *model.ProviderCredential) error
	DeactivateActive(ctx context.Context, tenantID uuid.UUID) error
	UpdateTokens(ctx context.Context, id uuid.UUID, accessToken, refreshToken string, expiresAt *time.Time) error
	MarkError(ctx context.Context, id uuid.UUID, errorMessage string) error
}

// TokenAPI is the slice of the provider client the refresh controller uses.
type TokenAPI interface {
	RefreshToken(ctx context.Context, clientID, clientSecret, refreshToken string) (*provider.TokenResponse, error)
	ExchangeCode(ctx context.Context, clientID, clientSecret, code, redirectURI string) (*provider.TokenResponse, error)
}

// Credential is the decrypted, in-memory view handed to callers.
type Credential struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	AccessToken    string
	RefreshToken   string
	ExpiresAt      *time.Time
	ApplicationID  string
	ProviderUserID string
	Email          string
	LiveMode       bool
	Status         model.CredentialStatus
}

type Service struct {
	repo     Repository
	provider TokenAPI
	cipher   *secrets.Cipher
	cfg      config.ProviderConfig
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(repo Repository, providerAPI TokenAPI, cipher *secrets.Cipher, cfg config.ProviderConfig, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		provider: providerAPI,
		cipher:   cipher,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Get loads the tenant's active credential, decrypting tokens and refreshing
// proactively when the access token is within the expiry skew.
//
// Refresh failures are classified: a transient failure (network, 5xx) keeps
// the stored row untouched and returns the stale token, because the provider
// may still accept it and a network blip must never strip a tenant of
// payment capability. A permanent failure (revoked grant) flips the row to
// ERROR but still returns the stale in-memory credential for one last try.
func (s *Service) Get(ctx context.Context, tenantID uuid.UUID) (*Credential, error) {
	row, err := s.repo.ActiveByTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotConnected
		}
		return nil, err
	}

	credential, err := s.decrypt(ctx, row)
	if err != nil {
		// Garbage tokens are unrecoverable without operator intervention;
		// never hand them to a caller.
		s.logger.Error("credential decrypt failed, marking row in error",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err),
		)
		if markErr := s.repo.MarkError(ctx, row.ID, "token decrypt failed: "+err.Error()); markErr != nil {
			s.logger.Error("failed to mark credential error", zap.Error(markErr))
		}
		return nil, ErrNotConnected
	}

	if !s.needsRefresh(credential) {
		return credential, nil
	}

	return s.refresh(ctx, credential)
}

// ResolveByProviderUserID maps a provider account id from a webhook back to
// the owning tenant's credential. No refresh happens here; the caller
// follows up with Get when it needs a live token.
func (s *Service) ResolveByProviderUserID(ctx context.Context, providerUserID string) (*Credential, error) {
	row, err := s.repo.ActiveByProviderUserID(ctx, providerUserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotConnected
		}
		return nil, err
	}
	return s.decrypt(ctx, row)
}

// Connect exchanges an OAuth authorization code and stores the resulting
// grant as the tenant's new active credential.
func (s *Service) Connect(ctx context.Context, tenantID uuid.UUID, code, redirectURI, email string) (*Credential, error) {
	token, err := s.provider.ExchangeCode(ctx, s.cfg.ClientID, s.cfg.ClientSecret, code, redirectURI)
	if err != nil {
		return nil, err
	}
	return s.Upsert(ctx, tenantID, token, email)
}

// Upsert deactivates any existing active row and inserts a fresh one.
// Tokens of a live row are never rewritten in place.
func (s *Service) Upsert(ctx context.Context, tenantID uuid.UUID, token *provider.TokenResponse, email string) (*Credential, error) {
	encryptedAccess, err := s.cipher.Encrypt(token.AccessToken)
	if err != nil {
		return nil, err
	}
	encryptedRefresh := ""
	if token.RefreshToken != "" {
		if encryptedRefresh, err = s.cipher.Encrypt(token.RefreshToken); err != nil {
			return nil, err
		}
	}

	if err := s.repo.DeactivateActive(ctx, tenantID); err != nil {
		return nil, err
	}

	row := &model.ProviderCredential{
		ID:             uuid.New(),
		TenantID:       tenantID,
		AccessToken:    encryptedAccess,
		RefreshToken:   encryptedRefresh,
		ExpiresAt:      s.expiryFrom(token.ExpiresIn),
		ProviderUserID: token.UserID.String(),
		Email:          email,
		LiveMode:       token.LiveMode,
		Status:         model.CredentialActive,
	}
	if token.Scope != "" {
		row.Scopes = pq.StringArray(strings.FieldsFunc(token.Scope, func(r rune) bool {
			return r == ' ' || r == ','
		}))
	}
	if err := s.repo.Insert(ctx, row); err != nil {
		return nil, err
	}

	return &Credential{
		ID:             row.ID,
		TenantID:       tenantID,
		AccessToken:    token.AccessToken,
		RefreshToken:   token.RefreshToken,
		ExpiresAt:      row.ExpiresAt,
		ProviderUserID: row.ProviderUserID,
		Email:          email,
		LiveMode:       row.LiveMode,
		Status:         model.CredentialActive,
	}, nil
}

// Disconnect deactivates the tenant's active credential. Used by both the
// admin action and the provider's deauthorization webhook.
func (s *Service) Disconnect(ctx context.Context, tenantID uuid.UUID) error {
	return s.repo.DeactivateActive(ctx, tenantID)
}

func (s *Service) needsRefresh(credential *Credential) bool {
	if credential.ExpiresAt == nil {
		return false
	}
	return !credential.ExpiresAt.After(s.now().Add(refreshSkew))
}

func (s *Service) refresh(ctx context.Context, stale *Credential) (*Credential, error) {
	if stale.RefreshToken == "" {
		s.logger.Warn("credential near expiry but no refresh token stored",
			zap.String("tenant_id", stale.TenantID.String()),
		)
		return stale, nil
	}

	token, err := s.provider.RefreshToken(ctx, s.cfg.ClientID, s.cfg.ClientSecret, stale.RefreshToken)
	if err != nil {
		if IsTransient(err) {
			// The provider may still accept the not-yet-expired token.
			metrics.CredentialRefreshesTotal.WithLabelValues("transient_failure").Inc()
			s.logger.Warn("transient token refresh failure, keeping stale credential",
				zap.String("tenant_id", stale.TenantID.String()),
				zap.Error(err),
			)
			return stale, nil
		}

		metrics.CredentialRefreshesTotal.WithLabelValues("permanent_failure").Inc()
		s.logger.Error("permanent token refresh failure, marking credential in error",
			zap.String("tenant_id", stale.TenantID.String()),
			zap.Error(err),
		)
		if markErr := s.repo.MarkError(ctx, stale.ID, err.Error()); markErr != nil {
			s.logger.Error("failed to mark credential error", zap.Error(markErr))
		}
		// The caller may still attempt one more operation; subsequent reads
		// see status ERROR and short-circuit.
		return stale, nil
	}

	encryptedAccess, err := s.cipher.Encrypt(token.AccessToken)
	if err != nil {
		return stale, nil
	}
	encryptedRefresh := ""
	if token.RefreshToken != "" {
		if encryptedRefresh, err = s.cipher.Encrypt(token.RefreshToken); err != nil {
			return stale, nil
		}
	}

	expiresAt := s.expiryFrom(token.ExpiresIn)
	if err := s.repo.UpdateTokens(ctx, stale.ID, encryptedAccess, encryptedRefresh, expiresAt); err != nil {
		s.logger.Error("failed to persist refreshed tokens", zap.Error(err))
		return stale, nil
	}

	metrics.CredentialRefreshesTotal.WithLabelValues("success").Inc()

	refreshed := *stale
	refreshed.AccessToken = token.AccessToken
	refreshed.RefreshToken = token.RefreshToken
	refreshed.ExpiresAt = expiresAt
	refreshed.Status = model.CredentialActive
	return &refreshed, nil
}

// decrypt materializes the in-memory credential. Legacy plaintext tokens
// from before encryption at rest are re-encrypted and persisted
// opportunistically on read.
func (s *Service) decrypt(ctx context.Context, row *model.ProviderCredential) (*Credential, error) {
	credential := &Credential{
		ID:             row.ID,
		TenantID:       row.TenantID,
		ExpiresAt:      row.ExpiresAt,
		ApplicationID:  row.ApplicationID,
		ProviderUserID: row.ProviderUserID,
		Email:          row.Email,
		LiveMode:       row.LiveMode,
		Status:         row.Status,
	}

	legacy := false

	if secrets.IsEncrypted(row.AccessToken) {
		plain, err := s.cipher.Decrypt(row.AccessToken)
		if err != nil {
			return nil, err
		}
		credential.AccessToken = plain
	} else {
		credential.AccessToken = row.AccessToken
		legacy = true
	}

	if row.RefreshToken != "" {
		if secrets.IsEncrypted(row.RefreshToken) {
			plain, err := s.cipher.Decrypt(row.RefreshToken)
			if err != nil {
				return nil, err
			}
			credential.RefreshToken = plain
		} else {
			credential.RefreshToken = row.RefreshToken
			legacy = true
		}
	}

	if legacy {
		s.reencrypt(ctx, row.ID, credential)
	}

	return credential, nil
}

func (s *Service) reencrypt(ctx context.Context, id uuid.UUID, credential *Credential) {
	encryptedAccess, err := s.cipher.Encrypt(credential.AccessToken)
	if err != nil {
		return
	}
	encryptedRefresh := ""
	if credential.RefreshToken != "" {
		if encryptedRefresh, err = s.cipher.Encrypt(credential.RefreshToken); err != nil {
			return
		}
	}
	if err := s.repo.UpdateTokens(ctx, id, encryptedAccess, encryptedRefresh, credential.ExpiresAt); err != nil {
		s.logger.Warn("failed to re-encrypt legacy credential", zap.Error(err))
		return
	}
	s.logger.Info("re-encrypted legacy plaintext credential", zap.String("credential_id", id.String()))
}

func (s *Service) expiryFrom(expiresIn int64) *time.Time {
	if expiresIn <= 0 {
		return nil
	}
	expiry := s.now().Add(time.Duration(expiresIn) * time.Second)
	return &expiry
}
