package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/punchamoorthee/paybridge/internal/domain"
	"github.com/punchamoorthee/paybridge/internal/provider"
)

// GetCredential retrieves the credential record for (userID, provider).
func (s *Store) GetCredential(ctx context.Context, userID string, p provider.Provider) (*domain.CredentialRecord, error) {
	var rec domain.CredentialRecord
	var expiry, updated *time.Time
	err := s.db.QueryRow(ctx,
		`SELECT user_id, provider, primary_enc, password_enc, device_id, client_id,
		        access_token_enc, refresh_token_enc, token_expiry, proxy, external_id, updated_at
		   FROM credentials WHERE user_id = $1 AND provider = $2`,
		userID, p,
	).Scan(&rec.UserID, &rec.Provider, &rec.EncPrimary, &rec.EncPassword, &rec.DeviceID, &rec.ClientID,
		&rec.EncAccessToken, &rec.EncRefreshToken, &expiry, &rec.Proxy, &rec.ExternalID, &updated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if expiry != nil {
		rec.TokenExpiry = *expiry
	}
	if updated != nil {
		rec.UpdatedAt = *updated
	}
	return &rec, nil
}

// UpsertCredential creates or replaces the credential record. Relinking a
// provider overwrites the previous record in place.
func (s *Store) UpsertCredential(ctx context.Context, rec *domain.CredentialRecord) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO credentials
		        (user_id, provider, primary_enc, password_enc, device_id, client_id,
		         access_token_enc, refresh_token_enc, token_expiry, proxy, external_id, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		 ON CONFLICT (user_id, provider) DO UPDATE SET
		        primary_enc = EXCLUDED.primary_enc,
		        password_enc = EXCLUDED.password_enc,
		        device_id = EXCLUDED.device_id,
		        client_id = EXCLUDED.client_id,
		        access_token_enc = EXCLUDED.access_token_enc,
		        refresh_token_enc = EXCLUDED.refresh_token_enc,
		        token_expiry = EXCLUDED.token_expiry,
		        proxy = EXCLUDED.proxy,
		        external_id = EXCLUDED.external_id,
		        updated_at = now()`,
		rec.UserID, rec.Provider, rec.EncPrimary, rec.EncPassword, rec.DeviceID, rec.ClientID,
		rec.EncAccessToken, rec.EncRefreshToken, nullableTime(rec.TokenExpiry), rec.Proxy, rec.ExternalID)
	return err
}

// UpdateTokens persists rotated session material after a refresh or re-login.
func (s *Store) UpdateTokens(ctx context.Context, userID string, p provider.Provider, encAccess, encRefresh string, expiry time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE credentials SET access_token_enc = $1, refresh_token_enc = $2, token_expiry = $3, updated_at = now()
		  WHERE user_id = $4 AND provider = $5`,
		encAccess, encRefresh, nullableTime(expiry), userID, p)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateProxy changes the outbound proxy used for future authentications.
func (s *Store) UpdateProxy(ctx context.Context, userID string, p provider.Provider, proxy string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE credentials SET proxy = $1, updated_at = now() WHERE user_id = $2 AND provider = $3`,
		proxy, userID, p)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteCredential removes the record. This is the only path that deletes
// credentials; nothing else may drop them implicitly.
func (s *Store) DeleteCredential(ctx context.Context, userID string, p provider.Provider) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM credentials WHERE user_id = $1 AND provider = $2`, userID, p)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
