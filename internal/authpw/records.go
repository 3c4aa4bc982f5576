package authpw

import (
	"context"
	"encoding/json"
	"fmt"

	"canvas/api/internal/store"
)

// RecordUserStore keeps accounts in the auth_users table of a record store.
type RecordUserStore struct {
	records store.RecordStore
}

func NewRecordUserStore(records store.RecordStore) *RecordUserStore {
	return &RecordUserStore{records: records}
}

func (s *RecordUserStore) GetUserByEmail(ctx context.Context, email string) (store.AuthUser, error) {
	return s.getOne(ctx, store.Filter{"email": email})
}

func (s *RecordUserStore) GetUserByID(ctx context.Context, id string) (store.AuthUser, error) {
	return s.getOne(ctx, store.Filter{"id": id})
}

func (s *RecordUserStore) CreateUser(ctx context.Context, email, passwordHash string) (store.AuthUser, error) {
	raw, err := s.records.Insert(ctx, store.TableAuthUsers, store.Row{
		"email":         email,
		"password_hash": passwordHash,
	})
	if err != nil {
		return store.AuthUser{}, fmt.Errorf("insert user: %w", err)
	}
	var user store.AuthUser
	if err := json.Unmarshal(raw, &user); err != nil {
		return store.AuthUser{}, fmt.Errorf("decode user: %w", err)
	}
	return user, nil
}

func (s *RecordUserStore) getOne(ctx context.Context, filter store.Filter) (store.AuthUser, error) {
	rows, err := s.records.Select(ctx, store.TableAuthUsers, store.Query{Filter: filter, Limit: 1})
	if err != nil {
		return store.AuthUser{}, fmt.Errorf("select user: %w", err)
	}
	if len(rows) == 0 {
		return store.AuthUser{}, ErrUserNotFound
	}
	var user store.AuthUser
	if err := json.Unmarshal(rows[0], &user); err != nil {
		return store.AuthUser{}, fmt.Errorf("decode user: %w", err)
	}
	return user, nil
}
