package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"canvas/api/internal/store"
)

const maxHandleAttempts = 20

var handleStrip = regexp.MustCompile(`[^a-z0-9_]`)

// BaseHandle derives the handle stem from an e-mail local part.
func BaseHandle(email string) string {
	local, _, _ := strings.Cut(email, "@")
	base := handleStrip.ReplaceAllString(strings.ToLower(local), "")
	if base == "" {
		return "user"
	}
	return base
}

func displayNameFor(email string) string {
	local, _, _ := strings.Cut(email, "@")
	if strings.TrimSpace(local) == "" {
		return "User"
	}
	return local
}

func (r *Repository) GetProfile(ctx context.Context, userID string) (store.Profile, bool, error) {
	rows, err := r.records.Select(ctx, store.TableProfiles, store.Query{
		Filter: store.Filter{"user_id": userID},
		Limit:  1,
	})
	if err != nil {
		return store.Profile{}, false, remoteErr("get profile", store.TableProfiles, err)
	}
	if len(rows) == 0 {
		return store.Profile{}, false, nil
	}
	profile, err := decodeOne[store.Profile](rows[0])
	if err != nil {
		return store.Profile{}, false, remoteErr("get profile", store.TableProfiles, err)
	}
	return profile, true, nil
}

// EnsureProfile returns the user's profile, creating one on first sign-in.
// Handles are tried as base, base1 .. base19; any rejected insert counts as
// a collision.
func (r *Repository) EnsureProfile(ctx context.Context, userID, emailHint string) (store.Profile, error) {
	existing, ok, err := r.GetProfile(ctx, userID)
	if err != nil {
		return store.Profile{}, err
	}
	if ok {
		return existing, nil
	}

	base := BaseHandle(emailHint)
	displayName := displayNameFor(emailHint)
	var lastErr error
	for attempt := 0; attempt < maxHandleAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return store.Profile{}, err
		}
		handle := base
		if attempt > 0 {
			handle = fmt.Sprintf("%s%d", base, attempt)
		}
		raw, err := r.records.Insert(ctx, store.TableProfiles, store.Row{
			"user_id":      userID,
			"handle":       handle,
			"display_name": displayName,
		})
		if err != nil {
			lastErr = err
			continue
		}
		profile, err := decodeOne[store.Profile](raw)
		if err != nil {
			return store.Profile{}, remoteErr("create profile", store.TableProfiles, err)
		}
		return profile, nil
	}
	return store.Profile{}, &ProfileCreationError{
		UserID:   userID,
		Handle:   base,
		Attempts: maxHandleAttempts,
		Err:      lastErr,
	}
}

// UpdateHandle renames the user's profile handle.
func (r *Repository) UpdateHandle(ctx context.Context, userID, handle string) (store.Profile, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return store.Profile{}, fmt.Errorf("%w: handle is required", ErrInvalidInput)
	}
	existing, ok, err := r.GetProfile(ctx, userID)
	if err != nil {
		return store.Profile{}, err
	}
	if !ok {
		return store.Profile{}, remoteErr("update handle", store.TableProfiles, store.ErrNotFound)
	}
	raw, err := r.update(ctx, "update handle", store.TableProfiles, existing.ID, store.Row{"handle": handle})
	if err != nil {
		return store.Profile{}, err
	}
	profile, err := decodeOne[store.Profile](raw)
	if err != nil {
		return store.Profile{}, remoteErr("update handle", store.TableProfiles, err)
	}
	return profile, nil
}

// IsHandleTaken reports whether err is a unique violation on the handle.
func IsHandleTaken(err error) bool {
	return errors.Is(err, store.ErrConflict)
}
