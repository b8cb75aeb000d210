package identity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// runStoreContract exercises behaviour every Store implementation must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()

	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	create := func(t *testing.T, s Store, email string) Principal {
		t.Helper()
		p, err := s.CreatePrincipal(ctx, CreatePrincipalInput{
			Email:        email,
			PasswordHash: "$argon2id$v=19$m=65536,t=3,p=4$c2FsdA$aGFzaA",
			Now:          now,
		})
		require.NoError(t, err)
		return p
	}

	t.Run("create and find", func(t *testing.T) {
		s := newStore(t)
		name := "  Ada  "
		p, err := s.CreatePrincipal(ctx, CreatePrincipalInput{
			Email:        "Ada@Example.com",
			Name:         &name,
			PasswordHash: "hash",
			Now:          now,
		})
		require.NoError(t, err)
		require.Len(t, p.ID, 26)
		require.Equal(t, "ada@example.com", p.EmailNorm)
		require.True(t, p.Active())
		require.NotNil(t, p.Name)
		require.Equal(t, "Ada", *p.Name)
		require.False(t, p.HasSession())

		byEmail, err := s.FindByEmail(ctx, "ADA@example.COM ")
		require.NoError(t, err)
		require.Equal(t, p.ID, byEmail.ID)

		byID, err := s.FindByID(ctx, p.ID)
		require.NoError(t, err)
		require.Equal(t, p.Email, byID.Email)
	})

	t.Run("email conflict is case insensitive", func(t *testing.T) {
		s := newStore(t)
		create(t, s, "user@example.com")

		_, err := s.CreatePrincipal(ctx, CreatePrincipalInput{
			Email:        "USER@example.com",
			PasswordHash: "hash",
			Now:          now,
		})
		require.True(t, IsConflict(err), "got %v", err)
	})

	t.Run("missing principal", func(t *testing.T) {
		s := newStore(t)

		_, err := s.FindByEmail(ctx, "nobody@example.com")
		require.True(t, IsNotFound(err))

		_, err = s.FindByID(ctx, "01ARZ3NDEKTSV4RRFFQ69G5FAV")
		require.True(t, IsNotFound(err))

		_, err = s.FindByRefreshToken(ctx, "nope")
		require.True(t, IsNotFound(err))
	})

	t.Run("start rotate clear", func(t *testing.T) {
		s := newStore(t)
		p := create(t, s, "rot@example.com")
		exp := now.Add(7 * 24 * time.Hour)

		require.NoError(t, s.StartSession(ctx, StartSessionInput{
			PrincipalID: p.ID, RefreshToken: "r1", ExpiresAt: exp, Now: now,
		}))

		got, err := s.FindByRefreshToken(ctx, "r1")
		require.NoError(t, err)
		require.Equal(t, p.ID, got.ID)
		require.EqualValues(t, 1, got.LoginCount)
		require.NotNil(t, got.RefreshTokenExpiresAt)
		require.True(t, got.RefreshTokenExpiresAt.Equal(exp))
		require.NotEqual(t, "r1", *got.RefreshTokenHash, "raw token must not be stored")

		later := now.Add(time.Minute)
		require.NoError(t, s.RotateRefreshToken(ctx, RotateInput{
			PrincipalID: p.ID, OldToken: "r1", NewToken: "r2", ExpiresAt: later.Add(7 * 24 * time.Hour), Now: later,
		}))

		_, err = s.FindByRefreshToken(ctx, "r1")
		require.True(t, IsNotFound(err))
		prev, err := s.FindByPreviousRefreshToken(ctx, "r1")
		require.NoError(t, err)
		require.Equal(t, p.ID, prev.ID)

		// A second rotation with the stale token loses.
		err = s.RotateRefreshToken(ctx, RotateInput{
			PrincipalID: p.ID, OldToken: "r1", NewToken: "r3", ExpiresAt: later.Add(time.Hour), Now: later,
		})
		require.True(t, IsNotActive(err), "got %v", err)

		cleared := later.Add(time.Minute)
		require.NoError(t, s.ClearSession(ctx, p.ID, cleared))

		got, err = s.FindByID(ctx, p.ID)
		require.NoError(t, err)
		require.Nil(t, got.RefreshTokenHash)
		require.Nil(t, got.RefreshTokenExpiresAt)
		require.Nil(t, got.PreviousRefreshTokenHash)
		require.NotNil(t, got.LastTokenInvalidation)
		require.True(t, got.LastTokenInvalidation.Equal(cleared))

		_, err = s.FindByRefreshToken(ctx, "r2")
		require.True(t, IsNotFound(err))
	})

	t.Run("concurrent rotations have one winner", func(t *testing.T) {
		s := newStore(t)
		p := create(t, s, "race@example.com")
		require.NoError(t, s.StartSession(ctx, StartSessionInput{
			PrincipalID: p.ID, RefreshToken: "seed", ExpiresAt: now.Add(time.Hour), Now: now,
		}))

		const n = 8
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := s.RotateRefreshToken(ctx, RotateInput{
					PrincipalID: p.ID,
					OldToken:    "seed",
					NewToken:    "next-" + string(rune('a'+i)),
					ExpiresAt:   now.Add(2 * time.Hour),
					Now:         now,
				})
				if err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()
		require.Equal(t, 1, wins)
	})

	t.Run("touch activity", func(t *testing.T) {
		s := newStore(t)
		p := create(t, s, "touch@example.com")
		at := now.Add(3 * time.Minute)

		require.NoError(t, s.TouchActivity(ctx, p.ID, at))
		got, err := s.FindByID(ctx, p.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LastActivityAt)
		require.True(t, got.LastActivityAt.Equal(at))
	})

	t.Run("update password hash", func(t *testing.T) {
		s := newStore(t)
		p := create(t, s, "rehash@example.com")

		require.NoError(t, s.UpdatePasswordHash(ctx, p.ID, "$argon2id$new", now.Add(time.Minute)))
		got, err := s.FindByID(ctx, p.ID)
		require.NoError(t, err)
		require.Equal(t, "$argon2id$new", got.PasswordHash)

		require.True(t, IsInvalidInput(s.UpdatePasswordHash(ctx, p.ID, "", now)))
		require.True(t, IsNotFound(s.UpdatePasswordHash(ctx, "01HZZZZZZZZZZZZZZZZZZZZZZZ", "$argon2id$x", now)))
	})
}
