// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

//go:build integration

package auth_test

import (
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/dr3hardware/authd/internal/auth"
	"github.com/dr3hardware/authd/internal/auth/postgres"
)

var testParams = auth.HashParams{Time: 1, MemoryKiB: 64, Threads: 1, SaltLen: 16, KeyLen: 32}

// fixture wires a Service against the container database.
type fixture struct {
	clock    *stepClock
	hasher   *auth.Argon2idHasher
	users    *postgres.UserRepository
	sessions *auth.SessionStore
	service  *auth.Service
}

func newFixture() *fixture {
	clock := newStepClock()
	hasher, err := auth.NewArgon2idHasher(testParams)
	Expect(err).NotTo(HaveOccurred())

	users := postgres.NewUserRepository(env.pool, time.Second)
	ledger, err := auth.NewAttemptLedger(postgres.NewAttemptRepository(env.pool, time.Second),
		auth.DefaultLockoutPolicy(), auth.WithClock(clock.Now))
	Expect(err).NotTo(HaveOccurred())
	sessions, err := auth.NewSessionStore(postgres.NewSessionRepository(env.pool, time.Second),
		auth.DefaultIdleTimeout, auth.WithClock(clock.Now))
	Expect(err).NotTo(HaveOccurred())
	service, err := auth.NewService(auth.Dependencies{
		Users:    users,
		Hasher:   hasher,
		Ledger:   ledger,
		Sessions: sessions,
	}, auth.WithClock(clock.Now))
	Expect(err).NotTo(HaveOccurred())

	return &fixture{clock: clock, hasher: hasher, users: users, sessions: sessions, service: service}
}

func (f *fixture) addUser(username, password string, status auth.UserStatus) ulid.ULID {
	encoded, err := f.hasher.Hash(password)
	Expect(err).NotTo(HaveOccurred())
	id := ulid.Make()
	_, err = env.pool.Exec(env.ctx, `
		INSERT INTO users (user_id, username, password_hash, full_name, role, status)
		VALUES ($1, $2, $3, $4, 'User', $5)
	`, id.String(), username, encoded, "Test "+username, string(status))
	Expect(err).NotTo(HaveOccurred())
	return id
}

func (f *fixture) login(username, password string) (*auth.LoginResult, error) {
	return f.service.Authenticate(env.ctx, auth.LoginRequest{
		Username:  username,
		Password:  password,
		Origin:    "10.0.0.1",
		UserAgent: "ginkgo",
	})
}

var _ = Describe("Authentication over PostgreSQL", func() {
	var f *fixture

	BeforeEach(func() {
		f = newFixture()
	})

	Describe("login, validate and logout", func() {
		It("issues a session that validates until logout", func() {
			id := f.addUser("alice", "correct horse", auth.StatusActive)

			result, err := f.login("alice", "correct horse")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Claims.UserID).To(Equal(id))

			claims, err := f.service.ValidateSession(env.ctx, result.Token)
			Expect(err).NotTo(HaveOccurred())
			Expect(claims).NotTo(BeNil())
			Expect(claims.Username).To(Equal("alice"))

			Expect(f.service.Logout(env.ctx, result.Token)).To(Succeed())
			Expect(f.service.Logout(env.ctx, result.Token)).To(Succeed(), "logout is idempotent")

			claims, err = f.service.ValidateSession(env.ctx, result.Token)
			Expect(err).NotTo(HaveOccurred())
			Expect(claims).To(BeNil())
		})

		It("stores only the token hash and records the login", func() {
			id := f.addUser("alice", "correct horse", auth.StatusActive)
			result, err := f.login("alice", "correct horse")
			Expect(err).NotTo(HaveOccurred())

			var stored int
			Expect(env.pool.QueryRow(env.ctx,
				`SELECT COUNT(*) FROM user_sessions WHERE token_hash = $1`, result.Token).Scan(&stored)).To(Succeed())
			Expect(stored).To(BeZero())
			Expect(env.pool.QueryRow(env.ctx,
				`SELECT COUNT(*) FROM user_sessions WHERE token_hash = $1`, auth.HashSessionToken(result.Token)).Scan(&stored)).To(Succeed())
			Expect(stored).To(Equal(1))

			var lastLogin time.Time
			Expect(env.pool.QueryRow(env.ctx,
				`SELECT last_login FROM users WHERE user_id = $1`, id.String()).Scan(&lastLogin)).To(Succeed())
			Expect(lastLogin).To(BeTemporally("==", f.clock.Now()))
		})
	})

	Describe("sliding expiry", func() {
		It("keeps an active session alive and expires an idle one", func() {
			f.addUser("alice", "correct horse", auth.StatusActive)
			result, err := f.login("alice", "correct horse")
			Expect(err).NotTo(HaveOccurred())

			f.clock.Advance(59 * time.Minute)
			claims, err := f.service.ValidateSession(env.ctx, result.Token)
			Expect(err).NotTo(HaveOccurred())
			Expect(claims).NotTo(BeNil())

			f.clock.Advance(61 * time.Minute)
			claims, err = f.service.ValidateSession(env.ctx, result.Token)
			Expect(err).NotTo(HaveOccurred())
			Expect(claims).To(BeNil())
		})

		It("purges dead sessions", func() {
			f.addUser("alice", "correct horse", auth.StatusActive)
			live, err := f.login("alice", "correct horse")
			Expect(err).NotTo(HaveOccurred())
			dead, err := f.login("alice", "correct horse")
			Expect(err).NotTo(HaveOccurred())
			Expect(f.service.Logout(env.ctx, dead.Token)).To(Succeed())

			n, err := f.sessions.Purge(env.ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(1)))

			claims, err := f.service.ValidateSession(env.ctx, live.Token)
			Expect(err).NotTo(HaveOccurred())
			Expect(claims).NotTo(BeNil())
		})

		It("never moves last_activity backwards under concurrent touches", func() {
			f.addUser("alice", "correct horse", auth.StatusActive)
			result, err := f.login("alice", "correct horse")
			Expect(err).NotTo(HaveOccurred())

			repo := postgres.NewSessionRepository(env.pool, time.Second)
			hash := auth.HashSessionToken(result.Token)
			latest := f.clock.Now().Add(30 * time.Minute)

			var wg sync.WaitGroup
			for i := range 20 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					Expect(repo.Touch(env.ctx, hash, f.clock.Now().Add(time.Duration(i)*time.Minute))).To(Succeed())
				}()
			}
			wg.Wait()
			Expect(repo.Touch(env.ctx, hash, latest)).To(Succeed())
			Expect(repo.Touch(env.ctx, hash, f.clock.Now())).To(Succeed())

			var lastActivity time.Time
			Expect(env.pool.QueryRow(env.ctx,
				`SELECT last_activity FROM user_sessions WHERE token_hash = $1`, hash).Scan(&lastActivity)).To(Succeed())
			Expect(lastActivity).To(BeTemporally("==", latest))
		})
	})

	Describe("credential failures", func() {
		It("treats unknown users and wrong passwords alike and records reasons", func() {
			f.addUser("alice", "correct horse", auth.StatusActive)

			_, unknownErr := f.login("mallory", "whatever")
			_, wrongErr := f.login("alice", "wrong")
			Expect(auth.KindOf(unknownErr)).To(Equal(auth.KindInvalidCredentials))
			Expect(auth.KindOf(wrongErr)).To(Equal(auth.KindInvalidCredentials))
			Expect(unknownErr.Error()).To(Equal(wrongErr.Error()))

			rows, err := env.pool.Query(env.ctx,
				`SELECT username, failure_reason FROM login_attempts ORDER BY username`)
			Expect(err).NotTo(HaveOccurred())
			defer rows.Close()
			reasons := map[string]string{}
			for rows.Next() {
				var username, reason string
				Expect(rows.Scan(&username, &reason)).To(Succeed())
				reasons[username] = reason
			}
			Expect(rows.Err()).NotTo(HaveOccurred())
			Expect(reasons).To(Equal(map[string]string{
				"alice":   auth.ReasonInvalidPassword,
				"mallory": auth.ReasonUserNotFound,
			}))
		})

		It("locks the account after five failures and unlocks after the cooldown", func() {
			f.addUser("alice", "correct horse", auth.StatusActive)

			for range 5 {
				_, err := f.login("alice", "wrong")
				Expect(auth.KindOf(err)).To(Equal(auth.KindInvalidCredentials))
				f.clock.Advance(10 * time.Second)
			}

			_, err := f.login("alice", "correct horse")
			Expect(auth.KindOf(err)).To(Equal(auth.KindAccountLocked))
			minutes, ok := auth.RemainingMinutes(err)
			Expect(ok).To(BeTrue())
			Expect(minutes).To(Equal(15))

			f.clock.Advance(15 * time.Minute)
			result, err := f.login("alice", "correct horse")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Token).NotTo(BeEmpty())
		})

		It("rejects inactive users and ends their sessions", func() {
			id := f.addUser("alice", "correct horse", auth.StatusActive)
			result, err := f.login("alice", "correct horse")
			Expect(err).NotTo(HaveOccurred())

			_, err = env.pool.Exec(env.ctx, `UPDATE users SET status = 'Inactive' WHERE user_id = $1`, id.String())
			Expect(err).NotTo(HaveOccurred())

			claims, err := f.service.ValidateSession(env.ctx, result.Token)
			Expect(err).NotTo(HaveOccurred())
			Expect(claims).To(BeNil())

			_, err = f.login("alice", "correct horse")
			Expect(auth.KindOf(err)).To(Equal(auth.KindAccountInactive))
		})
	})

	Describe("password maintenance", func() {
		It("upgrades hashes made with old parameters on login", func() {
			weak, err := auth.NewArgon2idHasher(auth.HashParams{Time: 1, MemoryKiB: 32, Threads: 1, SaltLen: 16, KeyLen: 32})
			Expect(err).NotTo(HaveOccurred())
			encoded, err := weak.Hash("correct horse")
			Expect(err).NotTo(HaveOccurred())
			id := f.addUser("alice", "placeholder", auth.StatusActive)
			_, err = env.pool.Exec(env.ctx, `UPDATE users SET password_hash = $2 WHERE user_id = $1`, id.String(), encoded)
			Expect(err).NotTo(HaveOccurred())

			_, err = f.login("alice", "correct horse")
			Expect(err).NotTo(HaveOccurred())

			user, err := f.users.FindByID(env.ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(user.PasswordHash).To(HavePrefix("$argon2id$v=19$m=64,t=1,p=1$"))
		})

		It("changes a password", func() {
			id := f.addUser("alice", "correct horse", auth.StatusActive)
			Expect(f.service.ChangePassword(env.ctx, id, "battery staple")).To(Succeed())

			_, err := f.login("alice", "correct horse")
			Expect(auth.KindOf(err)).To(Equal(auth.KindInvalidCredentials))
			_, err = f.login("alice", "battery staple")
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("session repository", func() {
		It("reports token collisions", func() {
			id := f.addUser("alice", "correct horse", auth.StatusActive)
			repo := postgres.NewSessionRepository(env.pool, time.Second)
			session := &auth.Session{
				TokenHash:    auth.HashSessionToken("fixed"),
				UserID:       id,
				CreatedAt:    f.clock.Now(),
				LastActivity: f.clock.Now(),
				Active:       true,
			}
			Expect(repo.Insert(env.ctx, session)).To(Succeed())
			err := repo.Insert(env.ctx, session)
			Expect(errors.Is(err, auth.ErrTokenCollision)).To(BeTrue())
		})
	})
})
