package user

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/shelfman/internal/model"
	"github.com/hitoshi/shelfman/internal/repository"
)

// --- モック ---

type mockUserRepo struct {
	findByIDFn           func(ctx context.Context, id string) (*model.User, error)
	createWithIdentityFn func(ctx context.Context, user *model.User, identity *model.Identity) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error {
	if m.createWithIdentityFn != nil {
		return m.createWithIdentityFn(ctx, user, identity)
	}
	return nil
}

type mockIdentityRepo struct {
	findUserByIdentityFn func(ctx context.Context, provider, subject string) (*model.User, error)
}

func (m *mockIdentityRepo) FindUserByIdentity(ctx context.Context, provider, subject string) (*model.User, error) {
	if m.findUserByIdentityFn != nil {
		return m.findUserByIdentityFn(ctx, provider, subject)
	}
	return nil, nil
}

// memoryDirectoryRepos はidentityの一意制約を再現するインメモリ実装。
type memoryDirectoryRepos struct {
	mu         sync.Mutex
	users      map[string]*model.User
	identities map[string]string // provider/subject -> user id
}

func newMemoryDirectoryRepos() *memoryDirectoryRepos {
	return &memoryDirectoryRepos{users: map[string]*model.User{}, identities: map[string]string{}}
}

func (m *memoryDirectoryRepos) FindByID(ctx context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id], nil
}

func (m *memoryDirectoryRepos) CreateWithIdentity(ctx context.Context, u *model.User, ident *model.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ident.Provider + "/" + ident.ProviderUserID
	if _, ok := m.identities[key]; ok {
		return repository.ErrDuplicateIdentity
	}
	m.users[u.ID] = u
	m.identities[key] = u.ID
	return nil
}

func (m *memoryDirectoryRepos) FindUserByIdentity(ctx context.Context, provider, subject string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.identities[provider+"/"+subject]
	if !ok {
		return nil, nil
	}
	return m.users[id], nil
}

// --- テスト ---

func TestDirectory_Ensure_CreatesOnFirstContact(t *testing.T) {
	repos := newMemoryDirectoryRepos()
	d := NewDirectory(repos, repos)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	d.now = func() time.Time { return fixed }

	ext := ExternalIdentity{Provider: "google", Subject: "sub-1", Email: "alice@example.com", Name: "Alice"}
	u, err := d.Ensure(context.Background(), ext)
	if err != nil {
		t.Fatalf("Ensure error: %v", err)
	}
	if u.ID == "" || u.Email != "alice@example.com" || u.Name != "Alice" || !u.CreatedAt.Equal(fixed) {
		t.Errorf("Ensure = %+v", u)
	}

	again, err := d.Ensure(context.Background(), ext)
	if err != nil {
		t.Fatalf("second Ensure error: %v", err)
	}
	if again.ID != u.ID {
		t.Errorf("second Ensure returned a different user: %s != %s", again.ID, u.ID)
	}
}

func TestDirectory_Ensure_ConcurrentFirstContact(t *testing.T) {
	repos := newMemoryDirectoryRepos()
	d := NewDirectory(repos, repos)
	ext := ExternalIdentity{Provider: "google", Subject: "sub-race", Email: "race@example.com"}

	const n = 8
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, err := d.Ensure(context.Background(), ext)
			if err != nil {
				t.Errorf("Ensure error: %v", err)
				return
			}
			ids[i] = u.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("concurrent Ensure returned different users: %v", ids)
		}
	}
	if len(repos.users) != 1 {
		t.Errorf("users = %d, want 1", len(repos.users))
	}
}

func TestDirectory_Ensure_DuplicateResolvedByReload(t *testing.T) {
	winner := &model.User{ID: "winner", Email: "w@example.com"}
	calls := 0
	identRepo := &mockIdentityRepo{
		findUserByIdentityFn: func(ctx context.Context, provider, subject string) (*model.User, error) {
			calls++
			if calls == 1 {
				return nil, nil
			}
			return winner, nil
		},
	}
	userRepo := &mockUserRepo{
		createWithIdentityFn: func(ctx context.Context, user *model.User, identity *model.Identity) error {
			return repository.ErrDuplicateIdentity
		},
	}

	u, err := NewDirectory(userRepo, identRepo).Ensure(context.Background(),
		ExternalIdentity{Provider: "google", Subject: "s"})
	if err != nil {
		t.Fatalf("Ensure error: %v", err)
	}
	if u.ID != "winner" {
		t.Errorf("Ensure = %+v, want winner", u)
	}
}

func TestDirectory_Ensure_Errors(t *testing.T) {
	d := NewDirectory(&mockUserRepo{}, &mockIdentityRepo{})
	if _, err := d.Ensure(context.Background(), ExternalIdentity{Provider: "google"}); err == nil {
		t.Error("expected error for missing subject")
	}

	dbErr := errors.New("db down")
	d = NewDirectory(&mockUserRepo{}, &mockIdentityRepo{
		findUserByIdentityFn: func(ctx context.Context, provider, subject string) (*model.User, error) {
			return nil, dbErr
		},
	})
	if _, err := d.Ensure(context.Background(), ExternalIdentity{Provider: "google", Subject: "s"}); !errors.Is(err, dbErr) {
		t.Errorf("err = %v, want wrapped db error", err)
	}
}

func TestDirectory_Ensure_NameFallback(t *testing.T) {
	repos := newMemoryDirectoryRepos()
	u, err := NewDirectory(repos, repos).Ensure(context.Background(),
		ExternalIdentity{Provider: "proxy", Subject: "bob", Email: "bob@example.com"})
	if err != nil {
		t.Fatalf("Ensure error: %v", err)
	}
	if u.Name != "bob" {
		t.Errorf("Name = %q, want %q", u.Name, "bob")
	}
}

func TestDirectory_Caller(t *testing.T) {
	userRepo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			if id == "u1" {
				return &model.User{ID: "u1", Email: "a@example.com", Name: "A"}, nil
			}
			return nil, nil
		},
	}
	d := NewDirectory(userRepo, &mockIdentityRepo{})

	c, err := d.Caller(context.Background(), "u1")
	if err != nil || c.UserID != "u1" || c.Email != "a@example.com" {
		t.Errorf("Caller(u1) = (%+v, %v)", c, err)
	}

	c, err = d.Caller(context.Background(), "ghost")
	if err != nil || c.Authenticated() {
		t.Errorf("Caller(ghost) = (%+v, %v), want unauthenticated", c, err)
	}

	c, err = d.Caller(context.Background(), "")
	if err != nil || c.Authenticated() {
		t.Errorf("Caller(\"\") = (%+v, %v), want unauthenticated", c, err)
	}
}
