package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"projecthub/internal/models"
	"projecthub/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// userRepoStub is a stub for repository.UserRepository. Only the lookups
// the resolver uses are configurable; the rest panic if reached.
type userRepoStub struct {
	repository.UserRepository
	getByIDFn    func(context.Context, models.UserID) (*models.User, error)
	getByIDsFn   func(context.Context, []models.UserID) ([]*models.User, error)
	getByEmailFn func(context.Context, string) (*models.User, error)
}

func (s *userRepoStub) GetByID(ctx context.Context, id models.UserID) (*models.User, error) {
	return s.getByIDFn(ctx, id)
}
func (s *userRepoStub) GetByIDs(ctx context.Context, ids []models.UserID) ([]*models.User, error) {
	return s.getByIDsFn(ctx, ids)
}
func (s *userRepoStub) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getByEmailFn(ctx, email)
}

func noopUserRepo() *userRepoStub {
	return &userRepoStub{
		getByIDFn: func(_ context.Context, id models.UserID) (*models.User, error) {
			return nil, models.NewNotFoundError("User", id)
		},
		getByIDsFn: func(_ context.Context, _ []models.UserID) ([]*models.User, error) { return nil, nil },
		getByEmailFn: func(_ context.Context, email string) (*models.User, error) {
			return nil, models.NewNotFoundError("User", email)
		},
	}
}

func TestIdentityResolver_Paths(t *testing.T) {
	t.Parallel()
	id := models.NewUserID()
	known := &models.User{ID: id, Email: "ada@example.com", FullName: "Ada Lovelace"}

	repo := noopUserRepo()
	var byID, byEmail atomic.Int32
	repo.getByIDFn = func(_ context.Context, got models.UserID) (*models.User, error) {
		byID.Add(1)
		if got == id {
			return known, nil
		}
		return nil, models.NewNotFoundError("User", got)
	}
	repo.getByEmailFn = func(_ context.Context, email string) (*models.User, error) {
		byEmail.Add(1)
		if email == known.Email {
			return known, nil
		}
		return nil, models.NewNotFoundError("User", email)
	}
	r := NewIdentityResolver(repo)

	tests := []struct {
		name      string
		ref       string
		wantFound bool
	}{
		{name: "native id", ref: id.String(), wantFound: true},
		{name: "upper-case native id", ref: "  " + upper(id.String()) + " ", wantFound: true},
		{name: "legacy email", ref: "ADA@example.com", wantFound: true},
		{name: "unknown id", ref: models.NewID(), wantFound: false},
		{name: "unknown email", ref: "ghost@example.com", wantFound: false},
		{name: "garbage", ref: "not-an-id", wantFound: false},
		{name: "empty", ref: "", wantFound: false},
	}
	for _, tt := range tests {
		u, found, err := r.Resolve(context.Background(), tt.ref)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.wantFound, found, tt.name)
		if tt.wantFound {
			assert.Equal(t, id, u.ID, tt.name)
		} else {
			assert.Nil(t, u, tt.name)
		}
	}
	// Garbage and empty refs never reach the store.
	assert.Equal(t, int32(3), byID.Load())
	assert.Equal(t, int32(2), byEmail.Load())
}

func upper(s string) string {
	out := []byte(s)
	for i, c := range out {
		if c >= 'a' && c <= 'f' {
			out[i] = c - 'a' + 'A'
		}
	}
	return string(out)
}

func TestIdentityResolver_StoreFaultIsInternal(t *testing.T) {
	t.Parallel()
	repo := noopUserRepo()
	repo.getByIDFn = func(_ context.Context, _ models.UserID) (*models.User, error) {
		return nil, errors.New("connection reset")
	}
	r := NewIdentityResolver(repo)

	_, found, err := r.Resolve(context.Background(), models.NewID())
	assert.False(t, found)
	assertAppCode(t, err, models.CodeInternal)
}

func TestIdentityResolver_CollapsesConcurrentLookups(t *testing.T) {
	t.Parallel()
	id := models.NewUserID()
	release := make(chan struct{})
	var calls atomic.Int32

	repo := noopUserRepo()
	repo.getByIDFn = func(_ context.Context, _ models.UserID) (*models.User, error) {
		calls.Add(1)
		<-release
		return &models.User{ID: id, FullName: "Shared"}, nil
	}
	r := NewIdentityResolver(repo)

	const n = 8
	var wg sync.WaitGroup
	results := make([]*models.User, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, found, err := r.Resolve(context.Background(), id.String())
			assert.NoError(t, err)
			assert.True(t, found)
			results[i] = u
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Less(t, calls.Load(), int32(n))
	// Each caller owns its copy.
	results[0].FullName = "changed"
	assert.Equal(t, "Shared", results[1].FullName)
}

func TestIdentityResolver_CancelledCallerDoesNotFailOthers(t *testing.T) {
	t.Parallel()
	id := models.NewUserID()
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	repo := noopUserRepo()
	repo.getByIDFn = func(ctx context.Context, _ models.UserID) (*models.User, error) {
		once.Do(func() { close(started) })
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-release:
			return &models.User{ID: id, FullName: "Survivor"}, nil
		}
	}
	r := NewIdentityResolver(repo)

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := r.Resolve(first, id.String())
		firstErr <- err
	}()
	<-started

	type outcome struct {
		u     *models.User
		found bool
		err   error
	}
	second := make(chan outcome, 1)
	go func() {
		u, found, err := r.Resolve(context.Background(), id.String())
		second <- outcome{u, found, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)
	close(release)

	got := <-second
	require.NoError(t, got.err)
	assert.True(t, got.found)
	assert.Equal(t, "Survivor", got.u.FullName)
}

func TestIdentityResolver_ResolveMany(t *testing.T) {
	t.Parallel()
	a := &models.User{ID: models.NewUserID(), Email: "a@example.com"}
	b := &models.User{ID: models.NewUserID(), Email: "b@example.com"}

	repo := noopUserRepo()
	var batches [][]models.UserID
	repo.getByIDsFn = func(_ context.Context, ids []models.UserID) ([]*models.User, error) {
		batches = append(batches, ids)
		return []*models.User{a}, nil
	}
	repo.getByEmailFn = func(_ context.Context, email string) (*models.User, error) {
		if email == b.Email {
			return b, nil
		}
		return nil, models.NewNotFoundError("User", email)
	}
	r := NewIdentityResolver(repo)

	missing := models.NewUserID()
	got, err := r.ResolveMany(context.Background(), []models.UserID{a.ID, missing, a.ID, "b@example.com", "junk", ""})
	require.NoError(t, err)

	require.Len(t, batches, 1)
	assert.ElementsMatch(t, []models.UserID{a.ID, missing}, batches[0])
	assert.Len(t, got, 2)
	assert.Equal(t, a, got[a.ID])
	assert.Equal(t, b.ID, got["b@example.com"].ID)
}

func TestBuildAuthorView(t *testing.T) {
	t.Parallel()
	id := models.NewUserID()
	live := &models.User{ID: id, FullName: "Grace Hopper", Photo: "/uploads/x/master.jpg", Type: models.RoleMentor}

	v := BuildAuthorView(models.Author{ID: id, Name: "Old Name"}, live, true)
	assert.Equal(t, AuthorView{ID: id, Name: "Grace Hopper", Image: live.Photo, Initials: "GH", Type: models.RoleMentor, Resolved: true}, v)

	v = BuildAuthorView(models.Author{ID: "grace@example.com", Name: "grace hopper"}, nil, false)
	assert.Equal(t, AuthorView{Name: "grace hopper", Initials: "GH"}, v)

	v = BuildAuthorView(models.Author{ID: id}, nil, false)
	assert.Equal(t, AuthorView{ID: id, Name: "Unknown author", Initials: "UA"}, v)
}

func TestInitials(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"Ada Lovelace":        "AL",
		"ada":                 "A",
		"  jean   luc picard": "JL",
		"(Ω) omega":           "ΩO",
		"":                    "?",
		"!!! ???":             "?",
		"李 小龙":                "李小",
	}
	for in, want := range tests {
		assert.Equal(t, want, Initials(in), in)
	}
}
