package service

import (
	"context"
	"sync"
	"time"

	"qepo_backend/internal/cache"
	"qepo_backend/internal/model"
	"qepo_backend/internal/queue"
	"qepo_backend/internal/storage"
)

// =============================================================================
// MOCK IDENTITY PROVIDER
// =============================================================================

type mockIdentity struct {
	mu sync.Mutex

	createUserFn      func(ctx context.Context, email, password string) (*model.IdentityUser, error)
	deleteUserFn      func(ctx context.Context, id string) error
	findUserByEmailFn func(ctx context.Context, email string) (*model.IdentityUser, error)
	signInFn          func(ctx context.Context, email, password string) (*model.Session, error)
	getCurrentUserFn  func(ctx context.Context, token string) (*model.IdentityUser, error)
	signOutFn         func(ctx context.Context, token string) error

	createCalls []string
	deleteCalls []string
}

func (m *mockIdentity) CreateUser(ctx context.Context, email, password string) (*model.IdentityUser, error) {
	m.mu.Lock()
	m.createCalls = append(m.createCalls, email)
	m.mu.Unlock()
	if m.createUserFn != nil {
		return m.createUserFn(ctx, email, password)
	}
	return &model.IdentityUser{ID: "00000000-0000-0000-0000-000000000001", Email: email, CreatedAt: time.Now()}, nil
}

func (m *mockIdentity) DeleteUser(ctx context.Context, id string) error {
	m.mu.Lock()
	m.deleteCalls = append(m.deleteCalls, id)
	m.mu.Unlock()
	if m.deleteUserFn != nil {
		return m.deleteUserFn(ctx, id)
	}
	return nil
}

func (m *mockIdentity) FindUserByEmail(ctx context.Context, email string) (*model.IdentityUser, error) {
	if m.findUserByEmailFn != nil {
		return m.findUserByEmailFn(ctx, email)
	}
	return nil, model.ErrIdentityNotFound
}

func (m *mockIdentity) SignIn(ctx context.Context, email, password string) (*model.Session, error) {
	if m.signInFn != nil {
		return m.signInFn(ctx, email, password)
	}
	return nil, model.ErrInvalidCredentials
}

func (m *mockIdentity) GetCurrentUser(ctx context.Context, token string) (*model.IdentityUser, error) {
	if m.getCurrentUserFn != nil {
		return m.getCurrentUserFn(ctx, token)
	}
	return nil, nil
}

func (m *mockIdentity) SignOut(ctx context.Context, token string) error {
	if m.signOutFn != nil {
		return m.signOutFn(ctx, token)
	}
	return nil
}

// =============================================================================
// IN-MEMORY PROFILE REPOSITORY
// =============================================================================
//
// memProfileRepo enforces the same uniqueness rules as the database (primary
// key and profiles_username_key) under a mutex, so concurrent tests observe
// the authoritative guard. Hooks inject failures.

type memProfileRepo struct {
	mu         sync.Mutex
	byID       map[string]*model.Profile
	createErr  error
	setURLErr  error
	findErr    error
	updateHook func() // runs before Update takes the lock
	// findHook runs after FindByID has read its row, outside the lock.
	findHook func(ctx context.Context, p *model.Profile) error

	updateCalls int
	setURLCalls int
}

func newMemProfileRepo(profiles ...*model.Profile) *memProfileRepo {
	r := &memProfileRepo{byID: map[string]*model.Profile{}}
	for _, p := range profiles {
		cp := *p
		r.byID[p.UserID] = &cp
	}
	return r
}

func (r *memProfileRepo) Create(ctx context.Context, p *model.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	if _, ok := r.byID[p.UserID]; ok {
		return model.ErrProfileExists
	}
	if r.usernameOwnerLocked(p.Username) != "" {
		return model.ErrUsernameTaken
	}
	p.CreatedAt, p.UpdatedAt = time.Now(), time.Now()
	cp := *p
	r.byID[p.UserID] = &cp
	return nil
}

func (r *memProfileRepo) FindByID(ctx context.Context, userID string) (*model.Profile, error) {
	r.mu.Lock()
	if r.findErr != nil {
		r.mu.Unlock()
		return nil, r.findErr
	}
	p, ok := r.byID[userID]
	if !ok {
		r.mu.Unlock()
		return nil, model.ErrProfileNotFound
	}
	cp := *p
	hook := r.findHook
	r.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, &cp); err != nil {
			return nil, err
		}
	}
	return &cp, nil
}

func (r *memProfileRepo) FindByUsername(ctx context.Context, username string) (*model.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.usernameOwnerLocked(username)
	if id == "" {
		return nil, model.ErrProfileNotFound
	}
	cp := *r.byID[id]
	return &cp, nil
}

func (r *memProfileRepo) Exists(ctx context.Context, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byID[userID]
	return ok, nil
}

func (r *memProfileRepo) Update(ctx context.Context, userID string, upd model.ProfileUpdate) (*model.Profile, error) {
	if r.updateHook != nil {
		r.updateHook()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateCalls++

	p, ok := r.byID[userID]
	if !ok {
		return nil, model.ErrProfileNotFound
	}
	if upd.Username != nil {
		if owner := r.usernameOwnerLocked(*upd.Username); owner != "" && owner != userID {
			return nil, model.ErrUsernameTaken
		}
		p.Username = *upd.Username
	}
	if upd.Bio != nil {
		if *upd.Bio == "" {
			p.Bio = nil
		} else {
			b := *upd.Bio
			p.Bio = &b
		}
	}
	if upd.ProfilePictureURL != nil {
		u := *upd.ProfilePictureURL
		p.ProfilePictureURL = &u
	}
	p.UpdatedAt = time.Now()
	cp := *p
	return &cp, nil
}

func (r *memProfileRepo) SetProfilePictureURL(ctx context.Context, userID, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setURLCalls++
	if r.setURLErr != nil {
		return r.setURLErr
	}
	p, ok := r.byID[userID]
	if !ok {
		return model.ErrProfileNotFound
	}
	p.ProfilePictureURL = &url
	return nil
}

func (r *memProfileRepo) usernameOwnerLocked(username string) string {
	for id, p := range r.byID {
		if p.Username == username {
			return id
		}
	}
	return ""
}

func (r *memProfileRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// =============================================================================
// MOCK OBJECT STORE
// =============================================================================

type uploadCall struct {
	Bucket, Key, ContentType string
	Overwrite                bool
	Size                     int
}

type mockObjectStore struct {
	mu       sync.Mutex
	uploadFn func(ctx context.Context, bucket, key string, data []byte) (string, error)
	uploads  []uploadCall
	objects  map[string][]byte
}

func (m *mockObjectStore) Upload(ctx context.Context, bucket, key string, data []byte, contentType string, overwrite bool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads = append(m.uploads, uploadCall{Bucket: bucket, Key: key, ContentType: contentType, Overwrite: overwrite, Size: len(data)})
	if m.uploadFn != nil {
		if _, err := m.uploadFn(ctx, bucket, key, data); err != nil {
			return "", err
		}
	}
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	if _, exists := m.objects[bucket+"/"+key]; exists && !overwrite {
		return "", storage.ErrObjectExists
	}
	m.objects[bucket+"/"+key] = data
	return key, nil
}

func (m *mockObjectStore) GetPublicURL(bucket, path string) string {
	return storage.PublicURL("https://cdn.example.com/storage/v1/object/public", bucket, path)
}

// =============================================================================
// MOCK CACHE AND PUBLISHER
// =============================================================================

type mockProfileCache struct {
	mu          sync.Mutex
	entries     map[string]*model.Profile
	versions    map[string]int64
	invalidated []string
}

func newMockProfileCache() *mockProfileCache {
	return &mockProfileCache{entries: map[string]*model.Profile{}, versions: map[string]int64{}}
}

func (c *mockProfileCache) Get(ctx context.Context, userID string) (*model.Profile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.entries[userID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	cp := *p
	return &cp, nil
}

func (c *mockProfileCache) Version(ctx context.Context, userID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[userID], nil
}

func (c *mockProfileCache) Fill(ctx context.Context, p *model.Profile, version int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versions[p.UserID] != version {
		return nil
	}
	cp := *p
	c.entries[p.UserID] = &cp
	return nil
}

func (c *mockProfileCache) Invalidate(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
	c.versions[userID]++
	c.invalidated = append(c.invalidated, userID)
	return nil
}

func (c *mockProfileCache) cached(userID string) (*model.Profile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.entries[userID]
	return p, ok
}

type mockPublisher struct {
	mu     sync.Mutex
	events []queue.IdentityEvent
}

func (m *mockPublisher) Publish(ctx context.Context, stream string, event queue.IdentityEvent) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return "1-0", nil
}

func strPtr(s string) *string { return &s }
