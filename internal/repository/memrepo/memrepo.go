// Package memrepo はリポジトリインターフェースのインメモリ実装を提供する。
// PostgreSQL実装と同じ番兵エラー（ErrDuplicate、ErrCheckViolation、ErrNotFound）を返すため、
// サービス層やハンドラーのテストでDBなしに関係の整合性を検証できる。
package memrepo

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/ltme/internal/model"
	"github.com/hitoshi/ltme/internal/repository"
)

// recentWindow は recent フィルタの対象期間。
const recentWindow = 7 * 24 * time.Hour

type edge struct {
	from, to string
}

type albumPost struct {
	postID   string
	position int
	seq      int
}

// DB は全テーブルを保持するインメモリのデータベース。
type DB struct {
	mu         sync.RWMutex
	users      map[string]*model.User
	sessions   map[string]*model.Session
	posts      map[string]*model.Post
	albums     map[string]*model.Album
	albumPosts map[string][]albumPost
	follows    map[edge]time.Time
	saved      map[edge]time.Time
	seq        int
	now        func() time.Time
}

// New は空のDBを生成する。
func New() *DB {
	return &DB{
		users:      make(map[string]*model.User),
		sessions:   make(map[string]*model.Session),
		posts:      make(map[string]*model.Post),
		albums:     make(map[string]*model.Album),
		albumPosts: make(map[string][]albumPost),
		follows:    make(map[edge]time.Time),
		saved:      make(map[edge]time.Time),
		now:        time.Now,
	}
}

// Users はUserRepositoryを返す。
func (db *DB) Users() *UserRepo { return &UserRepo{db} }

// Sessions はSessionRepositoryを返す。
func (db *DB) Sessions() *SessionRepo { return &SessionRepo{db} }

// Posts はPostRepositoryを返す。
func (db *DB) Posts() *PostRepo { return &PostRepo{db} }

// Albums はAlbumRepositoryを返す。
func (db *DB) Albums() *AlbumRepo { return &AlbumRepo{db} }

// Follows はFollowRepositoryを返す。
func (db *DB) Follows() *FollowRepo { return &FollowRepo{db} }

// SavedPosts はSavedPostRepositoryを返す。
func (db *DB) SavedPosts() *SavedPostRepo { return &SavedPostRepo{db} }

// nextSeq は挿入順を表す単調増加の連番を返す。呼び出し側がロックを保持すること。
func (db *DB) nextSeq() int {
	db.seq++
	return db.seq
}

// stamp は挿入順で必ず増加する作成日時を返す。呼び出し側がロックを保持すること。
func (db *DB) stamp() time.Time {
	return db.now().Add(time.Duration(db.nextSeq()))
}

func (db *DB) profileOf(u *model.User) model.Profile {
	p := model.Profile{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Bio:         u.Bio,
		AvatarURL:   u.AvatarURL,
		CreatedAt:   u.CreatedAt,
	}
	for _, post := range db.posts {
		if post.UserID == u.ID {
			p.PostCount++
		}
	}
	for e := range db.follows {
		if e.to == u.ID {
			p.FollowerCount++
		}
		if e.from == u.ID {
			p.FollowingCount++
		}
	}
	return p
}

// withAuthor は投稿者情報を埋めた投稿のコピーを返す。
func (db *DB) withAuthor(p *model.Post) model.Post {
	out := *p
	out.Tags = append([]string{}, p.Tags...)
	if u, ok := db.users[p.UserID]; ok {
		out.Username = u.Username
		out.AvatarURL = u.AvatarURL
	}
	return out
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// --- users ---

// UserRepo はUserRepositoryのインメモリ実装。
type UserRepo struct{ db *DB }

func (r *UserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	if u, ok := r.db.users[id]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, nil
}

func (r *UserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	for _, u := range r.db.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *UserRepo) FindByUsername(_ context.Context, username string) (*model.User, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	for _, u := range r.db.users {
		if u.Username == username {
			copied := *u
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *UserRepo) Create(_ context.Context, user *model.User) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.users[user.ID]; ok {
		return repository.ErrDuplicate
	}
	for _, u := range r.db.users {
		if u.Email == user.Email || u.Username == user.Username {
			return repository.ErrDuplicate
		}
	}
	copied := *user
	r.db.users[user.ID] = &copied
	return nil
}

func (r *UserRepo) UpdateProfile(_ context.Context, user *model.User) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.users[user.ID]
	if !ok {
		return repository.ErrNotFound
	}
	for id, other := range r.db.users {
		if id != user.ID && other.Username == user.Username {
			return repository.ErrDuplicate
		}
	}
	u.Username = user.Username
	u.DisplayName = user.DisplayName
	u.Bio = user.Bio
	u.AvatarURL = user.AvatarURL
	u.UpdatedAt = user.UpdatedAt
	return nil
}

// DeleteByID はユーザーと関連行を削除する（PostgreSQLのCASCADE相当）。
func (r *UserRepo) DeleteByID(_ context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.users[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.db.users, id)
	for sid, s := range r.db.sessions {
		if s.UserID == id {
			delete(r.db.sessions, sid)
		}
	}
	for pid, p := range r.db.posts {
		if p.UserID == id {
			r.db.deletePostLocked(pid)
		}
	}
	for aid, a := range r.db.albums {
		if a.UserID == id {
			delete(r.db.albums, aid)
			delete(r.db.albumPosts, aid)
		}
	}
	for e := range r.db.follows {
		if e.from == id || e.to == id {
			delete(r.db.follows, e)
		}
	}
	for e := range r.db.saved {
		if e.from == id {
			delete(r.db.saved, e)
		}
	}
	return nil
}

func (r *UserRepo) GetProfile(_ context.Context, id string) (*model.Profile, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	u, ok := r.db.users[id]
	if !ok {
		return nil, nil
	}
	p := r.db.profileOf(u)
	return &p, nil
}

func (r *UserRepo) ListTopByPostCount(_ context.Context, limit int) ([]model.Profile, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var profiles []model.Profile
	for _, u := range r.db.users {
		if p := r.db.profileOf(u); p.PostCount > 0 {
			profiles = append(profiles, p)
		}
	}
	sort.SliceStable(profiles, func(i, j int) bool {
		if profiles[i].PostCount != profiles[j].PostCount {
			return profiles[i].PostCount > profiles[j].PostCount
		}
		if !profiles[i].CreatedAt.Equal(profiles[j].CreatedAt) {
			return profiles[i].CreatedAt.Before(profiles[j].CreatedAt)
		}
		return profiles[i].ID < profiles[j].ID
	})
	return page(profiles, limit, 0), nil
}

func (r *UserRepo) Search(_ context.Context, query string, limit int) ([]model.Profile, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var profiles []model.Profile
	for _, u := range r.db.users {
		if containsFold(u.Username, query) || containsFold(u.DisplayName, query) {
			profiles = append(profiles, r.db.profileOf(u))
		}
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].Username < profiles[j].Username })
	return page(profiles, limit, 0), nil
}

// --- sessions ---

// SessionRepo はSessionRepositoryのインメモリ実装。
type SessionRepo struct{ db *DB }

func (r *SessionRepo) Create(_ context.Context, session *model.Session) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.users[session.UserID]; !ok {
		return repository.ErrNotFound
	}
	copied := *session
	r.db.sessions[session.ID] = &copied
	return nil
}

func (r *SessionRepo) FindByID(_ context.Context, id string) (*model.Session, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	s, ok := r.db.sessions[id]
	if !ok || !s.ExpiresAt.After(r.db.now()) {
		return nil, nil
	}
	copied := *s
	return &copied, nil
}

func (r *SessionRepo) DeleteByID(_ context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	delete(r.db.sessions, id)
	return nil
}

func (r *SessionRepo) DeleteByUserID(_ context.Context, userID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for id, s := range r.db.sessions {
		if s.UserID == userID {
			delete(r.db.sessions, id)
		}
	}
	return nil
}

func (r *SessionRepo) DeleteExpired(_ context.Context) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	now := r.db.now()
	for id, s := range r.db.sessions {
		if !s.ExpiresAt.After(now) {
			delete(r.db.sessions, id)
			n++
		}
	}
	return n, nil
}

// --- posts ---

// PostRepo はPostRepositoryのインメモリ実装。
type PostRepo struct{ db *DB }

func (r *PostRepo) FindByID(_ context.Context, id string) (*model.Post, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	p, ok := r.db.posts[id]
	if !ok {
		return nil, nil
	}
	out := r.db.withAuthor(p)
	return &out, nil
}

func (r *PostRepo) Create(_ context.Context, post *model.Post) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.users[post.UserID]; !ok {
		return repository.ErrNotFound
	}
	if _, ok := r.db.posts[post.ID]; ok {
		return repository.ErrDuplicate
	}
	copied := *post
	copied.Tags = append([]string{}, post.Tags...)
	r.db.posts[post.ID] = &copied
	return nil
}

func (r *PostRepo) Update(_ context.Context, post *model.Post) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.posts[post.ID]
	if !ok {
		return repository.ErrNotFound
	}
	p.Title = post.Title
	p.Caption = post.Caption
	p.Tags = append([]string{}, post.Tags...)
	p.UpdatedAt = post.UpdatedAt
	return nil
}

func (r *PostRepo) Delete(_ context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.posts[id]; !ok {
		return repository.ErrNotFound
	}
	r.db.deletePostLocked(id)
	return nil
}

func (db *DB) deletePostLocked(id string) {
	delete(db.posts, id)
	for e := range db.saved {
		if e.to == id {
			delete(db.saved, e)
		}
	}
	for aid, aps := range db.albumPosts {
		kept := aps[:0]
		for _, ap := range aps {
			if ap.postID != id {
				kept = append(kept, ap)
			}
		}
		db.albumPosts[aid] = kept
	}
}

func (r *PostRepo) IncrementViewCount(_ context.Context, id string) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.posts[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	p.ViewCount++
	return p.ViewCount, nil
}

// sortPosts は作成日時の新しい順、同時刻はID降順に並べる。
func sortPosts(posts []model.Post) {
	sort.Slice(posts, func(i, j int) bool {
		if !posts[i].CreatedAt.Equal(posts[j].CreatedAt) {
			return posts[i].CreatedAt.After(posts[j].CreatedAt)
		}
		return posts[i].ID > posts[j].ID
	})
}

func (r *PostRepo) List(_ context.Context, q model.PostQuery) ([]model.Post, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	cutoff := r.db.now().Add(-recentWindow)
	posts := []model.Post{}
	for _, p := range r.db.posts {
		if q.UserID != "" && p.UserID != q.UserID {
			continue
		}
		switch q.Filter {
		case model.PostFilterFollowing:
			if _, ok := r.db.follows[edge{q.ViewerID, p.UserID}]; !ok {
				continue
			}
		case model.PostFilterRecent:
			if p.CreatedAt.Before(cutoff) {
				continue
			}
		}
		if q.Search != "" && !containsFold(p.Title, q.Search) && !containsFold(p.Caption, q.Search) {
			continue
		}
		posts = append(posts, r.db.withAuthor(p))
	}
	sortPosts(posts)
	return page(posts, q.Limit, q.Offset), nil
}

func (r *PostRepo) ListSavedByUser(_ context.Context, userID string, limit, offset int) ([]model.Post, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	type savedAt struct {
		post model.Post
		at   time.Time
	}
	var items []savedAt
	for e, at := range r.db.saved {
		if e.from != userID {
			continue
		}
		if p, ok := r.db.posts[e.to]; ok {
			items = append(items, savedAt{r.db.withAuthor(p), at})
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].at.After(items[j].at) })

	posts := make([]model.Post, 0, len(items))
	for _, it := range items {
		posts = append(posts, it.post)
	}
	return page(posts, limit, offset), nil
}

func (r *PostRepo) ExistingImageKeys(_ context.Context, keys []string) (map[string]bool, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	found := make(map[string]bool, len(keys))
	for _, k := range keys {
		for _, p := range r.db.posts {
			if p.ImageKey == k {
				found[k] = true
			}
		}
		for _, u := range r.db.users {
			if u.AvatarURL != "" && strings.HasSuffix(u.AvatarURL, k) {
				found[k] = true
			}
		}
	}
	return found, nil
}

// --- albums ---

// AlbumRepo はAlbumRepositoryのインメモリ実装。
type AlbumRepo struct{ db *DB }

func (r *AlbumRepo) albumOf(a *model.Album) model.Album {
	out := *a
	out.PostCount = len(r.db.albumPosts[a.ID])
	if u, ok := r.db.users[a.UserID]; ok {
		out.Username = u.Username
	}
	return out
}

func (r *AlbumRepo) FindByID(_ context.Context, id string) (*model.Album, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	a, ok := r.db.albums[id]
	if !ok {
		return nil, nil
	}
	out := r.albumOf(a)
	return &out, nil
}

func (r *AlbumRepo) Create(_ context.Context, album *model.Album) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.users[album.UserID]; !ok {
		return repository.ErrNotFound
	}
	copied := *album
	r.db.albums[album.ID] = &copied
	return nil
}

func (r *AlbumRepo) List(_ context.Context, q model.AlbumQuery) ([]model.Album, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	albums := []model.Album{}
	for _, a := range r.db.albums {
		if q.UserID != "" && a.UserID != q.UserID {
			continue
		}
		if !q.IncludePrivate && !a.IsPublic {
			continue
		}
		if q.Search != "" && !containsFold(a.Title, q.Search) && !containsFold(a.Description, q.Search) {
			continue
		}
		albums = append(albums, r.albumOf(a))
	}
	sort.Slice(albums, func(i, j int) bool {
		if !albums[i].CreatedAt.Equal(albums[j].CreatedAt) {
			return albums[i].CreatedAt.After(albums[j].CreatedAt)
		}
		return albums[i].ID > albums[j].ID
	})
	return page(albums, q.Limit, 0), nil
}

func (r *AlbumRepo) AddPost(_ context.Context, albumID, postID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.albums[albumID]; !ok {
		return repository.ErrNotFound
	}
	if _, ok := r.db.posts[postID]; !ok {
		return repository.ErrNotFound
	}
	aps := r.db.albumPosts[albumID]
	for _, ap := range aps {
		if ap.postID == postID {
			return repository.ErrDuplicate
		}
	}
	r.db.albumPosts[albumID] = append(aps, albumPost{postID: postID, position: len(aps), seq: r.db.nextSeq()})
	return nil
}

func (r *AlbumRepo) ListPosts(_ context.Context, albumID string) ([]model.Post, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	aps := append([]albumPost{}, r.db.albumPosts[albumID]...)
	sort.SliceStable(aps, func(i, j int) bool {
		if aps[i].position != aps[j].position {
			return aps[i].position < aps[j].position
		}
		return aps[i].seq < aps[j].seq
	})
	posts := []model.Post{}
	for _, ap := range aps {
		if p, ok := r.db.posts[ap.postID]; ok {
			posts = append(posts, r.db.withAuthor(p))
		}
	}
	return posts, nil
}

// --- follows ---

// FollowRepo はFollowRepositoryのインメモリ実装。
type FollowRepo struct{ db *DB }

func (r *FollowRepo) Create(_ context.Context, followerID, followingID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if followerID == followingID {
		return repository.ErrCheckViolation
	}
	if _, ok := r.db.users[followerID]; !ok {
		return repository.ErrNotFound
	}
	if _, ok := r.db.users[followingID]; !ok {
		return repository.ErrNotFound
	}
	e := edge{followerID, followingID}
	if _, ok := r.db.follows[e]; ok {
		return repository.ErrDuplicate
	}
	r.db.follows[e] = r.db.stamp()
	return nil
}

func (r *FollowRepo) Delete(_ context.Context, followerID, followingID string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	e := edge{followerID, followingID}
	_, ok := r.db.follows[e]
	delete(r.db.follows, e)
	return ok, nil
}

func (r *FollowRepo) ListFollowingIDs(_ context.Context, userID string) ([]string, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	ids := []string{}
	for e := range r.db.follows {
		if e.from == userID {
			ids = append(ids, e.to)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *FollowRepo) listProfiles(match func(edge) (string, bool)) []model.Profile {
	type entry struct {
		profile model.Profile
		at      time.Time
	}
	var entries []entry
	for e, at := range r.db.follows {
		if id, ok := match(e); ok {
			if u, ok := r.db.users[id]; ok {
				entries = append(entries, entry{r.db.profileOf(u), at})
			}
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].at.After(entries[j].at) })
	profiles := []model.Profile{}
	for _, e := range entries {
		profiles = append(profiles, e.profile)
	}
	return profiles
}

func (r *FollowRepo) ListFollowers(_ context.Context, userID string) ([]model.Profile, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	return r.listProfiles(func(e edge) (string, bool) { return e.from, e.to == userID }), nil
}

func (r *FollowRepo) ListFollowing(_ context.Context, userID string) ([]model.Profile, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	return r.listProfiles(func(e edge) (string, bool) { return e.to, e.from == userID }), nil
}

// --- saved posts ---

// SavedPostRepo はSavedPostRepositoryのインメモリ実装。
type SavedPostRepo struct{ db *DB }

func (r *SavedPostRepo) Create(_ context.Context, userID, postID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.users[userID]; !ok {
		return repository.ErrNotFound
	}
	if _, ok := r.db.posts[postID]; !ok {
		return repository.ErrNotFound
	}
	e := edge{userID, postID}
	if _, ok := r.db.saved[e]; ok {
		return repository.ErrDuplicate
	}
	r.db.saved[e] = r.db.stamp()
	return nil
}

func (r *SavedPostRepo) Delete(_ context.Context, userID, postID string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	e := edge{userID, postID}
	_, ok := r.db.saved[e]
	delete(r.db.saved, e)
	return ok, nil
}

func (r *SavedPostRepo) ListPostIDs(_ context.Context, userID string) ([]string, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	ids := []string{}
	for e := range r.db.saved {
		if e.from == userID {
			ids = append(ids, e.to)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// compile-time interface checks
var (
	_ repository.UserRepository      = (*UserRepo)(nil)
	_ repository.SessionRepository   = (*SessionRepo)(nil)
	_ repository.PostRepository      = (*PostRepo)(nil)
	_ repository.AlbumRepository     = (*AlbumRepo)(nil)
	_ repository.FollowRepository    = (*FollowRepo)(nil)
	_ repository.SavedPostRepository = (*SavedPostRepo)(nil)
)
