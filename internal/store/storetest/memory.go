// Package storetest provides an in-memory store.Store for package tests.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/handhunter/internal/store"
	"github.com/kiranshivaraju/handhunter/pkg/models"
)

// Memory implements store.Store with the same transition and progress
// rules as the Postgres store. Set an entry in Fail to make the named
// method return that error.
type Memory struct {
	mu sync.Mutex

	Users    map[uuid.UUID]*models.User
	Keys     map[uuid.UUID]*models.APIKey
	Videos   map[string]*models.Video
	Jobs     map[uuid.UUID]*models.Job
	Segments map[uuid.UUID][]models.SegmentResult
	Players  map[string]uuid.UUID
	Hands    []*models.PersistedHand
	StreamID uuid.UUID

	// ProgressWrites records every accepted UpdateJobProgress value per job.
	ProgressWrites map[uuid.UUID][]int

	Fail map[string]error
	// FailHand, if set, is consulted before each CreateHand.
	FailHand func(h *models.PersistedHand) error
}

var _ store.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		Users:          make(map[uuid.UUID]*models.User),
		Keys:           make(map[uuid.UUID]*models.APIKey),
		Videos:         make(map[string]*models.Video),
		Jobs:           make(map[uuid.UUID]*models.Job),
		Segments:       make(map[uuid.UUID][]models.SegmentResult),
		Players:        make(map[string]uuid.UUID),
		StreamID:       uuid.New(),
		ProgressWrites: make(map[uuid.UUID][]int),
		Fail:           make(map[string]error),
	}
}

func (m *Memory) fail(method string) error {
	return m.Fail[method]
}

// AddUser registers a user with the given role and returns its id.
func (m *Memory) AddUser(role string) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := &models.User{ID: uuid.New(), Name: role + " user", Role: role, CreatedAt: time.Now().UTC()}
	m.Users[u.ID] = u
	return u.ID
}

// Job returns a copy of the stored job.
func (m *Memory) Job(id uuid.UUID) (models.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.Jobs[id]
	if !ok {
		return models.Job{}, false
	}
	return *j, true
}

func (m *Memory) Ping(context.Context) error { return m.fail("Ping") }

func (m *Memory) CreateUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateUser"); err != nil {
		return err
	}
	if _, ok := m.Users[user.ID]; ok {
		return store.ErrDuplicateKey
	}
	u := *user
	m.Users[user.ID] = &u
	return nil
}

func (m *Memory) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetUser"); err != nil {
		return nil, err
	}
	u, ok := m.Users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetAPIKeyByPrefix"); err != nil {
		return nil, err
	}
	var out []*models.APIKey
	for _, k := range m.Keys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.Keys[id]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now().UTC()
	k.LastUsedAt = &now
	return nil
}

func (m *Memory) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateAPIKey"); err != nil {
		return err
	}
	cp := *key
	m.Keys[key.ID] = &cp
	return nil
}

func (m *Memory) ListAPIKeys(_ context.Context, userID uuid.UUID) ([]*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.APIKey
	for _, k := range m.Keys {
		if k.UserID == userID && k.DeletedAt == nil {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) RevokeAPIKey(_ context.Context, id, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.Keys[id]
	if !ok || k.UserID != userID || k.DeletedAt != nil {
		return store.ErrNotFound
	}
	now := time.Now().UTC()
	k.DeletedAt = &now
	return nil
}

func (m *Memory) UpsertVideo(_ context.Context, url, youtubeID string) (*models.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpsertVideo"); err != nil {
		return nil, err
	}
	v, ok := m.Videos[youtubeID]
	if !ok {
		v = &models.Video{ID: uuid.New(), YouTubeID: youtubeID, CreatedAt: time.Now().UTC()}
		m.Videos[youtubeID] = v
	}
	v.URL = url
	cp := *v
	return &cp, nil
}

func (m *Memory) ResolveUnsortedStream(context.Context) (uuid.UUID, error) {
	if err := m.fail("ResolveUnsortedStream"); err != nil {
		return uuid.Nil, err
	}
	return m.StreamID, nil
}

func (m *Memory) CreateJob(_ context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateJob"); err != nil {
		return err
	}
	if _, ok := m.Jobs[job.ID]; ok {
		return store.ErrDuplicateKey
	}
	cp := *job
	cp.Segments = append([]models.Segment(nil), job.Segments...)
	m.Jobs[job.ID] = &cp
	return nil
}

func (m *Memory) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetJob"); err != nil {
		return nil, err
	}
	j, ok := m.Jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *Memory) UpdateJobStatus(_ context.Context, id uuid.UUID, status string, opts ...store.JobUpdateOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpdateJobStatus:" + status); err != nil {
		return err
	}
	j, ok := m.Jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if !store.CanTransitionJob(j.Status, status) {
		return fmt.Errorf("%w: job %s -> %s", store.ErrInvalidTransition, j.Status, status)
	}

	now := time.Now().UTC()
	j.Status = status
	j.UpdatedAt = now
	if status == models.JobStatusProcessing {
		j.StartedAt = &now
	}
	if status == models.JobStatusCompleted || status == models.JobStatusFailed {
		j.CompletedAt = &now
		j.Progress = 100
	}

	u := store.ResolveJobUpdate(opts...)
	if u.ErrorMessage != nil {
		msg := *u.ErrorMessage
		j.ErrorMessage = &msg
	}
	if u.Result != nil {
		j.Result = u.Result
	}
	if u.StreamID != nil {
		sid := *u.StreamID
		j.StreamID = &sid
	}
	if u.HandsFound != nil {
		j.HandsFound = *u.HandsFound
	}
	return nil
}

func (m *Memory) UpdateJobProgress(_ context.Context, id uuid.UUID, progress, handsFound int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpdateJobProgress"); err != nil {
		return err
	}
	j, ok := m.Jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if progress > j.Progress {
		j.Progress = progress
	}
	j.HandsFound = handsFound
	m.ProgressWrites[id] = append(m.ProgressWrites[id], j.Progress)
	return nil
}

func (m *Memory) CountRecentJobs(_ context.Context, userID uuid.UUID, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CountRecentJobs"); err != nil {
		return 0, err
	}
	n := 0
	for _, j := range m.Jobs {
		if j.CreatedBy == userID && !j.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListSegmentClaims(_ context.Context, videoID uuid.UUID) ([]store.SegmentClaim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListSegmentClaims"); err != nil {
		return nil, err
	}
	var claims []store.SegmentClaim
	for _, j := range m.Jobs {
		if j.VideoID != videoID {
			continue
		}
		ok := make(map[string]bool)
		for _, r := range m.Segments[j.ID] {
			if r.Status == models.SegmentStatusSuccess {
				ok[r.SegmentID] = true
			}
		}
		for _, seg := range j.Segments {
			if j.IsTerminal() && !ok[seg.ID] {
				continue
			}
			claims = append(claims, store.SegmentClaim{JobID: j.ID, JobStatus: j.Status, Segment: seg})
		}
	}
	return claims, nil
}

func (m *Memory) FailStaleJobs(_ context.Context, msg string) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("FailStaleJobs"); err != nil {
		return nil, err
	}
	var ids []uuid.UUID
	now := time.Now().UTC()
	for _, j := range m.Jobs {
		if j.IsTerminal() {
			continue
		}
		results := m.Segments[j.ID]
		for i := range results {
			if results[i].Status == models.SegmentStatusPending || results[i].Status == models.SegmentStatusProcessing {
				results[i].Status = models.SegmentStatusFailed
				results[i].ErrorMessage = msg
			}
		}
		text := msg
		j.Status = models.JobStatusFailed
		j.ErrorMessage = &text
		j.Progress = 100
		j.CompletedAt = &now
		j.UpdatedAt = now
		ids = append(ids, j.ID)
	}
	return ids, nil
}

func (m *Memory) CreateSegmentResults(_ context.Context, results []models.SegmentResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateSegmentResults"); err != nil {
		return err
	}
	for _, r := range results {
		r.UpdatedAt = time.Now().UTC()
		m.Segments[r.JobID] = append(m.Segments[r.JobID], r)
	}
	return nil
}

func (m *Memory) UpdateSegmentResult(_ context.Context, result *models.SegmentResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpdateSegmentResult"); err != nil {
		return err
	}
	rs := m.Segments[result.JobID]
	for i := range rs {
		if rs[i].SegmentID != result.SegmentID {
			continue
		}
		if !store.CanTransitionSegment(rs[i].Status, result.Status) {
			return fmt.Errorf("%w: segment %s -> %s", store.ErrInvalidTransition, rs[i].Status, result.Status)
		}
		r := *result
		r.UpdatedAt = time.Now().UTC()
		rs[i] = r
		return nil
	}
	return store.ErrNotFound
}

func (m *Memory) ListSegmentResults(_ context.Context, jobID uuid.UUID) ([]models.SegmentResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]models.SegmentResult(nil), m.Segments[jobID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].SegmentIndex < out[j].SegmentIndex })
	return out, nil
}

func (m *Memory) FindOrCreatePlayer(_ context.Context, _, normalizedName string) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("FindOrCreatePlayer"); err != nil {
		return uuid.Nil, err
	}
	if id, ok := m.Players[normalizedName]; ok {
		return id, nil
	}
	id := uuid.New()
	m.Players[normalizedName] = id
	return id, nil
}

func (m *Memory) CreateHand(_ context.Context, hand *models.PersistedHand) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailHand != nil {
		if err := m.FailHand(hand); err != nil {
			return err
		}
	}
	cp := *hand
	m.Hands = append(m.Hands, &cp)
	return nil
}

func (m *Memory) ListJobHands(_ context.Context, jobID uuid.UUID) ([]store.StoredHand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListJobHands"); err != nil {
		return nil, err
	}
	var out []store.StoredHand
	for _, h := range m.Hands {
		if h.JobID == jobID {
			out = append(out, stored(h))
		}
	}
	return out, nil
}

func (m *Memory) ListHandsSince(_ context.Context, since time.Time, limit int) ([]store.StoredHand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListHandsSince"); err != nil {
		return nil, err
	}
	var out []store.StoredHand
	for i := len(m.Hands) - 1; i >= 0; i-- {
		h := m.Hands[i]
		if h.CreatedAt.Before(since) {
			continue
		}
		out = append(out, stored(h))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func stored(h *models.PersistedHand) store.StoredHand {
	return store.StoredHand{ID: h.ID, JobID: h.JobID, Number: h.Number, Raw: h.RawData, CreatedAt: h.CreatedAt}
}
