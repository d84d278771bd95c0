package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/topic-registry-api/internal/models"
	"github.com/noah-isme/topic-registry-api/internal/repository"
	"github.com/noah-isme/topic-registry-api/pkg/realtime"
)

// fakeStore keeps the workflow tables in memory and mirrors the repository
// semantics: the mutex stands in for row locks and constraint checks run inside it.
type fakeStore struct {
	mu            sync.Mutex
	seq           int
	users         map[string]models.User
	classes       map[string]models.Class
	topics        map[string]models.Topic
	groups        map[string]models.Group
	members       map[string][]string
	swaps         map[string]models.SwapRequest
	results       map[string]models.TopicResult
	notifications []models.Notification
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:   map[string]models.User{},
		classes: map[string]models.Class{},
		topics:  map[string]models.Topic{},
		groups:  map[string]models.Group{},
		members: map[string][]string{},
		swaps:   map[string]models.SwapRequest{},
		results: map[string]models.TopicResult{},
	}
}

func (f *fakeStore) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *fakeStore) addUser(id string, role models.UserRole) {
	f.users[id] = models.User{ID: id, FullName: "User " + id, Role: role}
}

func (f *fakeStore) addClass(id, lecturerID string, finalProject bool) {
	f.classes[id] = models.Class{ID: id, Name: "Class " + id, LecturerID: lecturerID, IsFinalProject: finalProject}
}

func (f *fakeStore) addTopic(id, classID string, maxMembers int, status models.ApprovalStatus) {
	f.topics[id] = models.Topic{ID: id, ClassID: classID, LecturerID: f.classes[classID].LecturerID, Name: "Topic " + id, MaxMembers: maxMembers, ApprovalStatus: status}
}

func (f *fakeStore) addGroup(id, classID string, topicID *string, memberIDs ...string) {
	f.groups[id] = models.Group{ID: id, ClassID: classID, TopicID: topicID}
	f.members[id] = append([]string(nil), memberIDs...)
}

func (f *fakeStore) groupOf(userID, classID string) (models.Group, bool) {
	for _, g := range f.groups {
		if g.ClassID != classID {
			continue
		}
		for _, m := range f.members[g.ID] {
			if m == userID {
				return g, true
			}
		}
	}
	return models.Group{}, false
}

func (f *fakeStore) holderOf(topicID string) (models.Group, bool) {
	for _, g := range f.groups {
		if g.HoldsTopic(topicID) {
			return g, true
		}
	}
	return models.Group{}, false
}

func (f *fakeStore) memberRows(groupID string) []models.GroupMember {
	g := f.groups[groupID]
	rows := make([]models.GroupMember, 0, len(f.members[groupID]))
	for _, id := range f.members[groupID] {
		rows = append(rows, models.GroupMember{GroupID: groupID, UserID: id, ClassID: g.ClassID, FullName: f.users[id].FullName})
	}
	return rows
}

func (f *fakeStore) rejectPending(excludeID string, groupIDs ...string) []models.SwapRequest {
	touches := func(id string) bool {
		for _, g := range groupIDs {
			if g == id {
				return true
			}
		}
		return false
	}
	var rejected []models.SwapRequest
	for id, s := range f.swaps {
		if id == excludeID || s.Status != models.SwapPending {
			continue
		}
		if touches(s.RequestingGroupID) || touches(s.RequestedGroupID) {
			s.Status = models.SwapRejected
			f.swaps[id] = s
			rejected = append(rejected, s)
		}
	}
	sort.Slice(rejected, func(i, j int) bool { return rejected[i].ID < rejected[j].ID })
	return rejected
}

type fakeClasses struct{ store *fakeStore }

func (c fakeClasses) FindByID(ctx context.Context, id string) (*models.Class, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	class, ok := c.store.classes[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &class, nil
}

type fakeUsers struct{ store *fakeStore }

func (u fakeUsers) FindByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	var users []models.User
	for _, id := range ids {
		if user, ok := u.store.users[id]; ok {
			users = append(users, user)
		}
	}
	return users, nil
}

type fakeGroups struct{ store *fakeStore }

func (g fakeGroups) FindByID(ctx context.Context, id string) (*models.Group, error) {
	g.store.mu.Lock()
	defer g.store.mu.Unlock()
	group, ok := g.store.groups[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &group, nil
}

func (g fakeGroups) FindByUserAndClass(ctx context.Context, userID, classID string) (*models.Group, error) {
	g.store.mu.Lock()
	defer g.store.mu.Unlock()
	group, ok := g.store.groupOf(userID, classID)
	if !ok {
		return nil, nil
	}
	return &group, nil
}

func (g fakeGroups) ListMembers(ctx context.Context, groupID string) ([]models.GroupMember, error) {
	g.store.mu.Lock()
	defer g.store.mu.Unlock()
	return g.store.memberRows(groupID), nil
}

func (g fakeGroups) ListMembersByGroupIDs(ctx context.Context, groupIDs []string) ([]models.GroupMember, error) {
	g.store.mu.Lock()
	defer g.store.mu.Unlock()
	var rows []models.GroupMember
	for _, id := range groupIDs {
		rows = append(rows, g.store.memberRows(id)...)
	}
	return rows, nil
}

func (g fakeGroups) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	g.store.mu.Lock()
	defer g.store.mu.Unlock()
	for _, m := range g.store.members[groupID] {
		if m == userID {
			return true, nil
		}
	}
	return false, nil
}

func (g fakeGroups) Create(ctx context.Context, group *models.Group, memberIDs []string) error {
	g.store.mu.Lock()
	defer g.store.mu.Unlock()
	if len(memberIDs) == 0 {
		return repository.ErrEmptyGroup
	}
	for _, id := range memberIDs {
		if _, taken := g.store.groupOf(id, group.ClassID); taken {
			return repository.ErrDuplicateMembership
		}
	}
	group.ID = g.store.nextID("group")
	g.store.groups[group.ID] = *group
	g.store.members[group.ID] = append([]string(nil), memberIDs...)
	return nil
}

func (g fakeGroups) AddMember(ctx context.Context, groupID, userID string) error {
	g.store.mu.Lock()
	defer g.store.mu.Unlock()
	group, ok := g.store.groups[groupID]
	if !ok {
		return sql.ErrNoRows
	}
	if group.HasTopic() && len(g.store.members[groupID]) >= g.store.topics[*group.TopicID].MaxMembers {
		return repository.ErrGroupFull
	}
	if _, taken := g.store.groupOf(userID, group.ClassID); taken {
		return repository.ErrDuplicateMembership
	}
	g.store.members[groupID] = append(g.store.members[groupID], userID)
	return nil
}

func (g fakeGroups) RemoveMember(ctx context.Context, groupID, userID string) (repository.LeaveResult, error) {
	g.store.mu.Lock()
	defer g.store.mu.Unlock()
	var result repository.LeaveResult
	if _, ok := g.store.groups[groupID]; !ok {
		return result, sql.ErrNoRows
	}
	remaining := without(g.store.members[groupID], userID)
	if len(remaining) == len(g.store.members[groupID]) {
		return result, repository.ErrNotMember
	}
	g.store.members[groupID] = remaining
	if len(remaining) == 0 {
		result.Invalidated = g.store.rejectPending("", groupID)
		delete(g.store.groups, groupID)
		delete(g.store.members, groupID)
		result.Disbanded = true
	}
	return result, nil
}

func (g fakeGroups) RegisterTopic(ctx context.Context, params repository.RegisterParams) (repository.RegisterResult, error) {
	g.store.mu.Lock()
	defer g.store.mu.Unlock()
	var result repository.RegisterResult

	topic, ok := g.store.topics[params.TopicID]
	if !ok {
		return result, sql.ErrNoRows
	}
	if params.RequireApproved && topic.ApprovalStatus != models.ApprovalApproved {
		return result, repository.ErrTopicNotApproved
	}
	if topic.RegistrationClosed(params.Now) {
		return result, repository.ErrRegistrationClosed
	}

	var group models.Group
	members := 1
	if params.GroupID == "" {
		if _, taken := g.store.groupOf(params.CreateForUserID, topic.ClassID); taken {
			return result, repository.ErrDuplicateMembership
		}
		group = models.Group{ID: g.store.nextID("group"), ClassID: topic.ClassID, Name: params.GroupName}
		result.Created = true
	} else {
		if group, ok = g.store.groups[params.GroupID]; !ok {
			return result, sql.ErrNoRows
		}
		members = len(g.store.members[group.ID])
	}

	if group.ClassID != topic.ClassID {
		return result, repository.ErrClassMismatch
	}
	if group.HoldsTopic(topic.ID) {
		result.Group = &group
		return result, nil
	}
	if group.HasTopic() {
		return result, repository.ErrAlreadyRegistered
	}
	if members > topic.MaxMembers {
		return result, repository.ErrOverCapacity
	}
	if _, held := g.store.holderOf(topic.ID); held {
		return result, repository.ErrAlreadyTaken
	}

	topicID := topic.ID
	group.TopicID = &topicID
	g.store.groups[group.ID] = group
	if result.Created {
		g.store.members[group.ID] = []string{params.CreateForUserID}
	}
	result.Group = &group
	return result, nil
}

func (g fakeGroups) ClearTopic(ctx context.Context, groupID string, now time.Time) (repository.CancelResult, error) {
	g.store.mu.Lock()
	defer g.store.mu.Unlock()
	var result repository.CancelResult
	group, ok := g.store.groups[groupID]
	if !ok {
		return result, sql.ErrNoRows
	}
	if group.HasTopic() {
		result.PreviousTopicID = group.TopicID
		group.TopicID = nil
		g.store.groups[groupID] = group
		result.Invalidated = g.store.rejectPending("", groupID)
	}
	return result, nil
}

func (g fakeGroups) DeleteEmpty(ctx context.Context) (int64, error) {
	g.store.mu.Lock()
	defer g.store.mu.Unlock()
	var removed int64
	for id := range g.store.groups {
		if len(g.store.members[id]) == 0 {
			delete(g.store.groups, id)
			removed++
		}
	}
	return removed, nil
}

type fakeTopics struct{ store *fakeStore }

func (t fakeTopics) FindByID(ctx context.Context, id string) (*models.Topic, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	topic, ok := t.store.topics[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &topic, nil
}

func (t fakeTopics) row(topic models.Topic) models.TopicRegistrationRow {
	row := models.TopicRegistrationRow{Topic: topic}
	if holder, ok := t.store.holderOf(topic.ID); ok {
		id := holder.ID
		row.GroupID = &id
		row.GroupName = holder.Name
	}
	return row
}

func (t fakeTopics) ListByClass(ctx context.Context, classID string) ([]models.TopicRegistrationRow, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	var rows []models.TopicRegistrationRow
	for _, topic := range t.store.topics {
		if topic.ClassID == classID {
			rows = append(rows, t.row(topic))
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
	return rows, nil
}

func (t fakeTopics) FindRegistrationByID(ctx context.Context, id string) (*models.TopicRegistrationRow, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	topic, ok := t.store.topics[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	row := t.row(topic)
	return &row, nil
}

func (t fakeTopics) Create(ctx context.Context, topic *models.Topic) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	topic.ID = t.store.nextID("topic")
	t.store.topics[topic.ID] = *topic
	return nil
}

func (t fakeTopics) Update(ctx context.Context, topic *models.Topic) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if _, ok := t.store.topics[topic.ID]; !ok {
		return sql.ErrNoRows
	}
	if holder, ok := t.store.holderOf(topic.ID); ok && len(t.store.members[holder.ID]) > topic.MaxMembers {
		return repository.ErrOverCapacity
	}
	t.store.topics[topic.ID] = *topic
	return nil
}

func (t fakeTopics) Delete(ctx context.Context, id string) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if _, ok := t.store.topics[id]; !ok {
		return sql.ErrNoRows
	}
	if _, held := t.store.holderOf(id); held {
		return repository.ErrTopicRegistered
	}
	delete(t.store.topics, id)
	return nil
}

func (t fakeTopics) SetApproval(ctx context.Context, id string, status models.ApprovalStatus) (*models.Topic, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	topic, ok := t.store.topics[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	topic.ApprovalStatus = status
	t.store.topics[id] = topic
	return &topic, nil
}

type fakeSwaps struct{ store *fakeStore }

func (s fakeSwaps) Create(ctx context.Context, req *models.SwapRequest) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	for _, existing := range s.store.swaps {
		if existing.Status == models.SwapPending &&
			existing.RequestingGroupID == req.RequestingGroupID &&
			existing.RequestedGroupID == req.RequestedGroupID &&
			existing.TopicID == req.TopicID {
			return repository.ErrDuplicateSwap
		}
	}
	req.ID = s.store.nextID("swap")
	req.Status = models.SwapPending
	s.store.swaps[req.ID] = *req
	return nil
}

func (s fakeSwaps) FindByID(ctx context.Context, id string) (*models.SwapRequest, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	req, ok := s.store.swaps[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &req, nil
}

func (s fakeSwaps) detail(req models.SwapRequest) models.SwapRequestDetail {
	d := models.SwapRequestDetail{SwapRequest: req, TopicName: s.store.topics[req.TopicID].Name}
	if g, ok := s.store.groups[req.RequestingGroupID]; ok {
		d.RequestingGroupName = g.Name
		if g.HasTopic() {
			name := s.store.topics[*g.TopicID].Name
			d.RequestingTopicID = g.TopicID
			d.RequestingTopicName = &name
		}
	}
	if g, ok := s.store.groups[req.RequestedGroupID]; ok {
		d.RequestedGroupName = g.Name
	}
	return d
}

func (s fakeSwaps) FindDetailByID(ctx context.Context, id string) (*models.SwapRequestDetail, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	req, ok := s.store.swaps[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	d := s.detail(req)
	return &d, nil
}

func (s fakeSwaps) ListByGroup(ctx context.Context, groupID string) ([]models.SwapRequestDetail, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	var details []models.SwapRequestDetail
	for _, req := range s.store.swaps {
		if req.RequestingGroupID == groupID || req.RequestedGroupID == groupID {
			details = append(details, s.detail(req))
		}
	}
	sort.Slice(details, func(i, j int) bool { return details[i].ID < details[j].ID })
	return details, nil
}

func (s fakeSwaps) Approve(ctx context.Context, id string) (repository.ApproveResult, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	var result repository.ApproveResult
	req, ok := s.store.swaps[id]
	if !ok {
		return result, sql.ErrNoRows
	}
	if !req.IsPending() {
		return result, repository.ErrNotPending
	}
	requesting, okA := s.store.groups[req.RequestingGroupID]
	requested, okB := s.store.groups[req.RequestedGroupID]
	if !okA || !okB {
		return result, sql.ErrNoRows
	}
	if !requesting.HasTopic() || !requested.HoldsTopic(req.TopicID) || requesting.HoldsTopic(req.TopicID) {
		req.Status = models.SwapRejected
		s.store.swaps[id] = req
		result.Request = req
		return result, repository.ErrSwapStale
	}

	requesting.TopicID, requested.TopicID = requested.TopicID, requesting.TopicID
	s.store.groups[requesting.ID] = requesting
	s.store.groups[requested.ID] = requested
	req.Status = models.SwapApproved
	s.store.swaps[id] = req
	result.Invalidated = s.store.rejectPending(id, requesting.ID, requested.ID)
	result.Request = req
	result.Requesting = requesting
	result.Requested = requested
	return result, nil
}

func (s fakeSwaps) Reject(ctx context.Context, id string) (*models.SwapRequest, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	req, ok := s.store.swaps[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	if !req.IsPending() {
		return nil, repository.ErrNotPending
	}
	req.Status = models.SwapRejected
	s.store.swaps[id] = req
	return &req, nil
}

func (s fakeSwaps) DeletePending(ctx context.Context, id string) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	req, ok := s.store.swaps[id]
	if !ok {
		return sql.ErrNoRows
	}
	if !req.IsPending() {
		return repository.ErrNotPending
	}
	delete(s.store.swaps, id)
	return nil
}

func (s fakeSwaps) MarkRead(ctx context.Context, id string) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	req, ok := s.store.swaps[id]
	if !ok {
		return sql.ErrNoRows
	}
	req.IsRead = true
	s.store.swaps[id] = req
	return nil
}

func (s fakeSwaps) RejectStale(ctx context.Context) ([]models.SwapRequest, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	var rejected []models.SwapRequest
	for id, req := range s.store.swaps {
		if !req.IsPending() {
			continue
		}
		requesting := s.store.groups[req.RequestingGroupID]
		requested := s.store.groups[req.RequestedGroupID]
		if !requested.HoldsTopic(req.TopicID) || !requesting.HasTopic() || requesting.HoldsTopic(req.TopicID) {
			req.Status = models.SwapRejected
			s.store.swaps[id] = req
			rejected = append(rejected, req)
		}
	}
	return rejected, nil
}

type fakeResults struct{ store *fakeStore }

func (r fakeResults) FindByGroup(ctx context.Context, groupID string) (*models.TopicResult, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	result, ok := r.store.results[groupID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &result, nil
}

func (r fakeResults) UpsertReport(ctx context.Context, groupID, topicID, reportURL string) (*models.TopicResult, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	result := r.store.results[groupID]
	if result.TopicID != topicID {
		result.Score, result.Notes = nil, nil
	}
	result.GroupID, result.TopicID, result.ReportURL = groupID, topicID, &reportURL
	r.store.results[groupID] = result
	return &result, nil
}

func (r fakeResults) UpsertGrade(ctx context.Context, groupID, topicID string, score float64, notes *string) (*models.TopicResult, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	result := r.store.results[groupID]
	if result.TopicID != topicID {
		result.ReportURL = nil
	}
	result.GroupID, result.TopicID, result.Score, result.Notes = groupID, topicID, &score, notes
	r.store.results[groupID] = result
	return &result, nil
}

type notifyCall struct {
	UserIDs []string
	Kind    models.NotificationKind
	Message string
}

type notifierSpy struct {
	mu    sync.Mutex
	calls []notifyCall
}

func (n *notifierSpy) NotifyMany(ctx context.Context, userIDs []string, kind models.NotificationKind, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{UserIDs: append([]string(nil), userIDs...), Kind: kind, Message: message})
}

func (n *notifierSpy) kinds() []models.NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	kinds := make([]models.NotificationKind, 0, len(n.calls))
	for _, c := range n.calls {
		kinds = append(kinds, c.Kind)
	}
	return kinds
}

func (n *notifierSpy) recipients(kind models.NotificationKind) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var ids []string
	for _, c := range n.calls {
		if c.Kind == kind {
			ids = append(ids, c.UserIDs...)
		}
	}
	sort.Strings(ids)
	return ids
}

type publisherSpy struct {
	mu      sync.Mutex
	changes []realtime.Change
	err     error
}

func (p *publisherSpy) Publish(ctx context.Context, change realtime.Change) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, change)
	return p.err
}

func (p *publisherSpy) tables() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	tables := make([]string, 0, len(p.changes))
	for _, c := range p.changes {
		tables = append(tables, c.Table)
	}
	return tables
}

type recorderSpy struct {
	mu       sync.Mutex
	outcomes map[string][]error
}

func (r *recorderSpy) RecordWorkflow(operation string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = map[string][]error{}
	}
	r.outcomes[operation] = append(r.outcomes[operation], err)
}

func student(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleStudent}
}

func lecturer(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleLecturer}
}

func admin(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleAdmin}
}

func strPtr(s string) *string { return &s }

// seedClass creates class c1 taught by lec1 with students s1..s6.
func seedClass(store *fakeStore) {
	store.addUser("lec1", models.RoleLecturer)
	store.addUser("lec2", models.RoleLecturer)
	store.addUser("adm", models.RoleAdmin)
	for i := 1; i <= 6; i++ {
		store.addUser(fmt.Sprintf("s%d", i), models.RoleStudent)
	}
	store.addClass("c1", "lec1", false)
	store.addClass("c2", "lec2", true)
}
