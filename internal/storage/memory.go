package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/teaminbox/internal/datamodels/assignment"
	"github.com/example/teaminbox/internal/datamodels/audit"
	"github.com/example/teaminbox/internal/datamodels/channel"
	"github.com/example/teaminbox/internal/datamodels/contact"
	"github.com/example/teaminbox/internal/datamodels/conversation"
	"github.com/example/teaminbox/internal/datamodels/message"
	"github.com/example/teaminbox/internal/datamodels/staffnote"
)

// MemoryStore 纯内存 Store 实现，测试用。
// InTx 用一把全局互斥锁串行化全部事务（等价于按键加锁的单写者语义），
// 回调出错时用快照整体回滚。支持注入错误来模拟基础设施故障。
type MemoryStore struct {
	mu   sync.Mutex
	data *memData

	// 错误注入：非 nil 时对应操作直接返回该错误
	FailCreateMessage     error
	FailTouchConversation error
	FailCreateAssignment  error
}

type memData struct {
	seq           int64
	channels      map[int64]channel.Channel
	contacts      map[int64]contact.Contact
	conversations map[int64]conversation.Conversation
	messages      map[int64]message.Message
	attachments   map[int64]message.Attachment
	assignments   map[int64]assignment.Assignment
	audits        []audit.Record
	notes         map[int64]staffnote.Note
}

// NewMemoryStore 创建空的内存 Store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemData()}
}

func newMemData() *memData {
	return &memData{
		channels:      make(map[int64]channel.Channel),
		contacts:      make(map[int64]contact.Contact),
		conversations: make(map[int64]conversation.Conversation),
		messages:      make(map[int64]message.Message),
		attachments:   make(map[int64]message.Attachment),
		assignments:   make(map[int64]assignment.Assignment),
		notes:         make(map[int64]staffnote.Note),
	}
}

func (d *memData) clone() *memData {
	c := newMemData()
	c.seq = d.seq
	for k, v := range d.channels {
		c.channels[k] = v
	}
	for k, v := range d.contacts {
		c.contacts[k] = v
	}
	for k, v := range d.conversations {
		c.conversations[k] = v
	}
	for k, v := range d.messages {
		c.messages[k] = v
	}
	for k, v := range d.attachments {
		c.attachments[k] = v
	}
	for k, v := range d.assignments {
		c.assignments[k] = v
	}
	c.audits = append(c.audits, d.audits...)
	for k, v := range d.notes {
		c.notes[k] = v
	}
	return c
}

func (s *MemoryStore) nextID() int64 {
	s.data.seq++
	return s.data.seq
}

// InTx 串行执行事务回调，出错回滚
func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.data.clone()
	if err := fn(&txMemoryStore{s}); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

func (s *MemoryStore) Channels() channel.Repository         { return lockedChannels{s} }
func (s *MemoryStore) Contacts() contact.Repository         { return lockedContacts{s} }
func (s *MemoryStore) Conversations() conversation.Repository {
	return lockedConversations{s}
}
func (s *MemoryStore) Messages() message.Repository       { return lockedMessages{s} }
func (s *MemoryStore) Assignments() assignment.Repository { return lockedAssignments{s} }
func (s *MemoryStore) Audits() audit.Repository           { return lockedAudits{s} }
func (s *MemoryStore) StaffNotes() staffnote.Repository   { return lockedNotes{s} }

// txMemoryStore 事务视图：互斥锁已由 InTx 持有，仓储方法不再加锁
type txMemoryStore struct{ s *MemoryStore }

func (t *txMemoryStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	// 已在事务内，直接复用当前事务
	return fn(t)
}

func (t *txMemoryStore) Channels() channel.Repository           { return memChannels{t.s} }
func (t *txMemoryStore) Contacts() contact.Repository           { return memContacts{t.s} }
func (t *txMemoryStore) Conversations() conversation.Repository { return memConversations{t.s} }
func (t *txMemoryStore) Messages() message.Repository           { return memMessages{t.s} }
func (t *txMemoryStore) Assignments() assignment.Repository     { return memAssignments{t.s} }
func (t *txMemoryStore) Audits() audit.Repository               { return memAudits{t.s} }
func (t *txMemoryStore) StaffNotes() staffnote.Repository       { return memNotes{t.s} }

// ---------- channel ----------

type memChannels struct{ s *MemoryStore }

func (r memChannels) Upsert(ctx context.Context, provider, externalID, name string) (*channel.Channel, error) {
	d := r.s.data
	for id, ch := range d.channels {
		if ch.Provider == provider && ch.ExternalID == externalID {
			if name != "" && ch.Name != name {
				ch.Name = name
				ch.UpdatedAt = time.Now()
				d.channels[id] = ch
			}
			out := ch
			return &out, nil
		}
	}
	now := time.Now()
	ch := channel.Channel{
		ID:         r.s.nextID(),
		Provider:   provider,
		ExternalID: externalID,
		Name:       name,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	d.channels[ch.ID] = ch
	out := ch
	return &out, nil
}

func (r memChannels) GetByID(ctx context.Context, id int64) (*channel.Channel, error) {
	if ch, ok := r.s.data.channels[id]; ok {
		out := ch
		return &out, nil
	}
	return nil, nil
}

// ---------- contact ----------

type memContacts struct{ s *MemoryStore }

func (r memContacts) Upsert(ctx context.Context, channelID int64, externalID, name string) (*contact.Contact, error) {
	d := r.s.data
	for id, c := range d.contacts {
		if c.ChannelID == channelID && c.ExternalID == externalID {
			if name != "" && c.Name != name {
				c.Name = name
				c.UpdatedAt = time.Now()
				d.contacts[id] = c
			}
			out := c
			return &out, nil
		}
	}
	now := time.Now()
	c := contact.Contact{
		ID:         r.s.nextID(),
		ChannelID:  channelID,
		ExternalID: externalID,
		Name:       name,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	d.contacts[c.ID] = c
	out := c
	return &out, nil
}

func (r memContacts) GetByID(ctx context.Context, id int64) (*contact.Contact, error) {
	if c, ok := r.s.data.contacts[id]; ok {
		out := c
		return &out, nil
	}
	return nil, nil
}

// ---------- conversation ----------

type memConversations struct{ s *MemoryStore }

func (r memConversations) FindOpen(ctx context.Context, channelID, contactID int64) (*conversation.Conversation, error) {
	for _, c := range r.s.data.conversations {
		if c.ChannelID == channelID && c.ContactID == contactID && c.Status == conversation.StatusOpen {
			out := c
			return &out, nil
		}
	}
	return nil, nil
}

func (r memConversations) Create(ctx context.Context, c *conversation.Conversation) error {
	now := time.Now()
	c.ID = r.s.nextID()
	if c.Status == "" {
		c.Status = conversation.StatusOpen
	}
	c.CreatedAt = now
	c.UpdatedAt = now
	r.s.data.conversations[c.ID] = *c
	return nil
}

func (r memConversations) GetByID(ctx context.Context, id int64) (*conversation.Conversation, error) {
	if c, ok := r.s.data.conversations[id]; ok {
		out := c
		return &out, nil
	}
	return nil, nil
}

func (r memConversations) GetForUpdate(ctx context.Context, id int64) (*conversation.Conversation, error) {
	// 互斥锁已由 InTx 持有，读取本身即持锁
	return r.GetByID(ctx, id)
}

func (r memConversations) TouchLastMessage(ctx context.Context, id int64, at time.Time) error {
	if err := r.s.FailTouchConversation; err != nil {
		return err
	}
	c, ok := r.s.data.conversations[id]
	if !ok {
		return nil
	}
	c.LastMessageAt = at
	c.UpdatedAt = time.Now()
	r.s.data.conversations[id] = c
	return nil
}

func (r memConversations) UpdateStatus(ctx context.Context, id int64, status string) error {
	c, ok := r.s.data.conversations[id]
	if !ok {
		return nil
	}
	c.Status = status
	c.UpdatedAt = time.Now()
	r.s.data.conversations[id] = c
	return nil
}

func (r memConversations) UpdatePinned(ctx context.Context, id int64, pinned bool) error {
	c, ok := r.s.data.conversations[id]
	if !ok {
		return nil
	}
	c.Pinned = pinned
	c.UpdatedAt = time.Now()
	r.s.data.conversations[id] = c
	return nil
}

func (r memConversations) UpdateBlocked(ctx context.Context, id int64, blocked bool) error {
	c, ok := r.s.data.conversations[id]
	if !ok {
		return nil
	}
	c.Blocked = blocked
	c.UpdatedAt = time.Now()
	r.s.data.conversations[id] = c
	return nil
}

func (r memConversations) ListInbox(ctx context.Context, limit int) ([]*conversation.Conversation, error) {
	var list []*conversation.Conversation
	for _, c := range r.s.data.conversations {
		if c.Status == conversation.StatusOpen || c.Status == conversation.StatusSnoozed {
			out := c
			list = append(list, &out)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Pinned != list[j].Pinned {
			return list[i].Pinned
		}
		return list[i].LastMessageAt.After(list[j].LastMessageAt)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// ---------- message ----------

type memMessages struct{ s *MemoryStore }

func (r memMessages) CreateIfAbsent(ctx context.Context, m *message.Message) (bool, error) {
	if err := r.s.FailCreateMessage; err != nil {
		return false, err
	}
	for _, ex := range r.s.data.messages {
		if ex.ChannelID == m.ChannelID && ex.ExternalMessageID == m.ExternalMessageID {
			return false, nil
		}
	}
	m.ID = r.s.nextID()
	m.CreatedAt = time.Now()
	stored := *m
	stored.Attachments = nil
	r.s.data.messages[m.ID] = stored
	return true, nil
}

func (r memMessages) CreateAttachments(ctx context.Context, atts []*message.Attachment) error {
	for _, a := range atts {
		a.ID = r.s.nextID()
		a.CreatedAt = time.Now()
		r.s.data.attachments[a.ID] = *a
	}
	return nil
}

func (r memMessages) ListByConversation(ctx context.Context, conversationID int64, limit int) ([]*message.Message, error) {
	var list []*message.Message
	for _, m := range r.s.data.messages {
		if m.ConversationID == conversationID {
			out := m
			list = append(list, &out)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	return list, nil
}

func (r memMessages) AttachmentsByMessage(ctx context.Context, messageID int64) ([]*message.Attachment, error) {
	var list []*message.Attachment
	for _, a := range r.s.data.attachments {
		if a.MessageID == messageID {
			out := a
			list = append(list, &out)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (r memMessages) CountByConversation(ctx context.Context, conversationID int64) (int64, error) {
	var n int64
	for _, m := range r.s.data.messages {
		if m.ConversationID == conversationID {
			n++
		}
	}
	return n, nil
}

// ---------- assignment ----------

type memAssignments struct{ s *MemoryStore }

func (r memAssignments) ActiveForUpdate(ctx context.Context, conversationID int64) (*assignment.Assignment, error) {
	// 互斥锁已经由 InTx 持有，语义上等价于行锁
	return r.Active(ctx, conversationID)
}

func (r memAssignments) Active(ctx context.Context, conversationID int64) (*assignment.Assignment, error) {
	for _, a := range r.s.data.assignments {
		if a.ConversationID == conversationID && a.ReleasedAt == nil {
			out := a
			return &out, nil
		}
	}
	return nil, nil
}

func (r memAssignments) ActiveByConversations(ctx context.Context, conversationIDs []int64) (map[int64]*assignment.Assignment, error) {
	out := make(map[int64]*assignment.Assignment)
	for _, id := range conversationIDs {
		a, err := r.Active(ctx, id)
		if err != nil {
			return nil, err
		}
		if a != nil {
			out[id] = a
		}
	}
	return out, nil
}

func (r memAssignments) Create(ctx context.Context, a *assignment.Assignment) error {
	if err := r.s.FailCreateAssignment; err != nil {
		return err
	}
	a.ID = r.s.nextID()
	r.s.data.assignments[a.ID] = *a
	return nil
}

func (r memAssignments) Release(ctx context.Context, id int64, at time.Time) error {
	a, ok := r.s.data.assignments[id]
	if !ok {
		return nil
	}
	released := at
	a.ReleasedAt = &released
	r.s.data.assignments[id] = a
	return nil
}

func (r memAssignments) History(ctx context.Context, conversationID int64) ([]*assignment.Assignment, error) {
	var list []*assignment.Assignment
	for _, a := range r.s.data.assignments {
		if a.ConversationID == conversationID {
			out := a
			list = append(list, &out)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID > list[j].ID })
	return list, nil
}

// ---------- audit ----------

type memAudits struct{ s *MemoryStore }

func (r memAudits) Create(ctx context.Context, rec *audit.Record) error {
	rec.ID = r.s.nextID()
	rec.CreatedAt = time.Now()
	r.s.data.audits = append(r.s.data.audits, *rec)
	return nil
}

func (r memAudits) ListByConversation(ctx context.Context, conversationID int64, limit int) ([]*audit.Record, error) {
	var list []*audit.Record
	for i := len(r.s.data.audits) - 1; i >= 0; i-- {
		rec := r.s.data.audits[i]
		if rec.ConversationID == conversationID {
			out := rec
			list = append(list, &out)
			if limit > 0 && len(list) >= limit {
				break
			}
		}
	}
	return list, nil
}

// ---------- staffnote ----------

type memNotes struct{ s *MemoryStore }

func (r memNotes) Create(ctx context.Context, n *staffnote.Note) error {
	now := time.Now()
	n.ID = r.s.nextID()
	n.CreatedAt = now
	n.UpdatedAt = now
	r.s.data.notes[n.ID] = *n
	return nil
}

func (r memNotes) GetByID(ctx context.Context, id int64) (*staffnote.Note, error) {
	if n, ok := r.s.data.notes[id]; ok {
		out := n
		return &out, nil
	}
	return nil, nil
}

func (r memNotes) Update(ctx context.Context, n *staffnote.Note) error {
	n.UpdatedAt = time.Now()
	r.s.data.notes[n.ID] = *n
	return nil
}

func (r memNotes) Delete(ctx context.Context, id int64) error {
	delete(r.s.data.notes, id)
	return nil
}

func (r memNotes) ListByConversation(ctx context.Context, conversationID int64, limit int) ([]*staffnote.Note, error) {
	var list []*staffnote.Note
	for _, n := range r.s.data.notes {
		if n.ConversationID == conversationID {
			out := n
			list = append(list, &out)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// ---------- 非事务访问（加锁包装） ----------

type lockedChannels struct{ s *MemoryStore }

func (r lockedChannels) Upsert(ctx context.Context, provider, externalID, name string) (*channel.Channel, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return memChannels{r.s}.Upsert(ctx, provider, externalID, name)
}

func (r lockedChannels) GetByID(ctx context.Context, id int64) (*channel.Channel, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return memChannels{r.s}.GetByID(ctx, id)
}

type lockedContacts struct{ s *MemoryStore }

func (r lockedContacts) Upsert(ctx context.Context, channelID int64, externalID, name string) (*contact.Contact, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return memContacts{r.s}.Upsert(ctx, channelID, externalID, name)
}

func (r lockedContacts) GetByID(ctx context.Context, id int64) (*contact.Contact, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return memContacts{r.s}.GetByID(ctx, id)
}

type lockedConversations struct{ s *MemoryStore }

func (r lockedConversations) FindOpen(ctx context.Context, channelID, contactID int64) (*conversation.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return memConversations{r.s}.FindOpen(ctx, channelID, contactID)
}

func (r lockedConversations) Create(ctx context.Context, c *conversation.Conversation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return memConversations{r.s}.Create(ctx, c)
}

func (r lockedConversations) GetByID(ctx context.Context, id int64) (*conversation.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return memConversations{r.s}.GetByID(ctx, id)
}

func (r lockedConversations) GetForUpdate(ctx context.Context, id int64) (*conversation.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return memConversations{r.s}.GetForUpdate(ctx, id)
}

func (r lockedConversations) TouchLastMessage(ctx context.Context, id int64, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return memConversations{r.s}.TouchLastMessage(ctx, id, at)
}

func (r lockedConversations) UpdateStatus(ctx context.Context, id int64, status string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return memConversations{r.s}.UpdateStatus(ctx, id, status)
}

func (r lockedConversations) UpdatePinned(ctx context.Context, id int64, pinned bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return memConversations{r.s}.UpdatePinned(ctx, id, pinned)
}

func (r lockedConversations) UpdateBlocked(ctx context.Context, id int64, blocked bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return memConversations{r.s}.UpdateBlocked(ctx, id, blocked)
}

func (r lockedConversations) ListInbox(ctx context.Context, limit int) ([]*conversation.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return memConversations{r.s}.ListInbox(ctx, limit)
}

type lockedMessages struct{ s *MemoryStore }

func (r lockedMessages) CreateIfAbsent(ctx context.Context, m *message.Message) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return memMessages{r.s}.CreateIfAbsent(ctx, m)
}

func (r lockedMessages) CreateAttachments(ctx context.Context, atts []*message.Attachment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return memMessages{r.s}.CreateAttachments(ctx, atts)
}

func (r lockedMessages) ListByConversation(ctx context.Context, conversationID int64, limit int) ([]*message.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return memMessages{r.s}.ListByConversation(ctx, conversationID, limit)
}

func (r lockedMessages) AttachmentsByMessage(ctx context.Context, messageID int64) ([]*message.Attachment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return memMessages{r.s}.AttachmentsByMessage(ctx, messageID)
}

func (r lockedMessages) CountByConversation(ctx context.Context, conversationID int64) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return memMessages{r.s}.CountByConversation(ctx, conversationID)
}

type lockedAssignments struct{ s *MemoryStore }

func (r lockedAssignments) ActiveForUpdate(ctx context.Context, conversationID int64) (*assignment.Assignment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return memAssignments{r.s}.ActiveForUpdate(ctx, conversationID)
}

func (r lockedAssignments) Active(ctx context.Context, conversationID int64) (*assignment.Assignment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return memAssignments{r.s}.Active(ctx, conversationID)
}

func (r lockedAssignments) ActiveByConversations(ctx context.Context, conversationIDs []int64) (map[int64]*assignment.Assignment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return memAssignments{r.s}.ActiveByConversations(ctx, conversationIDs)
}

func (r lockedAssignments) Create(ctx context.Context, a *assignment.Assignment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return memAssignments{r.s}.Create(ctx, a)
}

func (r lockedAssignments) Release(ctx context.Context, id int64, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return memAssignments{r.s}.Release(ctx, id, at)
}

func (r lockedAssignments) History(ctx context.Context, conversationID int64) ([]*assignment.Assignment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return memAssignments{r.s}.History(ctx, conversationID)
}

type lockedAudits struct{ s *MemoryStore }

func (r lockedAudits) Create(ctx context.Context, rec *audit.Record) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return memAudits{r.s}.Create(ctx, rec)
}

func (r lockedAudits) ListByConversation(ctx context.Context, conversationID int64, limit int) ([]*audit.Record, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return memAudits{r.s}.ListByConversation(ctx, conversationID, limit)
}

type lockedNotes struct{ s *MemoryStore }

func (r lockedNotes) Create(ctx context.Context, n *staffnote.Note) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return memNotes{r.s}.Create(ctx, n)
}

func (r lockedNotes) GetByID(ctx context.Context, id int64) (*staffnote.Note, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return memNotes{r.s}.GetByID(ctx, id)
}

func (r lockedNotes) Update(ctx context.Context, n *staffnote.Note) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return memNotes{r.s}.Update(ctx, n)
}

func (r lockedNotes) Delete(ctx context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return memNotes{r.s}.Delete(ctx, id)
}

func (r lockedNotes) ListByConversation(ctx context.Context, conversationID int64, limit int) ([]*staffnote.Note, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return memNotes{r.s}.ListByConversation(ctx, conversationID, limit)
}
