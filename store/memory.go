package store

import (
	"bytes"
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nawapolsungjun/borrow-it/apperr"
	"github.com/nawapolsungjun/borrow-it/models"
)

// MemoryStore keeps everything in process. Transactions are serialised on
// one mutex and roll back by restoring a snapshot, which gives the same
// observable behaviour as row locks plus the one-open-record index.
type MemoryStore struct {
	mu sync.Mutex
	memState
}

type memState struct {
	seq     uint
	items   map[uint]models.Item
	records map[uint]models.BorrowRecord
	users   map[uint]models.User
	creds   []models.Credential
	audits  []models.AuditLog
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{memState: memState{
		items:   make(map[uint]models.Item),
		records: make(map[uint]models.BorrowRecord),
		users:   make(map[uint]models.User),
	}}
}

func (s memState) clone() memState {
	return memState{
		seq:     s.seq,
		items:   maps.Clone(s.items),
		records: maps.Clone(s.records),
		users:   maps.Clone(s.users),
		creds:   slices.Clone(s.creds),
		audits:  slices.Clone(s.audits),
	}
}

func (m *MemoryStore) nextID() uint {
	m.seq++
	return m.seq
}

func (m *MemoryStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return apperr.Internal(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.memState.clone()
	if err := fn(&memTx{m: m}); err != nil {
		m.memState = snap
		return err
	}
	return nil
}

func (m *MemoryStore) ListAudits(_ context.Context, itemID uint, limit int) ([]models.AuditLog, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = 50
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.AuditLog{}
	for i := len(m.audits) - 1; i >= 0 && len(out) < limit; i-- {
		a := m.audits[i]
		if itemID != 0 && (a.ItemID == nil || *a.ItemID != itemID) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// ---- items ----

func (m *MemoryStore) CreateItem(_ context.Context, it *models.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.serialTaken(it.SerialNumber, 0) {
		return apperr.Conflict("serial number already exists")
	}
	now := time.Now().UTC()
	it.ID = m.nextID()
	if it.Status == "" {
		it.Status = models.ItemAvailable
	}
	it.CreatedAt, it.UpdatedAt = now, now
	m.items[it.ID] = *it
	return nil
}

func (m *MemoryStore) serialTaken(serial string, except uint) bool {
	for id, it := range m.items {
		if id != except && it.SerialNumber == serial {
			return true
		}
	}
	return false
}

func (m *MemoryStore) FindItemByID(_ context.Context, id uint) (*models.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return nil, apperr.NotFound("item not found")
	}
	return &it, nil
}

func (m *MemoryStore) ListItems(_ context.Context, q ItemQuery) (*ItemPage, error) {
	q = q.Normalize()
	m.mu.Lock()
	defer m.mu.Unlock()

	needle := strings.ToLower(strings.TrimSpace(q.Q))
	var all []models.Item
	for _, it := range m.items {
		if q.Status != "" && it.Status != q.Status {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(it.Name), needle) &&
			!strings.Contains(strings.ToLower(it.SerialNumber), needle) {
			continue
		}
		all = append(all, it)
	}
	slices.SortFunc(all, func(a, b models.Item) int { return int(b.ID) - int(a.ID) })
	return &ItemPage{Total: int64(len(all)), Items: pageOf(all, q.Offset(), q.Size)}, nil
}

func pageOf[T any](all []T, offset, size int) []T {
	if offset >= len(all) {
		return []T{}
	}
	end := min(offset+size, len(all))
	return all[offset:end]
}

// ---- ledger ----

func (m *MemoryStore) FindRecordByID(_ context.Context, id uint) (*models.BorrowRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, apperr.NotFound("borrow record not found")
	}
	m.attach(&rec)
	return &rec, nil
}

func (m *MemoryStore) attach(rec *models.BorrowRecord) {
	if it, ok := m.items[rec.ItemID]; ok {
		rec.Item = &it
	}
	if u, ok := m.users[rec.UserID]; ok {
		rec.User = &u
	}
}

func (m *MemoryStore) ListRecords(_ context.Context, q RecordQuery) (*RecordPage, error) {
	q = q.Normalize()
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []models.BorrowRecord
	for _, rec := range m.records {
		if q.UserID != 0 && rec.UserID != q.UserID {
			continue
		}
		if q.ItemID != 0 && rec.ItemID != q.ItemID {
			continue
		}
		switch q.Status {
		case RecordsOpen:
			if !rec.Open() {
				continue
			}
		case RecordsReturned:
			if rec.Open() {
				continue
			}
		}
		m.attach(&rec)
		all = append(all, rec)
	}
	slices.SortFunc(all, func(a, b models.BorrowRecord) int { return int(b.ID) - int(a.ID) })
	return &RecordPage{Total: int64(len(all)), Records: pageOf(all, q.Offset(), q.Size)}, nil
}

// ---- users ----

func (m *MemoryStore) CreateUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.users {
		if other.Username == u.Username {
			return apperr.Conflict("username already exists")
		}
	}
	now := time.Now().UTC()
	u.ID = m.nextID()
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	u.CreatedAt, u.UpdatedAt = now, now
	m.users[u.ID] = *u
	return nil
}

func (m *MemoryStore) FindUserByID(_ context.Context, id uint) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, apperr.NotFound("user not found")
	}
	return &u, nil
}

func (m *MemoryStore) FindUserByUsername(_ context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, apperr.NotFound("user not found")
}

func (m *MemoryStore) ListUsers(_ context.Context, q UserQuery) (*UserPage, error) {
	q = q.Normalize()
	m.mu.Lock()
	defer m.mu.Unlock()

	needle := strings.ToLower(strings.TrimSpace(q.Q))
	var all []models.User
	for _, u := range m.users {
		if needle != "" && !strings.Contains(strings.ToLower(u.Username), needle) {
			continue
		}
		all = append(all, u)
	}
	slices.SortFunc(all, func(a, b models.User) int { return int(b.ID) - int(a.ID) })
	return &UserPage{Total: int64(len(all)), Users: pageOf(all, q.Offset(), q.Size)}, nil
}

func (m *MemoryStore) DeleteUser(_ context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return apperr.NotFound("user not found")
	}
	for _, rec := range m.records {
		if rec.UserID == id {
			return apperr.Conflict("user has borrow records")
		}
	}
	delete(m.users, id)
	m.creds = slices.DeleteFunc(m.creds, func(c models.Credential) bool { return c.UserID == id })
	return nil
}

func (m *MemoryStore) TouchUserLogin(_ context.Context, id uint, ip, ua string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return apperr.NotFound("user not found")
	}
	now := time.Now().UTC()
	u.LastLoginAt, u.LastSeenAt = &now, &now
	u.LoginCount++
	u.LastLoginIP, u.LastLoginUA = ip, ua
	m.users[id] = u
	return nil
}

func (m *MemoryStore) TouchUserSeen(_ context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return apperr.NotFound("user not found")
	}
	now := time.Now().UTC()
	u.LastSeenAt = &now
	m.users[id] = u
	return nil
}

func (m *MemoryStore) CountAdmins(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, u := range m.users {
		if u.Role == models.RoleAdmin {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Stats(_ context.Context) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := &Stats{TotalItems: int64(len(m.items)), TotalUsers: int64(len(m.users))}
	for _, it := range m.items {
		switch it.Status {
		case models.ItemAvailable:
			st.AvailableItems++
		case models.ItemBorrowed:
			st.BorrowedItems++
		case models.ItemMaintenance:
			st.MaintenanceItems++
		}
	}
	for _, rec := range m.records {
		if rec.Open() {
			st.OpenRecords++
		}
	}
	return st, nil
}

// ---- passkeys ----

func (m *MemoryStore) AddCredential(_ context.Context, c *models.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.creds {
		if bytes.Equal(other.CredentialID, c.CredentialID) {
			return apperr.Conflict("credential already registered")
		}
	}
	now := time.Now().UTC()
	c.ID = m.nextID()
	c.CreatedAt, c.UpdatedAt = now, now
	m.creds = append(m.creds, *c)
	return nil
}

func (m *MemoryStore) LoadUserCredentials(_ context.Context, userID uint) ([]models.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Credential
	for _, c := range m.creds {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MemoryStore) FindUserByCredentialID(_ context.Context, credID []byte) (*models.User, *models.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.creds {
		if !bytes.Equal(c.CredentialID, credID) {
			continue
		}
		u, ok := m.users[c.UserID]
		if !ok {
			return nil, nil, apperr.NotFound("user not found")
		}
		return &u, &c, nil
	}
	return nil, nil, apperr.NotFound("credential not found")
}

func (m *MemoryStore) UpdateCredentialCounter(_ context.Context, credID []byte, signCount uint32, cloneWarning bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.creds {
		if bytes.Equal(m.creds[i].CredentialID, credID) {
			now := time.Now().UTC()
			m.creds[i].SignCount = signCount
			m.creds[i].CloneWarning = cloneWarning
			m.creds[i].LastUsedAt = &now
			return nil
		}
	}
	return apperr.NotFound("credential not found")
}

// ---- transactions ----

// memTx runs with MemoryStore.mu already held.
type memTx struct{ m *MemoryStore }

func (t *memTx) LockItem(_ context.Context, id uint) (*models.Item, error) {
	it, ok := t.m.items[id]
	if !ok {
		return nil, apperr.NotFound("item not found")
	}
	return &it, nil
}

func (t *memTx) SaveItem(_ context.Context, it *models.Item) error {
	if _, ok := t.m.items[it.ID]; !ok {
		return apperr.NotFound("item not found")
	}
	if t.m.serialTaken(it.SerialNumber, it.ID) {
		return apperr.Conflict("serial number already exists")
	}
	it.UpdatedAt = time.Now().UTC()
	t.m.items[it.ID] = *it
	return nil
}

func (t *memTx) SetItemStatus(_ context.Context, id uint, status models.ItemStatus) error {
	it, ok := t.m.items[id]
	if !ok {
		return apperr.NotFound("item not found")
	}
	it.Status = status
	it.UpdatedAt = time.Now().UTC()
	t.m.items[id] = it
	return nil
}

func (t *memTx) DeleteItem(_ context.Context, id uint) error {
	if _, ok := t.m.items[id]; !ok {
		return apperr.NotFound("item not found")
	}
	for _, rec := range t.m.records {
		if rec.ItemID == id {
			return apperr.Conflict("item has borrow records")
		}
	}
	delete(t.m.items, id)
	return nil
}

func (t *memTx) FindRecord(ctx context.Context, id uint) (*models.BorrowRecord, error) {
	return t.LockRecord(ctx, id)
}

func (t *memTx) LockRecord(_ context.Context, id uint) (*models.BorrowRecord, error) {
	rec, ok := t.m.records[id]
	if !ok {
		return nil, apperr.NotFound("borrow record not found")
	}
	return &rec, nil
}

func (t *memTx) OpenRecordForItem(_ context.Context, itemID uint) (*models.BorrowRecord, error) {
	for _, rec := range t.m.records {
		if rec.ItemID == itemID && rec.Open() {
			return &rec, nil
		}
	}
	return nil, nil
}

func (t *memTx) CountRecordsForItem(_ context.Context, itemID uint) (int64, error) {
	var n int64
	for _, rec := range t.m.records {
		if rec.ItemID == itemID {
			n++
		}
	}
	return n, nil
}

func (t *memTx) CreateRecord(ctx context.Context, rec *models.BorrowRecord) error {
	if _, ok := t.m.items[rec.ItemID]; !ok {
		return apperr.NotFound("item not found")
	}
	if _, ok := t.m.users[rec.UserID]; !ok {
		return apperr.NotFound("user not found")
	}
	if open, _ := t.OpenRecordForItem(ctx, rec.ItemID); open != nil {
		return apperr.Conflict("item not available")
	}
	now := time.Now().UTC()
	rec.ID = t.m.nextID()
	rec.CreatedAt, rec.UpdatedAt = now, now
	stored := *rec
	stored.Item, stored.User = nil, nil
	t.m.records[rec.ID] = stored
	return nil
}

func (t *memTx) CloseRecord(_ context.Context, id uint, at time.Time, by uint) error {
	rec, ok := t.m.records[id]
	if !ok {
		return apperr.NotFound("borrow record not found")
	}
	if !rec.Open() {
		return apperr.Conflict("already returned")
	}
	rec.ReturnedAt = &at
	rec.ReturnedBy = &by
	rec.UpdatedAt = time.Now().UTC()
	t.m.records[id] = rec
	return nil
}

func (t *memTx) AddAudit(_ context.Context, entry *models.AuditLog) error {
	entry.ID = t.m.nextID()
	entry.CreatedAt = time.Now().UTC()
	t.m.audits = append(t.m.audits, *entry)
	return nil
}
