package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"

	"github.com/noah-isme/trn-registry-api/internal/models"
	"github.com/noah-isme/trn-registry-api/internal/repository"
)

// memState is everything a transaction can roll back.
type memState struct {
	persons    map[string]models.Person
	order      []string
	prevNames  []models.PreviousName
	prevNinos  []models.PreviousNationalInsuranceNumber
	index      map[string]models.PersonSearchAttributes
	merges     map[string]models.PersonMerge
	references map[string]map[string]string
	tasks      map[string]models.ResolutionTask
	bindings   map[string]models.ExternalBinding
	ranges     []models.IdentifierRange
	tokens     map[string]models.TrnToken
	events     []models.PersonEvent
}

func (s memState) clone() memState {
	out := memState{
		persons:    make(map[string]models.Person, len(s.persons)),
		order:      append([]string(nil), s.order...),
		prevNames:  append([]models.PreviousName(nil), s.prevNames...),
		prevNinos:  append([]models.PreviousNationalInsuranceNumber(nil), s.prevNinos...),
		index:      make(map[string]models.PersonSearchAttributes, len(s.index)),
		merges:     make(map[string]models.PersonMerge, len(s.merges)),
		references: make(map[string]map[string]string, len(s.references)),
		tasks:      make(map[string]models.ResolutionTask, len(s.tasks)),
		bindings:   make(map[string]models.ExternalBinding, len(s.bindings)),
		ranges:     append([]models.IdentifierRange(nil), s.ranges...),
		tokens:     make(map[string]models.TrnToken, len(s.tokens)),
		events:     append([]models.PersonEvent(nil), s.events...),
	}
	for k, v := range s.persons {
		out.persons[k] = v
	}
	for k, v := range s.index {
		out.index[k] = v
	}
	for k, v := range s.merges {
		out.merges[k] = v
	}
	for table, rows := range s.references {
		copied := make(map[string]string, len(rows))
		for id, owner := range rows {
			copied[id] = owner
		}
		out.references[table] = copied
	}
	for k, v := range s.tasks {
		out.tasks[k] = v
	}
	for k, v := range s.bindings {
		out.bindings[k] = v
	}
	for k, v := range s.tokens {
		out.tokens[k] = v
	}
	return out
}

// memDB is an in-memory registry store shared by the fake repositories.
type memDB struct {
	mu sync.Mutex
	// rangeRow stands in for the identifier range row lock; it is held until
	// the transaction that took it ends.
	rangeRow sync.Mutex
	state    memState
	seq      int
	audit    []models.AuditLog
	now      time.Time
}

func newMemDB() *memDB {
	return &memDB{
		state: memState{
			persons:    map[string]models.Person{},
			index:      map[string]models.PersonSearchAttributes{},
			merges:     map[string]models.PersonMerge{},
			references: map[string]map[string]string{},
			tasks:      map[string]models.ResolutionTask{},
			bindings:   map[string]models.ExternalBinding{},
			tokens:     map[string]models.TrnToken{},
		},
		now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (db *memDB) nextID(prefix string) string {
	db.seq++
	return fmt.Sprintf("%s-%d", prefix, db.seq)
}

func (db *memDB) tick() time.Time {
	db.now = db.now.Add(time.Second)
	return db.now
}

// memTx tracks the row locks a fake transaction holds. Its DBTX is never called.
type memTx struct {
	repository.DBTX
	holdsRange bool
	release    []func()
}

// WithinTx runs fn against the shared state and restores it when fn fails.
func (db *memDB) WithinTx(ctx context.Context, fn func(tx repository.DBTX) error) error {
	db.mu.Lock()
	saved := db.state.clone()
	db.mu.Unlock()
	tx := &memTx{}
	defer func() {
		for _, release := range tx.release {
			release()
		}
	}()
	if err := fn(tx); err != nil {
		db.mu.Lock()
		db.state = saved
		db.mu.Unlock()
		return err
	}
	return nil
}

func (db *memDB) person(id string) models.Person {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.state.persons[id]
}

func (db *memDB) addReference(table, rowID, personID string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.state.references[table] == nil {
		db.state.references[table] = map[string]string{}
	}
	db.state.references[table][rowID] = personID
}

func (db *memDB) eventNames() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	names := make([]string, len(db.state.events))
	for i, e := range db.state.events {
		names[i] = e.EventName
	}
	return names
}

func uniqueViolation() error {
	return &pq.Error{Code: "23505"}
}

type memPersonRepo struct{ db *memDB }

func (r memPersonRepo) Create(ctx context.Context, q repository.DBTX, person *models.Person) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if person.Trn != nil {
		for _, p := range r.db.state.persons {
			if p.Trn != nil && *p.Trn == *person.Trn {
				return uniqueViolation()
			}
		}
	}
	if person.ID == "" {
		person.ID = r.db.nextID("person")
	}
	if person.Status == "" {
		person.Status = models.PersonStatusActive
	}
	person.Version = 1
	now := r.db.tick()
	person.CreatedAt, person.UpdatedAt = now, now
	r.db.state.persons[person.ID] = *person
	r.db.state.order = append(r.db.state.order, person.ID)
	return nil
}

func (r memPersonRepo) GetByID(ctx context.Context, q repository.DBTX, id string) (*models.Person, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.state.persons[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &p, nil
}

func (r memPersonRepo) LockForUpdate(ctx context.Context, q repository.DBTX, ids ...string) (map[string]*models.Person, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := make(map[string]*models.Person, len(ids))
	for _, id := range ids {
		if p, ok := r.db.state.persons[id]; ok {
			copied := p
			out[id] = &copied
		}
	}
	return out, nil
}

func (r memPersonRepo) Update(ctx context.Context, q repository.DBTX, person *models.Person) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	stored, ok := r.db.state.persons[person.ID]
	if !ok || stored.Version != person.Version {
		return repository.ErrStaleVersion
	}
	if person.Trn != nil {
		for id, p := range r.db.state.persons {
			if id != person.ID && p.Trn != nil && *p.Trn == *person.Trn {
				return uniqueViolation()
			}
		}
	}
	person.Version++
	person.UpdatedAt = r.db.tick()
	r.db.state.persons[person.ID] = *person
	return nil
}

func (r memPersonRepo) RedirectMerged(ctx context.Context, q repository.DBTX, from, to string) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	for id, p := range r.db.state.persons {
		if p.MergedWithPersonID != nil && *p.MergedWithPersonID == from {
			target := to
			p.MergedWithPersonID = &target
			p.Version++
			r.db.state.persons[id] = p
			n++
		}
	}
	return n, nil
}

func (r memPersonRepo) ListTrnsMergedInto(ctx context.Context, q repository.DBTX, personID string) ([]string, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var trns []string
	for _, id := range r.db.state.order {
		p := r.db.state.persons[id]
		if p.MergedWithPersonID != nil && *p.MergedWithPersonID == personID && p.Trn != nil {
			trns = append(trns, *p.Trn)
		}
	}
	return trns, nil
}

func (r memPersonRepo) AddPreviousName(ctx context.Context, q repository.DBTX, name *models.PreviousName) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	name.ID = r.db.nextID("name")
	name.CreatedAt = r.db.tick()
	r.db.state.prevNames = append(r.db.state.prevNames, *name)
	return nil
}

func (r memPersonRepo) ListPreviousNames(ctx context.Context, q repository.DBTX, personID string) ([]models.PreviousName, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := []models.PreviousName{}
	for _, n := range r.db.state.prevNames {
		if n.PersonID == personID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (r memPersonRepo) MovePreviousNames(ctx context.Context, q repository.DBTX, from, to string) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	for i := range r.db.state.prevNames {
		if r.db.state.prevNames[i].PersonID == from {
			r.db.state.prevNames[i].PersonID = to
			n++
		}
	}
	return n, nil
}

func (r memPersonRepo) AddPreviousNationalInsuranceNumber(ctx context.Context, q repository.DBTX, nino *models.PreviousNationalInsuranceNumber) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	nino.ID = r.db.nextID("nino")
	nino.CreatedAt = r.db.tick()
	r.db.state.prevNinos = append(r.db.state.prevNinos, *nino)
	return nil
}

func (r memPersonRepo) ListPreviousNationalInsuranceNumbers(ctx context.Context, q repository.DBTX, personID string) ([]models.PreviousNationalInsuranceNumber, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := []models.PreviousNationalInsuranceNumber{}
	for _, n := range r.db.state.prevNinos {
		if n.PersonID == personID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (r memPersonRepo) MovePreviousNationalInsuranceNumbers(ctx context.Context, q repository.DBTX, from, to string) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	for i := range r.db.state.prevNinos {
		if r.db.state.prevNinos[i].PersonID == from {
			r.db.state.prevNinos[i].PersonID = to
			n++
		}
	}
	return n, nil
}

type memIndexRepo struct{ db *memDB }

func (r memIndexRepo) Upsert(ctx context.Context, q repository.DBTX, attrs models.PersonSearchAttributes) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.state.index[attrs.PersonID] = attrs
	return nil
}

func (r memIndexRepo) Delete(ctx context.Context, q repository.DBTX, personID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	delete(r.db.state.index, personID)
	return nil
}

func (r memIndexRepo) find(limit int, match func(models.PersonSearchAttributes) bool) []models.CandidateRecord {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := []models.CandidateRecord{}
	for _, id := range r.db.state.order {
		attrs, ok := r.db.state.index[id]
		person := r.db.state.persons[id]
		if !ok || person.Status != models.PersonStatusActive || !match(attrs) {
			continue
		}
		out = append(out, models.CandidateRecord{
			PersonID:                 id,
			Version:                  person.Version,
			Trns:                     attrs.Trns,
			Names:                    attrs.Names,
			LastNames:                attrs.LastNames,
			NationalInsuranceNumbers: attrs.NationalInsuranceNumbers,
			EmailAddresses:           attrs.EmailAddresses,
			DateOfBirth:              attrs.DateOfBirth,
		})
		if len(out) == limit {
			break
		}
	}
	return out
}

func (r memIndexRepo) FindByTrns(ctx context.Context, q repository.DBTX, trns []string, limit int) ([]models.CandidateRecord, error) {
	return r.find(limit, func(a models.PersonSearchAttributes) bool { return overlaps(a.Trns, trns) }), nil
}

func (r memIndexRepo) FindByNationalInsuranceNumbers(ctx context.Context, q repository.DBTX, ninos []string, limit int) ([]models.CandidateRecord, error) {
	return r.find(limit, func(a models.PersonSearchAttributes) bool { return overlaps(a.NationalInsuranceNumbers, ninos) }), nil
}

func (r memIndexRepo) FindByNames(ctx context.Context, q repository.DBTX, names []string, dob *time.Time, limit int) ([]models.CandidateRecord, error) {
	return r.find(limit, func(a models.PersonSearchAttributes) bool {
		if !overlaps(a.Names, names) {
			return false
		}
		return dob == nil || (a.DateOfBirth != nil && a.DateOfBirth.Equal(*dob))
	}), nil
}

func (r memIndexRepo) FindByEmails(ctx context.Context, q repository.DBTX, emails []string, limit int) ([]models.CandidateRecord, error) {
	return r.find(limit, func(a models.PersonSearchAttributes) bool { return overlaps(a.EmailAddresses, emails) }), nil
}

func overlaps(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

var memReferenceTables = []string{"qualifications", "employment_history", "notes", "alerts"}

type memMergeRepo struct{ db *memDB }

func (r memMergeRepo) FindBySecondary(ctx context.Context, q repository.DBTX, secondaryID string) (*models.PersonMerge, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	m, ok := r.db.state.merges[secondaryID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &m, nil
}

func (r memMergeRepo) Create(ctx context.Context, q repository.DBTX, merge *models.PersonMerge) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.state.merges[merge.SecondaryID]; ok {
		return uniqueViolation()
	}
	r.db.state.merges[merge.SecondaryID] = *merge
	return nil
}

func (r memMergeRepo) RepointReferences(ctx context.Context, q repository.DBTX, from, to string) (map[string]int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	counts := make(map[string]int64, len(memReferenceTables)+1)
	for _, table := range memReferenceTables {
		counts[table] = 0
		for id, owner := range r.db.state.references[table] {
			if owner == from {
				r.db.state.references[table][id] = to
				counts[table]++
			}
		}
	}
	counts["external_bindings"] = 0
	for key, b := range r.db.state.bindings {
		if b.PersonID != nil && *b.PersonID == from {
			target := to
			b.PersonID = &target
			r.db.state.bindings[key] = b
			counts["external_bindings"]++
		}
	}
	return counts, nil
}

type memTaskRepo struct{ db *memDB }

func (r memTaskRepo) Create(ctx context.Context, q repository.DBTX, task *models.ResolutionTask) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.state.tasks[task.Reference]; ok {
		return uniqueViolation()
	}
	task.ID = r.db.nextID("task")
	if task.Status == "" {
		task.Status = models.TaskStatusOpen
	}
	now := r.db.tick()
	task.CreatedAt, task.UpdatedAt = now, now
	r.db.state.tasks[task.Reference] = *task
	return nil
}

func (r memTaskRepo) GetByReference(ctx context.Context, q repository.DBTX, reference string) (*models.ResolutionTask, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.state.tasks[reference]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &t, nil
}

func (r memTaskRepo) GetByReferenceForUpdate(ctx context.Context, q repository.DBTX, reference string) (*models.ResolutionTask, error) {
	return r.GetByReference(ctx, q, reference)
}

func (r memTaskRepo) List(ctx context.Context, q repository.DBTX, filter models.ResolutionTaskFilter) ([]models.ResolutionTask, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := []models.ResolutionTask{}
	for _, t := range r.db.state.tasks {
		if len(filter.Status) > 0 {
			keep := false
			for _, s := range filter.Status {
				keep = keep || t.Status == s
			}
			if !keep {
				continue
			}
		}
		if filter.TaskType != "" && t.TaskType != filter.TaskType {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r memTaskRepo) Requeue(ctx context.Context, q repository.DBTX, id string, assertion, candidates types.JSONText) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for ref, t := range r.db.state.tasks {
		if t.ID == id && t.Status == models.TaskStatusOpen {
			t.Assertion, t.Candidates = assertion, candidates
			t.UpdatedAt = r.db.tick()
			r.db.state.tasks[ref] = t
			return nil
		}
	}
	return sql.ErrNoRows
}

func (r memTaskRepo) Close(ctx context.Context, q repository.DBTX, params repository.CloseTaskParams) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for ref, t := range r.db.state.tasks {
		if t.ID == params.ID && t.Status == models.TaskStatusOpen {
			t.Status = params.Status
			t.Resolution = types.NullJSONText{JSONText: params.Resolution, Valid: true}
			t.ResolvedPersonID = params.ResolvedPersonID
			by := params.ResolvedBy
			t.ResolvedBy = &by
			at := params.ResolvedAt
			t.ResolvedAt = &at
			r.db.state.tasks[ref] = t
			return nil
		}
	}
	return sql.ErrNoRows
}

type memBindingRepo struct{ db *memDB }

func (r memBindingRepo) GetByExternalKey(ctx context.Context, q repository.DBTX, key string) (*models.ExternalBinding, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	b, ok := r.db.state.bindings[key]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &b, nil
}

func (r memBindingRepo) GetByExternalKeyForUpdate(ctx context.Context, q repository.DBTX, key string) (*models.ExternalBinding, error) {
	return r.GetByExternalKey(ctx, q, key)
}

func (r memBindingRepo) Create(ctx context.Context, q repository.DBTX, binding *models.ExternalBinding) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.state.bindings[binding.ExternalKey]; ok {
		return uniqueViolation()
	}
	binding.ID = r.db.nextID("binding")
	now := r.db.tick()
	binding.CreatedAt, binding.UpdatedAt = now, now
	r.db.state.bindings[binding.ExternalKey] = *binding
	return nil
}

func (r memBindingRepo) Update(ctx context.Context, q repository.DBTX, binding *models.ExternalBinding) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	stored, ok := r.db.state.bindings[binding.ExternalKey]
	if !ok || stored.Status == models.BindingStatusBound {
		return sql.ErrNoRows
	}
	binding.UpdatedAt = r.db.tick()
	r.db.state.bindings[binding.ExternalKey] = *binding
	return nil
}

func (r memBindingRepo) RecordSeen(ctx context.Context, q repository.DBTX, key string, firstSeen, lastSeen time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	b, ok := r.db.state.bindings[key]
	if !ok {
		return sql.ErrNoRows
	}
	if b.FirstSeenAt == nil || firstSeen.Before(*b.FirstSeenAt) {
		b.FirstSeenAt = &firstSeen
	}
	if b.LastSeenAt == nil || lastSeen.After(*b.LastSeenAt) {
		b.LastSeenAt = &lastSeen
	}
	r.db.state.bindings[key] = b
	return nil
}

type memRangeRepo struct{ db *memDB }

func (r memRangeRepo) LockCurrent(ctx context.Context, q repository.DBTX) (*models.IdentifierRange, error) {
	if tx, ok := q.(*memTx); ok && !tx.holdsRange {
		r.db.rangeRow.Lock()
		tx.holdsRange = true
		tx.release = append(tx.release, r.db.rangeRow.Unlock)
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, rng := range r.db.state.ranges {
		if !rng.IsExhausted {
			copied := rng
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r memRangeRepo) Advance(ctx context.Context, q repository.DBTX, rng *models.IdentifierRange) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for i := range r.db.state.ranges {
		if r.db.state.ranges[i].ID == rng.ID {
			r.db.state.ranges[i].NextID = rng.NextID
			r.db.state.ranges[i].IsExhausted = rng.IsExhausted
			return nil
		}
	}
	return sql.ErrNoRows
}

func (r memRangeRepo) List(ctx context.Context, q repository.DBTX) ([]models.IdentifierRange, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return append([]models.IdentifierRange(nil), r.db.state.ranges...), nil
}

func (r memRangeRepo) CountConflicts(ctx context.Context, q repository.DBTX, from, to int64) (int, int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	overlapping, current := 0, 0
	for _, rng := range r.db.state.ranges {
		if rng.FromID <= to && from <= rng.ToID {
			overlapping++
		}
		if !rng.IsExhausted {
			current++
		}
	}
	return overlapping, current, nil
}

func (r memRangeRepo) Create(ctx context.Context, q repository.DBTX, rng *models.IdentifierRange) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	rng.ID = r.db.nextID("range")
	r.db.state.ranges = append(r.db.state.ranges, *rng)
	return nil
}

type memTokenRepo struct{ db *memDB }

func (r memTokenRepo) Create(ctx context.Context, q repository.DBTX, token *models.TrnToken) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	token.ID = r.db.nextID("token")
	r.db.state.tokens[token.Digest] = *token
	return nil
}

func (r memTokenRepo) GetByDigest(ctx context.Context, q repository.DBTX, digest string) (*models.TrnToken, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.state.tokens[digest]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &t, nil
}

func (r memTokenRepo) GetByDigestForUpdate(ctx context.Context, q repository.DBTX, digest string) (*models.TrnToken, error) {
	return r.GetByDigest(ctx, q, digest)
}

func (r memTokenRepo) Consume(ctx context.Context, q repository.DBTX, id, externalKey string, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for digest, t := range r.db.state.tokens {
		if t.ID == id && t.ConsumedAt == nil {
			t.ConsumedAt = &at
			key := externalKey
			t.ConsumedByKey = &key
			r.db.state.tokens[digest] = t
			return nil
		}
	}
	return sql.ErrNoRows
}

type memEventRepo struct{ db *memDB }

func (r memEventRepo) Append(ctx context.Context, q repository.DBTX, event *models.PersonEvent) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	event.ID = r.db.nextID("event")
	event.CreatedAt = r.db.tick()
	r.db.state.events = append(r.db.state.events, *event)
	return nil
}

func (r memEventRepo) GetByID(ctx context.Context, id string) (*models.PersonEvent, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, e := range r.db.state.events {
		if e.ID == id {
			copied := e
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r memEventRepo) ListUnpublished(ctx context.Context, limit int) ([]models.PersonEvent, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := []models.PersonEvent{}
	for _, e := range r.db.state.events {
		if e.PublishedAt == nil {
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r memEventRepo) MarkPublished(ctx context.Context, id string, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for i := range r.db.state.events {
		if r.db.state.events[i].ID == id {
			r.db.state.events[i].PublishedAt = &at
			return nil
		}
	}
	return sql.ErrNoRows
}

type memAuditRepo struct{ db *memDB }

func (r memAuditRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.audit = append(r.db.audit, *log)
	return nil
}

type countingNotifier struct {
	mu    sync.Mutex
	calls int
}

func (n *countingNotifier) Notify() {
	n.mu.Lock()
	n.calls++
	n.mu.Unlock()
}

// testRegistry wires every identity service over one memDB.
type testRegistry struct {
	db       *memDB
	metrics  *MetricsService
	notifier *countingNotifier
	index    *SearchIndexService
	ids      *IdentifierService
	tokens   *TrnTokenService
	bindings *BindingService
	persons  *PersonService
	merges   *MergeService
	tasks    *ResolutionTaskService
	match    *MatchService
}

func newTestRegistry(t *testing.T) *testRegistry {
	t.Helper()
	db := newMemDB()
	metrics := NewMetricsService()
	notifier := &countingNotifier{}
	personRepo := memPersonRepo{db}
	events := memEventRepo{db}
	audit := memAuditRepo{db}

	index := NewSearchIndexService(personRepo, memIndexRepo{db}, nil, 10, nil)
	ids := NewIdentifierService(memRangeRepo{db}, db, nil, nil, WithIdentifierMetrics(metrics), WithIdentifierAudit(audit))
	tokens := NewTrnTokenService(memTokenRepo{db}, nil, "test-key", time.Hour, audit, nil)
	bindings := NewBindingService(memBindingRepo{db}, personRepo, events, db, nil, nil,
		WithBindingNotifier(notifier), WithBindingAudit(audit))
	persons := NewPersonService(personRepo, ids, index, events, db, nil, nil,
		WithPersonNotifier(notifier), WithPersonAudit(audit))
	merges := NewMergeService(personRepo, memMergeRepo{db}, index, events, db, nil,
		WithMergeNotifier(notifier), WithMergeAudit(audit), WithMergeMetrics(metrics))
	tasks := NewResolutionTaskService(ResolutionTaskServiceParams{
		Tasks:    memTaskRepo{db},
		Persons:  persons,
		Merger:   merges,
		Bindings: bindings,
		Events:   events,
		Notifier: notifier,
		Tx:       db,
		Audit:    audit,
		Metrics:  metrics,
	})
	match := NewMatchService(MatchServiceParams{
		Finder:   index,
		Tokens:   tokens,
		Bindings: bindings,
		Tasks:    tasks,
		Persons:  personRepo,
		Notifier: notifier,
		Tx:       db,
		Audit:    audit,
		Metrics:  metrics,
	})

	_, err := ids.AddRange(context.Background(), 1000000, 1999999, "ops")
	if err != nil {
		t.Fatalf("seed identifier range: %v", err)
	}
	return &testRegistry{
		db:       db,
		metrics:  metrics,
		notifier: notifier,
		index:    index,
		ids:      ids,
		tokens:   tokens,
		bindings: bindings,
		persons:  persons,
		merges:   merges,
		tasks:    tasks,
		match:    match,
	}
}

func dob(value string) *time.Time {
	d, err := time.Parse(models.DateLayout, value)
	if err != nil {
		panic(err)
	}
	return &d
}

func strPtr(v string) *string { return &v }

func intPtr(v int) *int { return &v }

// seedPerson registers a person through the public service so the projection is built.
func (r *testRegistry) seedPerson(t *testing.T, details PersonDetails) *models.Person {
	t.Helper()
	person, err := r.persons.Register(context.Background(), details, "seed")
	if err != nil {
		t.Fatalf("seed person: %v", err)
	}
	return person
}
