package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/localnerve/jam-build-entitygraph/internal/model"
	"github.com/localnerve/jam-build-entitygraph/internal/models"
	"github.com/localnerve/jam-build-entitygraph/internal/transport"
)

// ErrInvalidChange is returned for changes that do not match the schema
var ErrInvalidChange = errors.New("invalid change")

// working is a record being changed inside one submission
type working struct {
	rec     *models.EntityRecord
	props   transport.Properties
	version uint64
	isNew   bool
	dirty   bool
}

// applier applies the changes of one submission inside a transaction
type applier struct {
	svc       *EntityService
	tx        *gorm.DB
	ids       map[string]string
	work      map[string]*working
	idChanges []transport.IDChange
}

// ApplyChanges applies the changes of req in one transaction and answers the queries
// sent along. New instances get uuid ids reported as id changes. A value, reference
// or list change whose old value is not the stored value fails the whole submission
// with ErrVersion.
func (s *EntityService) ApplyChanges(userID string, req *transport.SubmitRequest) (*transport.Response, error) {
	resp := &transport.Response{Instances: transport.Instances{}}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		a := &applier{svc: s, tx: tx, ids: map[string]string{}, work: map[string]*working{}}
		for i, c := range req.Changes {
			if err := a.apply(c); err != nil {
				return fmt.Errorf("change %d (%s %s): %w", i, c.Type, c.Instance, err)
			}
		}
		if err := a.flush(); err != nil {
			return err
		}
		resp.IDChanges = a.idChanges

		if len(req.Changes) == 0 {
			return nil
		}
		changes, err := models.NewJSON(req.Changes)
		if err != nil {
			return err
		}
		return tx.Create(&models.ChangeSetRecord{
			UserID:      userID,
			ChangeCount: len(req.Changes),
			Changes:     changes,
		}).Error
	})
	if s.observer != nil {
		s.observer.ObserveChangeBatch(len(req.Changes), err)
	}
	if err != nil {
		return nil, err
	}

	if len(req.Queries) > 0 {
		answer, err := s.Instances(&transport.QueryRequest{Queries: req.Queries})
		if err != nil {
			return resp, err
		}
		resp.Instances = answer.Instances
	}
	return resp, nil
}

// History returns the change sets after the given ledger id, oldest first
func (s *EntityService) History(after uint64, limit int) ([]models.ChangeSetRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var sets []models.ChangeSetRecord
	err := silent(s.db).Where("change_set_id > ?", after).
		Order("change_set_id").Limit(limit).Find(&sets).Error
	return sets, err
}

func (a *applier) clientKey(typeName, id string) string {
	return a.svc.schema.Root(typeName) + "|" + entityKey(id)
}

// resolve translates ids of instances created earlier in the submission
func (a *applier) resolve(typeName, id string) string {
	if newID, ok := a.ids[a.clientKey(typeName, id)]; ok {
		return newID
	}
	return entityKey(id)
}

// record returns the working copy of the instance, loading it with a row lock.
func (a *applier) record(typeName, id string) (*working, error) {
	if _, ok := a.svc.schema.Types[typeName]; !ok {
		return nil, fmt.Errorf("%w: %w: %s", ErrInvalidChange, model.ErrTypeNotFound, typeName)
	}
	id = a.resolve(typeName, id)
	key := a.svc.schema.Root(typeName) + "|" + id
	w, ok := a.work[key]
	if !ok {
		var rec models.EntityRecord
		err := silent(a.tx).Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("root_type = ? AND entity_id = ?", a.svc.schema.Root(typeName), id).
			First(&rec).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("%w: %s|%s", ErrNotFound, typeName, id)
			}
			return nil, err
		}
		props := transport.Properties{}
		if err := rec.Properties.Decode(&props); err != nil {
			return nil, err
		}
		w = &working{rec: &rec, props: props, version: rec.Version}
		a.work[key] = w
	}
	if !a.svc.schema.IsA(w.rec.TypeName, typeName) {
		return nil, fmt.Errorf("%w: %s|%s is a %s", ErrNotFound, typeName, id, w.rec.TypeName)
	}
	return w, nil
}

func (a *applier) apply(c transport.Change) error {
	if c.Type == transport.InitNew {
		return a.initNew(c.Instance)
	}
	w, err := a.record(c.Instance.Type, c.Instance.ID)
	if err != nil {
		return err
	}
	pm, ok := a.svc.schema.Property(w.rec.TypeName, c.Property)
	if !ok || pm.IsStatic || !pm.Persisted() {
		return fmt.Errorf("%w: %s.%s is not a persisted property", ErrInvalidChange, w.rec.TypeName, c.Property)
	}

	switch c.Type {
	case transport.ValueChange:
		if pm.IsList || !model.IsValueType(pm.Type) {
			return fmt.Errorf("%w: %s.%s is not a value property", ErrInvalidChange, w.rec.TypeName, c.Property)
		}
		if err := checkOld(w, c.Property, c.OldValue); err != nil {
			return err
		}
		w.props[c.Property] = orNull(c.NewValue)

	case transport.ReferenceChange:
		if pm.IsList || model.IsValueType(pm.Type) {
			return fmt.Errorf("%w: %s.%s is not a reference property", ErrInvalidChange, w.rec.TypeName, c.Property)
		}
		if len(c.OldValue) > 0 {
			old, err := a.refID(c.OldValue)
			if err != nil {
				return err
			}
			var cur transport.Ref
			if raw, ok := w.props[c.Property]; ok {
				if err := json.Unmarshal(raw, &cur); err != nil {
					return err
				}
			}
			if entityKey(cur.ID) != old {
				return fmt.Errorf("%w: %s.%s changed", ErrVersion, w.rec.TypeName, c.Property)
			}
		}
		id, err := a.refID(c.NewValue)
		if err != nil {
			return err
		}
		raw := nullJSON
		if id != "" {
			if _, err := a.record(pm.Type, id); err != nil {
				return err
			}
			if raw, err = json.Marshal(id); err != nil {
				return err
			}
		}
		w.props[c.Property] = raw

	case transport.ListChange:
		if !pm.IsList {
			return fmt.Errorf("%w: %s.%s is not a list", ErrInvalidChange, w.rec.TypeName, c.Property)
		}
		if model.IsValueType(pm.Type) {
			var items []any
			if err := json.Unmarshal(c.NewValue, &items); err != nil || items == nil {
				return fmt.Errorf("%w: %s.%s needs the new items", ErrInvalidChange, w.rec.TypeName, c.Property)
			}
			if _, ok := w.props[c.Property]; ok {
				if err := checkOld(w, c.Property, c.OldValue); err != nil {
					return err
				}
			}
			w.props[c.Property] = c.NewValue
			break
		}
		if err := a.applyList(w, c.Property, pm.Type, c); err != nil {
			return err
		}

	default:
		return fmt.Errorf("%w: unknown change type %q", ErrInvalidChange, c.Type)
	}
	w.dirty = true
	return nil
}

func (a *applier) initNew(r transport.InstanceRef) error {
	if _, ok := a.svc.schema.Types[r.Type]; !ok {
		return fmt.Errorf("%w: %w: %s", ErrInvalidChange, model.ErrTypeNotFound, r.Type)
	}
	key := a.clientKey(r.Type, r.ID)
	if _, dup := a.ids[key]; dup {
		return fmt.Errorf("%w: %s created twice", ErrInvalidChange, r)
	}
	id := uuid.NewString()
	a.ids[key] = id
	root := a.svc.schema.Root(r.Type)
	a.work[root+"|"+id] = &working{
		rec:   &models.EntityRecord{RootType: root, EntityID: id, TypeName: r.Type},
		props: a.svc.schema.Defaults(r.Type),
		isNew: true,
		dirty: true,
	}
	a.idChanges = append(a.idChanges, transport.IDChange{Type: r.Type, OldID: r.ID, NewID: id})
	return nil
}

// applyList removes and then adds items of an entity list. Items already present are
// not added twice.
func (a *applier) applyList(w *working, property, itemType string, c transport.Change) error {
	var ids []transport.Ref
	if raw, ok := w.props[property]; ok {
		if err := json.Unmarshal(raw, &ids); err != nil {
			return err
		}
	}
	keep := ids[:0]
	for _, cur := range ids {
		removed := false
		for _, r := range c.Removed {
			if a.resolve(r.Type, r.ID) == entityKey(cur.ID) {
				removed = true
				break
			}
		}
		if !removed {
			keep = append(keep, cur)
		}
	}
	ids = keep
	for _, r := range c.Added {
		typeName := r.Type
		if typeName == "" {
			typeName = itemType
		}
		if _, err := a.record(typeName, r.ID); err != nil {
			return err
		}
		id := a.resolve(typeName, r.ID)
		present := false
		for _, cur := range ids {
			if entityKey(cur.ID) == id {
				present = true
				break
			}
		}
		if !present {
			ids = append(ids, transport.Ref{ID: id})
		}
	}
	out := make([]string, len(ids))
	for i, r := range ids {
		out[i] = r.ID
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return err
	}
	w.props[property] = raw
	return nil
}

// refID decodes a reference change value and translates it.
func (a *applier) refID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var r *transport.InstanceRef
	if err := json.Unmarshal(raw, &r); err != nil {
		return "", fmt.Errorf("%w: reference %s: %v", ErrInvalidChange, raw, err)
	}
	if r == nil || r.ID == "" {
		return "", nil
	}
	return a.resolve(r.Type, r.ID), nil
}

// flush writes the working copies. Existing records are only updated at the version
// they were read at.
func (a *applier) flush() error {
	keys := make([]string, 0, len(a.work))
	for k := range a.work {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		w := a.work[k]
		if !w.dirty {
			continue
		}
		value, err := models.NewJSON(w.props)
		if err != nil {
			return err
		}
		if w.isNew {
			w.rec.Properties = value
			if err := a.tx.Create(w.rec).Error; err != nil {
				return err
			}
			continue
		}
		result := a.tx.Model(&models.EntityRecord{}).
			Where("record_id = ? AND version = ?", w.rec.RecordID, w.version).
			Updates(map[string]interface{}{"properties": value, "version": w.version + 1})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w - %s|%s was modified concurrently", ErrVersion, w.rec.TypeName, w.rec.EntityID)
		}
	}
	return nil
}

// checkOld compares the stored value with the value the change was made against. An
// absent old value is not checked and an absent stored value is null.
func checkOld(w *working, property string, old json.RawMessage) error {
	if len(old) == 0 {
		return nil
	}
	cur, ok := w.props[property]
	if !ok {
		cur = nullJSON
	}
	same, err := jsonEqual(cur, old)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidChange, err)
	}
	if !same {
		return fmt.Errorf("%w: %s.%s is %s, not %s", ErrVersion, w.rec.TypeName, property, cur, strings.TrimSpace(string(old)))
	}
	return nil
}

func jsonEqual(a, b json.RawMessage) (bool, error) {
	var va, vb any
	if err := json.Unmarshal(a, &va); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, &vb); err != nil {
		return false, err
	}
	return reflect.DeepEqual(va, vb), nil
}

func orNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nullJSON
	}
	return raw
}
