package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/hints"

	"github.com/localnerve/jam-build-entitygraph/internal/model"
	"github.com/localnerve/jam-build-entitygraph/internal/models"
	"github.com/localnerve/jam-build-entitygraph/internal/schema"
	"github.com/localnerve/jam-build-entitygraph/internal/transport"
)

var (
	// ErrNotFound is returned when an instance does not exist
	ErrNotFound = errors.New("not found")
	// ErrInvalidRequest is returned for requests that do not match the schema
	ErrInvalidRequest = errors.New("invalid request")
	// ErrVersion marks a change made against a value that is no longer current
	ErrVersion = errors.New("E_VERSION")
)

var (
	nullJSON  = json.RawMessage("null")
	emptyList = json.RawMessage("[]")
)

// ChangeObserver receives the size and outcome of every change submission.
type ChangeObserver interface {
	ObserveChangeBatch(n int, err error)
}

// EntityService answers instance, list and type requests from the entity records and
// applies submitted changes.
type EntityService struct {
	db       *gorm.DB
	schema   *schema.Schema
	observer ChangeObserver
}

// NewEntityService returns a service over db serving the types of s
func NewEntityService(db *gorm.DB, s *schema.Schema) *EntityService {
	return &EntityService{db: db, schema: s}
}

// SetObserver reports change submissions to o
func (s *EntityService) SetObserver(o ChangeObserver) {
	s.observer = o
}

// DB returns the database of the entity records
func (s *EntityService) DB() *gorm.DB {
	return s.db
}

// Schema returns the served schema
func (s *EntityService) Schema() *schema.Schema {
	return s.schema
}

// entityKey normalizes ids, which are case-insensitive
func entityKey(id string) string {
	return strings.ToLower(id)
}

func silent(tx *gorm.DB) *gorm.DB {
	return tx.Session(&gorm.Session{Logger: tx.Logger.LogMode(logger.Silent)})
}

// find loads the record of id in the hierarchy of typeName. Records of other types
// of the hierarchy that are not typeName or derived from it are not found.
func (s *EntityService) find(tx *gorm.DB, typeName, id string) (*models.EntityRecord, error) {
	var rec models.EntityRecord
	err := silent(tx).Clauses(hints.Comment("select", "entitygraph")).
		Where("root_type = ? AND entity_id = ?", s.schema.Root(typeName), entityKey(id)).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s|%s", ErrNotFound, typeName, id)
		}
		return nil, err
	}
	if !s.schema.IsA(rec.TypeName, typeName) {
		return nil, fmt.Errorf("%w: %s|%s is a %s", ErrNotFound, typeName, id, rec.TypeName)
	}
	return &rec, nil
}

func (s *EntityService) checkType(name string) error {
	if _, ok := s.schema.Types[name]; !ok {
		return fmt.Errorf("%w: %w: %s", ErrInvalidRequest, model.ErrTypeNotFound, name)
	}
	return nil
}

// Seed stores instances when the store is empty. It returns the number of records
// created.
func (s *EntityService) Seed(instances transport.Instances) (int, error) {
	var count int64
	if err := s.db.Model(&models.EntityRecord{}).Count(&count).Error; err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}

	created := 0
	err := s.db.Transaction(func(tx *gorm.DB) error {
		for _, typeName := range sortedKeys(instances) {
			if err := s.checkType(typeName); err != nil {
				return err
			}
			all := s.schema.Properties(typeName)
			for _, id := range sortedKeys(instances[typeName]) {
				props := transport.Properties{}
				for name, raw := range instances[typeName][id] {
					if pm, ok := all[name]; ok && !pm.IsStatic && pm.Persisted() {
						props[name] = raw
					}
				}
				value, err := models.NewJSON(props)
				if err != nil {
					return err
				}
				rec := models.EntityRecord{
					RootType:   s.schema.Root(typeName),
					EntityID:   entityKey(id),
					TypeName:   typeName,
					Properties: value,
				}
				if err := tx.Create(&rec).Error; err != nil {
					return err
				}
				created++
			}
		}
		return nil
	})
	return created, err
}

// Instances answers the object queries of req. Ids that do not exist are left out of
// the answer. Pending changes sent along are not applied.
func (s *EntityService) Instances(req *transport.QueryRequest) (*transport.Response, error) {
	em := s.emitter(s.db)
	for _, q := range req.Queries {
		if err := s.checkType(q.From); err != nil {
			return nil, err
		}
		tree, err := model.BuildPathTree(q.Include)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		for _, id := range q.IDs {
			rec, err := em.load(q.From, id)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if err := em.emit(rec, tree); err != nil {
				return nil, err
			}
		}
	}
	return &transport.Response{Instances: em.out}, nil
}

// List answers the items of one list property. Without an id the property must be
// static and its values are answered as statics.
func (s *EntityService) List(req *transport.ListRequest) (*transport.Response, error) {
	if err := s.checkType(req.Type); err != nil {
		return nil, err
	}
	pm, ok := s.schema.Property(req.Type, req.Property)
	if !ok || !pm.IsList {
		return nil, fmt.Errorf("%w: %s.%s is not a list", ErrInvalidRequest, req.Type, req.Property)
	}

	if req.ID == "" {
		if !pm.IsStatic {
			return nil, fmt.Errorf("%w: %s.%s needs an id", ErrInvalidRequest, req.Type, req.Property)
		}
		declaring := s.schema.Declaring(req.Type, req.Property)
		values, err := s.schema.StaticValues(declaring)
		if err != nil {
			return nil, err
		}
		raw, ok := values[req.Property]
		if !ok {
			raw = emptyList
		}
		return &transport.Response{
			Instances: transport.Instances{},
			Statics:   map[string]transport.Properties{declaring: {req.Property: raw}},
		}, nil
	}

	paths := []string{req.Property}
	for _, inc := range req.Include {
		paths = append(paths, req.Property+"."+inc)
	}
	tree, err := model.BuildPathTree(paths)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	em := s.emitter(s.db)
	rec, err := em.load(req.Type, req.ID)
	if err != nil {
		return nil, err
	}
	if err := em.emit(rec, tree); err != nil {
		return nil, err
	}
	return &transport.Response{Instances: em.out}, nil
}

// Types answers type metadata for names
func (s *EntityService) Types(names []string) (*transport.TypesResponse, error) {
	resp, err := s.schema.Describe(names)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return resp, nil
}

// emitter renders records as instances JSON following include trees.
type emitter struct {
	svc     *EntityService
	tx      *gorm.DB
	out     transport.Instances
	records map[string]*models.EntityRecord
	visited map[string]bool
}

func (s *EntityService) emitter(tx *gorm.DB) *emitter {
	return &emitter{
		svc:     s,
		tx:      tx,
		out:     transport.Instances{},
		records: map[string]*models.EntityRecord{},
		visited: map[string]bool{},
	}
}

func (em *emitter) load(typeName, id string) (*models.EntityRecord, error) {
	key := em.svc.schema.Root(typeName) + "|" + entityKey(id)
	rec, ok := em.records[key]
	if !ok {
		var err error
		if rec, err = em.svc.find(em.tx, em.svc.schema.Root(typeName), id); err != nil {
			return nil, err
		}
		em.records[key] = rec
	}
	if !em.svc.schema.IsA(rec.TypeName, typeName) {
		return nil, fmt.Errorf("%w: %s|%s is a %s", ErrNotFound, typeName, id, rec.TypeName)
	}
	return rec, nil
}

// ref writes the item type only when it differs from the declared type.
func (em *emitter) ref(rec *models.EntityRecord, declared string) transport.Ref {
	r := transport.Ref{ID: rec.EntityID}
	if rec.TypeName != declared {
		r.Type = rec.TypeName
	}
	return r
}

// emit adds rec to the output. Lists on the include tree are written with their
// items and every other entity list is written as deferred. Each record is rendered
// once per tree node, which bounds the walk on cyclic data.
func (em *emitter) emit(rec *models.EntityRecord, tree *model.PathTree) error {
	visit := fmt.Sprintf("%s|%s|%p", rec.RootType, rec.EntityID, tree)
	if em.visited[visit] {
		return nil
	}
	em.visited[visit] = true

	stored := transport.Properties{}
	if err := rec.Properties.Decode(&stored); err != nil {
		return fmt.Errorf("%s|%s: %w", rec.TypeName, rec.EntityID, err)
	}
	existing := em.out[rec.TypeName][rec.EntityID]
	all := em.svc.schema.Properties(rec.TypeName)
	props := transport.Properties{}

	for _, name := range sortedKeys(all) {
		pm := all[name]
		if pm.IsStatic || !pm.Persisted() {
			continue
		}
		raw, ok := stored[name]
		children := children(tree, name)

		switch {
		case model.IsValueType(pm.Type):
			if !ok {
				raw = nullJSON
				if pm.IsList {
					raw = emptyList
				}
			}

		case pm.IsList:
			if len(children) == 0 {
				if cur, loaded := existing[name]; loaded && !transport.IsDeferred(cur) {
					continue
				}
				b, err := json.Marshal(transport.Deferred())
				if err != nil {
					return err
				}
				props[name] = b
				continue
			}
			var ids []transport.Ref
			if ok {
				if err := json.Unmarshal(raw, &ids); err != nil {
					return fmt.Errorf("%s|%s.%s: %w", rec.TypeName, rec.EntityID, name, err)
				}
			}
			items := make([]transport.Ref, 0, len(ids))
			for _, id := range ids {
				item, err := em.load(pm.Type, id.ID)
				if errors.Is(err, ErrNotFound) {
					continue
				}
				if err != nil {
					return err
				}
				items = append(items, em.ref(item, pm.Type))
				if err := em.follow(item, children); err != nil {
					return err
				}
			}
			b, err := json.Marshal(transport.ListValue{Items: items})
			if err != nil {
				return err
			}
			raw = b

		default:
			var id transport.Ref
			if ok {
				if err := json.Unmarshal(raw, &id); err != nil {
					return fmt.Errorf("%s|%s.%s: %w", rec.TypeName, rec.EntityID, name, err)
				}
			}
			raw = nullJSON
			if id.ID == "" {
				break
			}
			target, err := em.load(pm.Type, id.ID)
			if errors.Is(err, ErrNotFound) {
				break
			}
			if err != nil {
				return err
			}
			if raw, err = json.Marshal(em.ref(target, pm.Type)); err != nil {
				return err
			}
			if err := em.follow(target, children); err != nil {
				return err
			}
		}
		props[name] = raw
	}
	em.out.Add(rec.TypeName, rec.EntityID, props)
	return nil
}

// follow emits rec for every child whose cast, if any, rec satisfies.
func (em *emitter) follow(rec *models.EntityRecord, children []*model.PathTree) error {
	for _, child := range children {
		if child.Step.Cast != "" && !em.svc.schema.IsA(rec.TypeName, child.Step.Cast) {
			continue
		}
		if err := em.emit(rec, child); err != nil {
			return err
		}
	}
	return nil
}

func children(tree *model.PathTree, property string) []*model.PathTree {
	if tree == nil {
		return nil
	}
	var out []*model.PathTree
	for _, c := range tree.Children {
		if c.Step.Property == property {
			out = append(out, c)
		}
	}
	return out
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
