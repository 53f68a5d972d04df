package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kitebase/kitebase/pkg/errdef"
	"github.com/kitebase/kitebase/pkg/kid"
	"github.com/kitebase/kitebase/pkg/meta"
	"github.com/kitebase/kitebase/pkg/record"
	"github.com/kitebase/kitebase/pkg/sharing"
	"github.com/kitebase/kitebase/pkg/tenancy"
)

// principal extracts the acting user identifier from the tenant context. An
// empty principal acts in system scope.
func principal(r *http.Request) kid.KID {
	return tenancy.PrincipalFromContext(r.Context())
}

// typePayload is the wire form of a type definition.
type typePayload struct {
	KID     string         `json:"kid"`
	Package string         `json:"package"`
	APIName string         `json:"apiName"`
	Label   string         `json:"label,omitempty"`
	Prefix  string         `json:"prefix"`
	Basic   bool           `json:"basic,omitempty"`
	Fields  []fieldPayload `json:"fields"`
}

type fieldPayload struct {
	KID          string   `json:"kid"`
	APIName      string   `json:"apiName"`
	Label        string   `json:"label,omitempty"`
	Kind         string   `json:"kind"`
	Required     bool     `json:"required,omitempty"`
	DefaultValue string   `json:"default,omitempty"`
	TrackHistory bool     `json:"trackHistory,omitempty"`
	Length       int      `json:"length,omitempty"`
	EnumValues   []string `json:"enumValues,omitempty"`
	RefType      string   `json:"refType,omitempty"`
	Cascade      bool     `json:"cascadeDelete,omitempty"`
}

func fieldToPayload(f *meta.Field) fieldPayload {
	return fieldPayload{
		KID:          string(f.KID),
		APIName:      f.APIName,
		Label:        f.Label,
		Kind:         string(f.Kind),
		Required:     f.Required,
		DefaultValue: f.DefaultValue,
		TrackHistory: f.TrackHistory,
		Length:       f.Length,
		EnumValues:   f.EnumValues,
		RefType:      string(f.RefTypeKID),
		Cascade:      f.CascadeDelete,
	}
}

func typeToPayload(t *meta.Type) typePayload {
	p := typePayload{
		KID:     string(t.KID),
		Package: t.Package,
		APIName: t.APIName,
		Label:   t.Label,
		Prefix:  t.Prefix,
		Basic:   t.Basic,
	}
	for _, f := range t.Fields() {
		p.Fields = append(p.Fields, fieldToPayload(f))
	}
	return p
}

func (s *Server) listTypes(w http.ResponseWriter, r *http.Request) {
	env, err := s.env(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	types := env.Registry.Types()
	out := make([]typePayload, 0, len(types))
	for _, t := range types {
		out = append(out, typeToPayload(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"types": out})
}

type createTypeRequest struct {
	Package string             `json:"package"`
	APIName string             `json:"apiName"`
	Label   string             `json:"label"`
	Basic   bool               `json:"basic"`
	Fields  []createFieldInput `json:"fields"`
}

type createFieldInput struct {
	APIName      string   `json:"apiName"`
	Label        string   `json:"label"`
	Kind         string   `json:"kind"`
	Required     bool     `json:"required"`
	DefaultValue string   `json:"default"`
	TrackHistory bool     `json:"trackHistory"`
	Length       int      `json:"length"`
	EnumValues   []string `json:"enumValues"`
	RefType      string   `json:"refType"`
	Cascade      bool     `json:"cascadeDelete"`
}

func (in createFieldInput) spec() meta.FieldSpec {
	return meta.FieldSpec{
		APIName:       in.APIName,
		Label:         in.Label,
		Kind:          meta.DataType(in.Kind),
		Required:      in.Required,
		DefaultValue:  in.DefaultValue,
		TrackHistory:  in.TrackHistory,
		Length:        in.Length,
		EnumValues:    in.EnumValues,
		RefTypeKID:    kid.KID(in.RefType),
		CascadeDelete: in.Cascade,
	}
}

func (s *Server) createType(w http.ResponseWriter, r *http.Request) {
	env, err := s.env(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var req createTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	spec := meta.TypeSpec{
		Package: req.Package,
		APIName: req.APIName,
		Label:   req.Label,
		Basic:   req.Basic,
	}
	for _, f := range req.Fields {
		spec.Fields = append(spec.Fields, f.spec())
	}
	t, err := env.Registry.CreateType(spec)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, typeToPayload(t))
}

func (s *Server) getType(w http.ResponseWriter, r *http.Request) {
	env, err := s.env(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	t, err := env.Registry.GetTypeByName(chi.URLParam(r, "type"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, typeToPayload(t))
}

func (s *Server) deleteType(w http.ResponseWriter, r *http.Request) {
	env, err := s.env(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	t, err := env.Registry.GetTypeByName(chi.URLParam(r, "type"))
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := env.Registry.DeleteType(t.KID); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) createField(w http.ResponseWriter, r *http.Request) {
	env, err := s.env(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	t, err := env.Registry.GetTypeByName(chi.URLParam(r, "type"))
	if err != nil {
		writeErr(w, err)
		return
	}
	var in createFieldInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	f, err := env.Registry.CreateField(t.KID, in.spec())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, fieldToPayload(f))
}

type updateFieldRequest struct {
	Rename       *string `json:"rename"`
	Length       *int    `json:"length"`
	Required     *bool   `json:"required"`
	TrackHistory *bool   `json:"trackHistory"`
	DefaultValue *string `json:"default"`
}

func (s *Server) updateField(w http.ResponseWriter, r *http.Request) {
	env, err := s.env(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	t, f, err := lookupField(env, chi.URLParam(r, "type"), chi.URLParam(r, "field"))
	if err != nil {
		writeErr(w, err)
		return
	}
	var req updateFieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	updated, err := env.Registry.UpdateField(t.KID, f.KID, meta.FieldUpdate{
		Rename:       req.Rename,
		Length:       req.Length,
		Required:     req.Required,
		TrackHistory: req.TrackHistory,
		DefaultValue: req.DefaultValue,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fieldToPayload(updated))
}

func (s *Server) deleteField(w http.ResponseWriter, r *http.Request) {
	env, err := s.env(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	t, f, err := lookupField(env, chi.URLParam(r, "type"), chi.URLParam(r, "field"))
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := env.Registry.DeleteField(t.KID, f.KID); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func lookupField(env *tenancy.Env, typeName, fieldName string) (*meta.Type, *meta.Field, error) {
	t, err := env.Registry.GetTypeByName(typeName)
	if err != nil {
		return nil, nil, err
	}
	f := t.Field(fieldName)
	if f == nil {
		return nil, nil, errdef.NotFound("field %q not found on type %s", fieldName, t.QualifiedName())
	}
	return t, f, nil
}

type queryRequest struct {
	Query string `json:"query"`
	Count bool   `json:"count"`
}

func (s *Server) runQuery(w http.ResponseWriter, r *http.Request) {
	env, err := s.env(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	q, err := env.Queries.Compile(r.Context(), req.Query, principal(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	if req.Count {
		n, err := q.Count(r.Context())
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"count": n})
		return
	}
	recs, err := q.List(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	out := make([]recordPayload, 0, len(recs))
	for _, rec := range recs {
		out = append(out, recordToPayload(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": out})
}

// recordPayload is the wire form of a record: explicit nulls are listed
// separately so unset fields stay distinguishable from null ones.
type recordPayload struct {
	ID       string                     `json:"id,omitempty"`
	Type     string                     `json:"type,omitempty"`
	Values   map[string]any             `json:"values,omitempty"`
	Nulls    []string                   `json:"nulls,omitempty"`
	Related  map[string]recordPayload   `json:"related,omitempty"`
	Children map[string][]recordPayload `json:"children,omitempty"`
}

func recordToPayload(rec *record.Record) recordPayload {
	p := recordPayload{
		ID:   string(rec.ID()),
		Type: rec.Type().QualifiedName(),
	}
	for _, name := range rec.SetFields() {
		if rec.IsNull(name) {
			p.Nulls = append(p.Nulls, name)
			continue
		}
		v, _ := rec.Get(name)
		switch child := v.(type) {
		case *record.Record:
			if p.Related == nil {
				p.Related = map[string]recordPayload{}
			}
			p.Related[name] = recordToPayload(child)
		case []*record.Record:
			if p.Children == nil {
				p.Children = map[string][]recordPayload{}
			}
			list := make([]recordPayload, 0, len(child))
			for _, c := range child {
				list = append(list, recordToPayload(c))
			}
			p.Children[name] = list
		default:
			if p.Values == nil {
				p.Values = map[string]any{}
			}
			if k, ok := v.(kid.KID); ok {
				v = string(k)
			}
			p.Values[name] = v
		}
	}
	return p
}

type saveRecordRequest struct {
	Type   string         `json:"type"`
	Values map[string]any `json:"values"`
	Nulls  []string       `json:"nulls"`
}

func (s *Server) saveRecord(w http.ResponseWriter, r *http.Request) {
	s.persistRecord(w, r, "")
}

func (s *Server) updateRecord(w http.ResponseWriter, r *http.Request) {
	s.persistRecord(w, r, kid.KID(chi.URLParam(r, "kid")))
}

func (s *Server) persistRecord(w http.ResponseWriter, r *http.Request, id kid.KID) {
	env, err := s.env(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var req saveRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	var typ *meta.Type
	if id != "" {
		typ, err = env.Registry.TypeForRecord(id)
	} else {
		typ, err = env.Registry.GetTypeByName(req.Type)
	}
	if err != nil {
		writeErr(w, err)
		return
	}

	rec := record.New(typ)
	rec.SetID(id)
	for name, v := range req.Values {
		if err := rec.Set(name, v); err != nil {
			writeErr(w, err)
			return
		}
	}
	for _, name := range req.Nulls {
		if err := rec.Nullify(name); err != nil {
			writeErr(w, err)
			return
		}
	}
	if err := env.Persist.Save(r.Context(), principal(r), rec); err != nil {
		writeErr(w, err)
		return
	}
	status := http.StatusOK
	if id == "" {
		status = http.StatusCreated
	}
	writeJSON(w, status, recordToPayload(rec))
}

func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) {
	env, err := s.env(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	rec, err := env.Persist.Get(r.Context(), principal(r), kid.KID(chi.URLParam(r, "kid")))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recordToPayload(rec))
}

func (s *Server) deleteRecord(w http.ResponseWriter, r *http.Request) {
	env, err := s.env(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := env.Persist.Delete(r.Context(), principal(r), kid.KID(chi.URLParam(r, "kid"))); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type shareRequest struct {
	Record  string `json:"record"`
	Grantee string `json:"grantee"`
	Group   bool   `json:"group"`
	Read    bool   `json:"read"`
	Edit    bool   `json:"edit"`
	Delete  bool   `json:"delete"`
	Reason  string `json:"reason"`
}

func (s *Server) shareRecord(w http.ResponseWriter, r *http.Request) {
	env, err := s.env(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var req shareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	rights := sharing.Rights{Read: req.Read, Edit: req.Edit, Delete: req.Delete}
	if req.Group {
		err = env.Sharing.ShareRecordWithGroup(r.Context(), kid.KID(req.Record), kid.KID(req.Grantee), rights, req.Reason)
	} else {
		err = env.Sharing.ShareRecord(r.Context(), kid.KID(req.Record), kid.KID(req.Grantee), rights, req.Reason)
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) unshareRecord(w http.ResponseWriter, r *http.Request) {
	env, err := s.env(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var req shareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if err := env.Sharing.UnshareRecord(r.Context(), kid.KID(req.Record), kid.KID(req.Grantee)); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeErr maps a platform error onto an HTTP status.
func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var e *errdef.Error
	if errors.As(err, &e) {
		switch e.Kind {
		case errdef.KindNotFound:
			status = http.StatusNotFound
		case errdef.KindInsufficientPrivileges:
			status = http.StatusForbidden
		case errdef.KindDALSyntax, errdef.KindSchemaDefinition:
			status = http.StatusBadRequest
		case errdef.KindFieldValidation, errdef.KindUniquenessViolation, errdef.KindReferentialIntegrity:
			status = http.StatusUnprocessableEntity
		}
	}
	writeError(w, status, err.Error())
}
