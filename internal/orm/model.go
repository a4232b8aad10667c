package orm

import (
	"context"
	"fmt"

	"github.com/0ndata/crmbridge/internal/bridge"
)

// Model binds a logical schema key to a tenant. All record lifecycle is
// delegated to the remote CRM; the model holds no state beyond its binding
// and never caches records.
type Model struct {
	schemaKey string
	tenantID  string
	client    *bridge.Client
}

// NewModel creates a model for one schema key and tenant.
func NewModel(client *bridge.Client, schemaKey, tenantID string) *Model {
	return &Model{schemaKey: schemaKey, tenantID: tenantID, client: client}
}

// SchemaKey returns the schema key this model is bound to.
func (m *Model) SchemaKey() string { return m.schemaKey }

// TenantID returns the tenant this model is bound to.
func (m *Model) TenantID() string { return m.tenantID }

func (m *Model) collectionPath() string {
	return "/objects/" + m.schemaKey + "/records"
}

// Create translates the record's field names, POSTs it to the schema's
// record collection, and returns the created record with its assigned id.
func (m *Model) Create(ctx context.Context, data Record) (Record, error) {
	resp, err := m.client.Do(ctx, bridge.Request{
		Method:   "POST",
		Path:     m.collectionPath(),
		TenantID: m.tenantID,
		Body: map[string]any{
			"locationId": m.tenantID,
			"properties": ToCRMFields(data),
		},
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("create %s record: status %d: %s", m.schemaKey, resp.Status, resp.Text())
	}
	return decodeObject(resp)
}

// FindByID fetches one record. Any non-2xx reads as absence rather than an
// error: the upstream surfaces "not found" and "access denied" identically.
func (m *Model) FindByID(ctx context.Context, id string) (Record, bool, error) {
	resp, err := m.client.Do(ctx, bridge.Request{
		Method:   "GET",
		Path:     m.collectionPath() + "/" + id,
		Query:    map[string]string{"locationId": m.tenantID},
		TenantID: m.tenantID,
	})
	if err != nil {
		return nil, false, err
	}
	if !resp.OK {
		return nil, false, nil
	}
	rec, err := decodeObject(resp)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// Update PUTs partial fields and returns the updated record.
func (m *Model) Update(ctx context.Context, id string, data Record) (Record, error) {
	resp, err := m.client.Do(ctx, bridge.Request{
		Method:   "PUT",
		Path:     m.collectionPath() + "/" + id,
		TenantID: m.tenantID,
		Body: map[string]any{
			"locationId": m.tenantID,
			"properties": ToCRMFields(data),
		},
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("update %s record: status %d: %s", m.schemaKey, resp.Status, resp.Text())
	}
	return decodeObject(resp)
}

// Delete removes a record and reports whether the upstream accepted the
// deletion. Transport failures are the only error case.
func (m *Model) Delete(ctx context.Context, id string) (bool, error) {
	resp, err := m.client.Do(ctx, bridge.Request{
		Method:   "DELETE",
		Path:     m.collectionPath() + "/" + id,
		Query:    map[string]string{"locationId": m.tenantID},
		TenantID: m.tenantID,
	})
	if err != nil {
		return false, err
	}
	return resp.OK, nil
}

// Find starts a new query bound to the same schema and tenant.
func (m *Model) Find() *Query {
	return &Query{model: m}
}

// FindAll is shorthand for Find().Limit(limit).Execute(ctx). A zero limit
// leaves the upstream's default page size in effect.
func (m *Model) FindAll(ctx context.Context, limit int) (*Result, error) {
	q := m.Find()
	if limit > 0 {
		q.Limit(limit)
	}
	return q.Execute(ctx)
}

// decodeObject unwraps the CRM's {object: {...}} envelope into a Record.
// Field values live under a nested "properties" map when the upstream sends
// one, otherwise on the object itself; the record id always comes from the
// object level.
func decodeObject(resp *bridge.Response) (Record, error) {
	var out struct {
		Object map[string]any `json:"object"`
	}
	if err := resp.Decode(&out); err != nil {
		return nil, fmt.Errorf("parse record response: %w", err)
	}
	return recordFromObject(out.Object), nil
}

func recordFromObject(obj map[string]any) Record {
	fields := obj
	if props, ok := obj["properties"].(map[string]any); ok {
		fields = props
	}
	rec := FromCRMFields(fields)
	if id, ok := obj["id"].(string); ok {
		rec["id"] = id
	}
	return rec
}
