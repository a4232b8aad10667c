package schema

import (
	"context"
	"fmt"
	"log/slog"

	crmotel "github.com/0ndata/crmbridge/internal/adapter/otel"
	"github.com/0ndata/crmbridge/internal/bridge"
)

// Report summarizes one InstallAll invocation.
type Report struct {
	Created []string       `json:"created"`
	Updated []string       `json:"updated"`
	Skipped []string       `json:"skipped"`
	Errors  []InstallError `json:"errors"`
}

// InstallError records a per-definition failure.
type InstallError struct {
	Key     string `json:"key"`
	Message string `json:"message"`
}

// Installer reconciles registry definitions against a tenant's CRM schemas.
type Installer struct {
	client *bridge.Client
	reg    *Registry
	log    *slog.Logger
}

// NewInstaller creates an installer bound to a bridge client and registry.
func NewInstaller(client *bridge.Client, reg *Registry, log *slog.Logger) *Installer {
	if log == nil {
		log = slog.Default()
	}
	return &Installer{client: client, reg: reg, log: log}
}

type schemaListResponse struct {
	Schemas []struct {
		Key string `json:"key"`
		ID  string `json:"id"`
	} `json:"schemas"`
}

type schemaDetailResponse struct {
	Key    string `json:"key"`
	ID     string `json:"id"`
	Fields []struct {
		Key string `json:"key"`
	} `json:"fields"`
}

// InstallAll installs or updates every registered definition for a tenant.
//
// Installation is idempotent: a second run against an unchanged registry
// yields all keys skipped. Each definition is processed independently so one
// failure never aborts the rest; failures land in the report's Errors. Field
// removal is never performed.
func (i *Installer) InstallAll(ctx context.Context, tenantID string) *Report {
	report := &Report{
		Created: []string{},
		Updated: []string{},
		Skipped: []string{},
		Errors:  []InstallError{},
	}

	defs := i.reg.List()
	if len(defs) == 0 {
		return report
	}

	ctx, span := crmotel.StartInstallSpan(ctx, tenantID, len(defs))
	defer span.End()

	// One existing-keys fetch per invocation. A failed fetch degrades to
	// "nothing exists", forcing create attempts whose failures are recorded
	// per definition.
	existing := i.existingKeys(ctx, tenantID)

	for _, def := range defs {
		var err error
		switch {
		case !existing[def.Key]:
			if err = i.create(ctx, tenantID, def); err == nil {
				report.Created = append(report.Created, def.Key)
			}
		default:
			var updated bool
			if updated, err = i.updateIfNeeded(ctx, tenantID, def); err == nil {
				if updated {
					report.Updated = append(report.Updated, def.Key)
				} else {
					report.Skipped = append(report.Skipped, def.Key)
				}
			}
		}

		if err != nil {
			i.log.Warn("schema install failed", "key", def.Key, "tenant", tenantID, "error", err)
			report.Errors = append(report.Errors, InstallError{Key: def.Key, Message: err.Error()})
		}
	}

	return report
}

func (i *Installer) existingKeys(ctx context.Context, tenantID string) map[string]bool {
	keys := make(map[string]bool)

	resp, err := i.client.Do(ctx, bridge.Request{
		Method:   "GET",
		Path:     "/objects/schemas",
		Query:    map[string]string{"locationId": tenantID},
		TenantID: tenantID,
	})
	if err != nil || !resp.OK {
		i.log.Warn("schema list fetch failed, assuming none exist", "tenant", tenantID, "error", err)
		return keys
	}

	var list schemaListResponse
	if err := resp.Decode(&list); err != nil {
		i.log.Warn("schema list unparseable, assuming none exist", "tenant", tenantID, "error", err)
		return keys
	}
	for _, s := range list.Schemas {
		keys[s.Key] = true
	}
	return keys
}

func (i *Installer) create(ctx context.Context, tenantID string, def Definition) error {
	resp, err := i.client.Do(ctx, bridge.Request{
		Method:   "POST",
		Path:     "/objects/schemas",
		TenantID: tenantID,
		Body: map[string]any{
			"locationId":  tenantID,
			"name":        def.Name,
			"key":         def.Key,
			"description": def.Description,
			"fields":      fieldPayload(def.Fields),
		},
	})
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("create schema %s: status %d: %s", def.Key, resp.Status, resp.Text())
	}
	return nil
}

// updateIfNeeded fetches the remote field list and, when the definition
// declares fields the remote lacks, issues an update carrying the full field
// list. Returns whether an update was sent.
func (i *Installer) updateIfNeeded(ctx context.Context, tenantID string, def Definition) (bool, error) {
	resp, err := i.client.Do(ctx, bridge.Request{
		Method:   "GET",
		Path:     "/objects/schemas/" + def.Key,
		Query:    map[string]string{"locationId": tenantID},
		TenantID: tenantID,
	})
	if err != nil {
		return false, err
	}
	if !resp.OK {
		return false, fmt.Errorf("fetch schema %s: status %d: %s", def.Key, resp.Status, resp.Text())
	}

	var detail schemaDetailResponse
	if err := resp.Decode(&detail); err != nil {
		return false, fmt.Errorf("parse schema %s: %w", def.Key, err)
	}

	remote := make(map[string]bool, len(detail.Fields))
	for _, f := range detail.Fields {
		remote[f.Key] = true
	}

	missing := false
	for _, f := range def.Fields {
		if !remote[f.Key] {
			missing = true
			break
		}
	}
	if !missing {
		return false, nil
	}

	resp, err = i.client.Do(ctx, bridge.Request{
		Method:   "PUT",
		Path:     "/objects/schemas/" + def.Key,
		TenantID: tenantID,
		Body: map[string]any{
			"locationId": tenantID,
			"name":       def.Name,
			"fields":     fieldPayload(def.Fields),
		},
	})
	if err != nil {
		return false, err
	}
	if !resp.OK {
		return false, fmt.Errorf("update schema %s: status %d: %s", def.Key, resp.Status, resp.Text())
	}
	return true, nil
}

func fieldPayload(fields []Field) []map[string]any {
	out := make([]map[string]any, 0, len(fields))
	for _, f := range fields {
		out = append(out, map[string]any{
			"name":        f.Name,
			"key":         f.Key,
			"dataType":    string(f.DataType),
			"isRequired":  f.Required,
			"description": f.Description,
		})
	}
	return out
}
