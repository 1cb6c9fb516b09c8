package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tunnelkeep/tunnelkeep/internal/auth"
	"github.com/tunnelkeep/tunnelkeep/internal/cache"
	"github.com/tunnelkeep/tunnelkeep/internal/cloudflare"
	"github.com/tunnelkeep/tunnelkeep/internal/models"
	"github.com/tunnelkeep/tunnelkeep/internal/secrets"
	"github.com/tunnelkeep/tunnelkeep/internal/store"
)

// TenantSummary is the displayable view of a tenant. The API token is
// never included, only its fingerprint.
type TenantSummary struct {
	TenantID  uuid.UUID `json:"tenant_id"`
	Name      string    `json:"name"`
	AccountID string    `json:"account_id"`
	Token     string    `json:"token"`
	Admins    []string  `json:"admins"`
}

func summarizeTenant(t *models.Tenant) TenantSummary {
	return TenantSummary{
		TenantID:  t.TenantID,
		Name:      t.Name,
		AccountID: t.AccountID,
		Token:     secrets.Masked(t.APIToken),
		Admins:    append([]string(nil), t.AdminUserIDs...),
	}
}

// TunnelSummary is the displayable view of a tunnel. The secret is never
// included.
type TunnelSummary struct {
	TunnelID  uuid.UUID                    `json:"tunnel_id"`
	Name      string                       `json:"name"`
	Status    string                       `json:"status"`
	Hostnames []models.PublicHostname      `json:"hostnames,omitempty"`
	Networks  []models.PrivateNetworkRoute `json:"networks,omitempty"`
}

func summarizeTunnel(t *models.Tunnel) TunnelSummary {
	return TunnelSummary{
		TunnelID:  t.TunnelID,
		Name:      t.Name,
		Status:    t.DisplayStatus(),
		Hostnames: append([]models.PublicHostname(nil), t.Hostnames...),
		Networks:  append([]models.PrivateNetworkRoute(nil), t.Networks...),
	}
}

// execute runs one command against a session. It is a pure function of
// (session, command): every session mutation happens on the passed value
// and is visible to the caller, never hidden side state.
func (f *Facade) execute(ctx context.Context, session *models.Session, cmd Command) (*Result, error) {
	// Any command other than plain text abandons an in-progress
	// multi-step input.
	if cmd.Name != CmdText {
		session.Pending = models.PendingInput{}
	}

	switch cmd.Name {
	case CmdStart:
		return f.start(ctx, session)
	case CmdListTenants:
		return f.listTenants(ctx, session)
	case CmdAddTenant:
		return f.addTenant(ctx, session, cmd)
	case CmdAssignAdmin:
		return f.assignAdmin(ctx, session, cmd, true)
	case CmdRemoveAdmin:
		return f.assignAdmin(ctx, session, cmd, false)
	case CmdRotateToken:
		return f.rotateToken(ctx, session, cmd)
	case CmdDeleteTenant:
		return f.deleteTenant(ctx, session, cmd)
	case CmdSwitchTenant:
		return f.switchTenant(ctx, session, cmd)
	case CmdTenantInfo:
		return f.tenantInfo(ctx, session)
	case CmdListDomains:
		return f.listDomains(ctx, session)
	case CmdListRecords:
		return f.listRecords(ctx, session, cmd)
	case CmdCreateRecord:
		return f.createRecord(ctx, session, cmd)
	case CmdUpdateRecord:
		return f.updateRecord(ctx, session, cmd)
	case CmdDeleteRecord:
		return f.deleteRecord(ctx, session, cmd)
	case CmdListGroups:
		return f.listGroups(ctx, session)
	case CmdCreateGroup:
		return f.createGroup(ctx, session, cmd)
	case CmdAddGroupDomain:
		return f.addGroupDomain(ctx, session, cmd)
	case CmdListTunnels:
		return f.listTunnels(ctx, session)
	case CmdCreateTunnel:
		return f.createTunnel(ctx, session, cmd)
	case CmdTunnelInfo:
		return f.tunnelInfo(ctx, session, cmd)
	case CmdAddHostname:
		return f.addHostname(ctx, session, cmd)
	case CmdRemoveHostname:
		return f.removeHostname(ctx, session, cmd)
	case CmdAddNetwork:
		return f.addNetwork(ctx, session, cmd)
	case CmdRemoveNetwork:
		return f.removeNetwork(ctx, session, cmd)
	case CmdDeleteTunnel:
		return f.deleteTunnel(ctx, session, cmd)
	case CmdRefreshCache:
		return f.refreshCache(ctx, session)
	case CmdStats:
		return f.stats(ctx, session)
	case CmdText:
		return f.text(ctx, session, cmd)
	default:
		return nil, &UsageError{Reason: "Unknown command."}
	}
}

func (f *Facade) start(ctx context.Context, session *models.Session) (*Result, error) {
	role, err := f.authz.Bootstrap(ctx, session.UserID)
	if err != nil {
		return nil, err
	}

	switch role {
	case auth.RoleSuperAdmin:
		return &Result{
			Message: "Welcome. You are the super admin. Use list-tenants to see managed tenants or add-tenant to register one.",
			Data:    map[string]string{"role": string(role)},
		}, nil
	case auth.RoleTenantAdmin:
		tenants, err := f.tenants.ListForAdmin(ctx, session.UserID)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(tenants))
		for _, t := range tenants {
			names = append(names, t.Name)
		}
		return &Result{
			Message: "Welcome back. Your tenants: " + strings.Join(names, ", ") + ". Use switch-tenant to select one.",
			Data:    map[string]any{"role": string(role), "tenants": names},
		}, nil
	default:
		return &Result{
			Message: "Welcome. You have no tenants assigned yet; ask the super admin for access.",
			Data:    map[string]string{"role": string(role)},
		}, nil
	}
}

func (f *Facade) listTenants(ctx context.Context, session *models.Session) (*Result, error) {
	if err := f.authorize(ctx, session.UserID, auth.ActionListTenants, nil); err != nil {
		return nil, err
	}

	tenants, err := f.tenants.List(ctx)
	if err != nil {
		return nil, err
	}

	summaries := make([]TenantSummary, 0, len(tenants))
	for _, t := range tenants {
		summaries = append(summaries, summarizeTenant(t))
	}
	return &Result{
		Message: fmt.Sprintf("%d tenant(s).", len(summaries)),
		Data:    summaries,
	}, nil
}

func (f *Facade) addTenant(ctx context.Context, session *models.Session, cmd Command) (*Result, error) {
	if err := f.authorize(ctx, session.UserID, auth.ActionAddTenant, nil); err != nil {
		return nil, err
	}
	if cmd.TenantName == "" || cmd.Token == "" || cmd.AccountID == "" {
		return nil, &UsageError{Reason: "add-tenant requires a name, an API token and an account ID."}
	}

	// Probe the token with a zone list before persisting anything.
	creds := cloudflare.Credentials{APIToken: cmd.Token, AccountID: cmd.AccountID}
	if _, err := f.gateway.ListZones(ctx, creds); err != nil {
		return nil, err
	}

	tenant := &models.Tenant{
		TenantID:  uuid.New(),
		Name:      cmd.TenantName,
		AccountID: cmd.AccountID,
		APIToken:  cmd.Token,
		CreatedAt: time.Now(),
	}
	if err := f.tenants.Create(ctx, tenant); err != nil {
		return nil, err
	}

	log.Info().
		Str("tenant_id", tenant.TenantID.String()).
		Str("name", tenant.Name).
		Str("token", secrets.Fingerprint(tenant.APIToken)).
		Msg("tenant created")
	return &Result{
		Message: fmt.Sprintf("Tenant %q created (token %s).", tenant.Name, secrets.Masked(tenant.APIToken)),
		Data:    summarizeTenant(tenant),
	}, nil
}

func (f *Facade) assignAdmin(ctx context.Context, session *models.Session, cmd Command, add bool) (*Result, error) {
	action := auth.ActionAssignAdmin
	if !add {
		action = auth.ActionRemoveAdmin
	}
	if err := f.authorize(ctx, session.UserID, action, nil); err != nil {
		return nil, err
	}
	if cmd.TenantID == nil || cmd.AdminUserID == "" {
		return nil, &UsageError{Reason: "A tenant ID and a user ID are required."}
	}

	tenant, err := f.tenants.Get(ctx, *cmd.TenantID)
	if err != nil {
		return nil, err
	}

	if add {
		if tenant.HasAdmin(cmd.AdminUserID) {
			return &Result{Message: fmt.Sprintf("User %s is already an admin of %q.", cmd.AdminUserID, tenant.Name)}, nil
		}
		tenant.AdminUserIDs = append(tenant.AdminUserIDs, cmd.AdminUserID)
	} else {
		kept := tenant.AdminUserIDs[:0]
		for _, id := range tenant.AdminUserIDs {
			if id != cmd.AdminUserID {
				kept = append(kept, id)
			}
		}
		tenant.AdminUserIDs = kept
	}

	if err := f.tenants.Update(ctx, tenant); err != nil {
		return nil, err
	}

	verb := "assigned to"
	if !add {
		verb = "removed from"
	}
	return &Result{
		Message: fmt.Sprintf("User %s %s tenant %q.", cmd.AdminUserID, verb, tenant.Name),
		Data:    summarizeTenant(tenant),
	}, nil
}

func (f *Facade) rotateToken(ctx context.Context, session *models.Session, cmd Command) (*Result, error) {
	tenantID := cmd.TenantID
	if tenantID == nil {
		tenantID = session.ActiveTenantID
	}
	if tenantID == nil {
		return nil, &UsageError{Reason: "rotate-token requires a tenant ID or an active tenant."}
	}
	if err := f.authorize(ctx, session.UserID, auth.ActionRotateToken, tenantID); err != nil {
		return nil, err
	}
	if cmd.Token == "" {
		return nil, &UsageError{Reason: "rotate-token requires the new API token."}
	}

	tenant, err := f.tenants.Get(ctx, *tenantID)
	if err != nil {
		return nil, err
	}

	// Probe the new token before committing it. Token rotation is
	// independent of tunnel secrets: existing tunnels keep running.
	creds := cloudflare.Credentials{APIToken: cmd.Token, AccountID: tenant.AccountID}
	if err := f.gateway.VerifyToken(ctx, creds); err != nil {
		return nil, err
	}

	tenant.APIToken = cmd.Token
	if err := f.tenants.Update(ctx, tenant); err != nil {
		return nil, err
	}

	f.cache.InvalidateAll(tenant.TenantID)

	log.Info().
		Str("tenant_id", tenant.TenantID.String()).
		Str("token", secrets.Fingerprint(cmd.Token)).
		Msg("tenant token rotated")
	return &Result{Message: fmt.Sprintf("Token for %q rotated (%s).", tenant.Name, secrets.Masked(cmd.Token))}, nil
}

func (f *Facade) deleteTenant(ctx context.Context, session *models.Session, cmd Command) (*Result, error) {
	if err := f.authorize(ctx, session.UserID, auth.ActionDeleteTenant, nil); err != nil {
		return nil, err
	}
	if cmd.TenantID == nil {
		return nil, &UsageError{Reason: "delete-tenant requires a tenant ID."}
	}

	tenant, err := f.tenants.Get(ctx, *cmd.TenantID)
	if err != nil {
		return nil, err
	}

	// Remote tunnel teardown is best effort: the tenant delete always
	// completes locally.
	if err := f.tunnels.DeleteAllForTenant(ctx, tenant); err != nil {
		log.Warn().Err(err).Str("tenant_id", tenant.TenantID.String()).Msg("tunnel teardown incomplete during tenant delete")
	}
	if _, err := f.groups.DeleteByTenant(ctx, tenant.TenantID); err != nil {
		return nil, err
	}
	if err := f.tenants.Delete(ctx, tenant.TenantID); err != nil {
		return nil, err
	}

	f.cache.InvalidateAll(tenant.TenantID)

	// Other sessions referencing this tenant resolve lazily; our own is
	// cleared now.
	if session.ActiveTenantID != nil && *session.ActiveTenantID == tenant.TenantID {
		session.Reset()
	}

	log.Info().Str("tenant_id", tenant.TenantID.String()).Str("name", tenant.Name).Msg("tenant deleted")
	return &Result{Message: fmt.Sprintf("Tenant %q deleted.", tenant.Name)}, nil
}

func (f *Facade) switchTenant(ctx context.Context, session *models.Session, cmd Command) (*Result, error) {
	var tenant *models.Tenant
	var err error
	switch {
	case cmd.TenantID != nil:
		tenant, err = f.tenants.Get(ctx, *cmd.TenantID)
	case cmd.TenantName != "":
		tenant, err = f.tenants.GetByName(ctx, cmd.TenantName)
	default:
		return nil, &UsageError{Reason: "switch-tenant requires a tenant ID or name."}
	}
	if err != nil {
		return nil, err
	}

	if err := f.authorize(ctx, session.UserID, auth.ActionSwitchTenant, &tenant.TenantID); err != nil {
		return nil, err
	}

	// Leaving a tenant drops its cached mirrors; the provider remains the
	// source of truth.
	if session.ActiveTenantID != nil && *session.ActiveTenantID != tenant.TenantID {
		f.cache.InvalidateAll(*session.ActiveTenantID)
	}

	session.SwitchTenant(tenant.TenantID)
	return &Result{
		Message: fmt.Sprintf("Active tenant is now %q.", tenant.Name),
		Data:    summarizeTenant(tenant),
	}, nil
}

func (f *Facade) tenantInfo(ctx context.Context, session *models.Session) (*Result, error) {
	tenant, err := f.activeTenant(ctx, session)
	if err != nil {
		return nil, err
	}
	if err := f.authorize(ctx, session.UserID, auth.ActionTenantInfo, &tenant.TenantID); err != nil {
		return nil, err
	}

	tunnels, err := f.tunnels.List(ctx, tenant)
	if err != nil {
		return nil, err
	}
	groups, err := f.groups.ListByTenant(ctx, tenant.TenantID)
	if err != nil {
		return nil, err
	}

	summary := summarizeTenant(tenant)
	return &Result{
		Message: fmt.Sprintf("Tenant %q: account %s, token %s, %d tunnel(s), %d domain group(s).",
			tenant.Name, tenant.AccountID, summary.Token, len(tunnels), len(groups)),
		Data: summary,
	}, nil
}

func (f *Facade) listDomains(ctx context.Context, session *models.Session) (*Result, error) {
	tenant, err := f.activeTenant(ctx, session)
	if err != nil {
		return nil, err
	}
	if err := f.authorize(ctx, session.UserID, auth.ActionListDomains, &tenant.TenantID); err != nil {
		return nil, err
	}

	zones, fresh := cache.Lookup[[]cloudflare.Zone](f.cache, tenant.TenantID, cache.KindZones)
	if !fresh {
		zones, err = f.gateway.ListZones(ctx, tenantCreds(tenant))
		if err != nil {
			return nil, err
		}
		f.cache.Put(tenant.TenantID, cache.KindZones, zones)
	}

	return &Result{
		Message: fmt.Sprintf("%d domain(s).", len(zones)),
		Data:    zones,
	}, nil
}

func (f *Facade) listRecords(ctx context.Context, session *models.Session, cmd Command) (*Result, error) {
	tenant, err := f.activeTenant(ctx, session)
	if err != nil {
		return nil, err
	}
	if err := f.authorize(ctx, session.UserID, auth.ActionListRecords, &tenant.TenantID); err != nil {
		return nil, err
	}
	if cmd.ZoneID == "" {
		return nil, &UsageError{Reason: "list-records requires a zone ID."}
	}

	kind := cache.RecordsKind(cmd.ZoneID)
	records, fresh := cache.Lookup[[]cloudflare.DNSRecord](f.cache, tenant.TenantID, kind)
	if !fresh {
		records, err = f.gateway.ListRecords(ctx, tenantCreds(tenant), cmd.ZoneID)
		if err != nil {
			return nil, err
		}
		f.cache.Put(tenant.TenantID, kind, records)
	}

	return &Result{
		Message: fmt.Sprintf("%d record(s).", len(records)),
		Data:    records,
	}, nil
}

func recordParams(args *RecordArgs) (cloudflare.RecordParams, error) {
	if args == nil {
		return cloudflare.RecordParams{}, &UsageError{Reason: "Record parameters are required."}
	}
	return cloudflare.RecordParams{
		Type:     args.Type,
		Name:     args.Name,
		Content:  args.Content,
		TTL:      args.TTL,
		Proxied:  args.Proxied,
		Priority: args.Priority,
	}, nil
}

func (f *Facade) createRecord(ctx context.Context, session *models.Session, cmd Command) (*Result, error) {
	tenant, err := f.activeTenant(ctx, session)
	if err != nil {
		return nil, err
	}
	if err := f.authorize(ctx, session.UserID, auth.ActionWriteRecords, &tenant.TenantID); err != nil {
		return nil, err
	}
	if cmd.ZoneID == "" {
		return nil, &UsageError{Reason: "create-record requires a zone ID."}
	}
	params, err := recordParams(cmd.Record)
	if err != nil {
		return nil, err
	}

	record, err := f.gateway.CreateRecord(ctx, tenantCreds(tenant), cmd.ZoneID, params)
	if err != nil {
		return nil, err
	}

	f.cache.Invalidate(tenant.TenantID, cache.RecordsKind(cmd.ZoneID))
	return &Result{
		Message: fmt.Sprintf("Record %s %s created.", record.Type, record.Name),
		Data:    record,
	}, nil
}

func (f *Facade) updateRecord(ctx context.Context, session *models.Session, cmd Command) (*Result, error) {
	tenant, err := f.activeTenant(ctx, session)
	if err != nil {
		return nil, err
	}
	if err := f.authorize(ctx, session.UserID, auth.ActionWriteRecords, &tenant.TenantID); err != nil {
		return nil, err
	}
	if cmd.ZoneID == "" || cmd.RecordID == "" {
		return nil, &UsageError{Reason: "update-record requires a zone ID and a record ID."}
	}
	params, err := recordParams(cmd.Record)
	if err != nil {
		return nil, err
	}

	record, err := f.gateway.UpdateRecord(ctx, tenantCreds(tenant), cmd.ZoneID, cmd.RecordID, params)
	if err != nil {
		return nil, err
	}

	f.cache.Invalidate(tenant.TenantID, cache.RecordsKind(cmd.ZoneID))
	return &Result{
		Message: fmt.Sprintf("Record %s %s updated.", record.Type, record.Name),
		Data:    record,
	}, nil
}

func (f *Facade) deleteRecord(ctx context.Context, session *models.Session, cmd Command) (*Result, error) {
	tenant, err := f.activeTenant(ctx, session)
	if err != nil {
		return nil, err
	}
	if err := f.authorize(ctx, session.UserID, auth.ActionWriteRecords, &tenant.TenantID); err != nil {
		return nil, err
	}
	if cmd.ZoneID == "" || cmd.RecordID == "" {
		return nil, &UsageError{Reason: "delete-record requires a zone ID and a record ID."}
	}

	if err := f.gateway.DeleteRecord(ctx, tenantCreds(tenant), cmd.ZoneID, cmd.RecordID); err != nil {
		return nil, err
	}

	f.cache.Invalidate(tenant.TenantID, cache.RecordsKind(cmd.ZoneID))
	return &Result{Message: "Record deleted."}, nil
}

func (f *Facade) listGroups(ctx context.Context, session *models.Session) (*Result, error) {
	tenant, err := f.activeTenant(ctx, session)
	if err != nil {
		return nil, err
	}
	if err := f.authorize(ctx, session.UserID, auth.ActionManageGroups, &tenant.TenantID); err != nil {
		return nil, err
	}

	groups, err := f.groups.ListByTenant(ctx, tenant.TenantID)
	if err != nil {
		return nil, err
	}
	return &Result{
		Message: fmt.Sprintf("%d domain group(s).", len(groups)),
		Data:    groups,
	}, nil
}

func (f *Facade) createGroup(ctx context.Context, session *models.Session, cmd Command) (*Result, error) {
	tenant, err := f.activeTenant(ctx, session)
	if err != nil {
		return nil, err
	}
	if err := f.authorize(ctx, session.UserID, auth.ActionManageGroups, &tenant.TenantID); err != nil {
		return nil, err
	}
	if cmd.GroupName == "" {
		return nil, &UsageError{Reason: "create-group requires a name."}
	}

	group := &models.DomainGroup{
		GroupID:   uuid.New(),
		TenantID:  tenant.TenantID,
		Name:      cmd.GroupName,
		CreatedAt: time.Now(),
	}
	if err := f.groups.Create(ctx, group); err != nil {
		return nil, err
	}
	return &Result{
		Message: fmt.Sprintf("Domain group %q created.", group.Name),
		Data:    group,
	}, nil
}

func (f *Facade) addGroupDomain(ctx context.Context, session *models.Session, cmd Command) (*Result, error) {
	tenant, err := f.activeTenant(ctx, session)
	if err != nil {
		return nil, err
	}
	if err := f.authorize(ctx, session.UserID, auth.ActionManageGroups, &tenant.TenantID); err != nil {
		return nil, err
	}
	if cmd.GroupID == nil || cmd.Domain == "" {
		return nil, &UsageError{Reason: "add-group-domain requires a group ID and a domain."}
	}
	if err := cloudflare.ValidateHostname(cmd.Domain); err != nil {
		return nil, err
	}

	group, err := f.groups.Get(ctx, *cmd.GroupID)
	if err != nil {
		return nil, err
	}
	if group.TenantID != tenant.TenantID {
		return nil, store.ErrDomainGroupNotFound
	}

	for _, d := range group.Domains {
		if d == cmd.Domain {
			return &Result{Message: fmt.Sprintf("%s is already in group %q.", cmd.Domain, group.Name)}, nil
		}
	}
	group.Domains = append(group.Domains, cmd.Domain)
	if err := f.groups.Update(ctx, group); err != nil {
		return nil, err
	}
	return &Result{
		Message: fmt.Sprintf("Added %s to group %q.", cmd.Domain, group.Name),
		Data:    group,
	}, nil
}

func (f *Facade) listTunnels(ctx context.Context, session *models.Session) (*Result, error) {
	tenant, err := f.activeTenant(ctx, session)
	if err != nil {
		return nil, err
	}
	if err := f.authorize(ctx, session.UserID, auth.ActionListTunnels, &tenant.TenantID); err != nil {
		return nil, err
	}

	tunnels, err := f.tunnels.List(ctx, tenant)
	if err != nil {
		return nil, err
	}
	summaries := make([]TunnelSummary, 0, len(tunnels))
	for _, t := range tunnels {
		summaries = append(summaries, summarizeTunnel(t))
	}
	return &Result{
		Message: fmt.Sprintf("%d tunnel(s).", len(summaries)),
		Data:    summaries,
	}, nil
}

func (f *Facade) createTunnel(ctx context.Context, session *models.Session, cmd Command) (*Result, error) {
	tenant, err := f.activeTenant(ctx, session)
	if err != nil {
		return nil, err
	}
	if err := f.authorize(ctx, session.UserID, auth.ActionCreateTunnel, &tenant.TenantID); err != nil {
		return nil, err
	}

	tun, err := f.tunnels.Create(ctx, tenant, cmd.TunnelName)
	if err != nil {
		return nil, err
	}

	session.ActiveTunnelID = &tun.TunnelID
	return &Result{
		Message: fmt.Sprintf("Tunnel %q provisioned. Its secret is stored and will not be shown. Add a hostname or network route to route traffic.", tun.Name),
		Data:    summarizeTunnel(tun),
	}, nil
}

func (f *Facade) tunnelInfo(ctx context.Context, session *models.Session, cmd Command) (*Result, error) {
	tenant, err := f.activeTenant(ctx, session)
	if err != nil {
		return nil, err
	}
	if err := f.authorize(ctx, session.UserID, auth.ActionListTunnels, &tenant.TenantID); err != nil {
		return nil, err
	}
	tunnelID, err := resolveTunnelID(session, cmd)
	if err != nil {
		return nil, err
	}

	tun, err := f.tunnels.Get(ctx, tenant, tunnelID)
	if err != nil {
		return nil, f.staleTunnel(session, tunnelID, err)
	}

	// Live connections are cached under the tunnel's kind; any lifecycle
	// step invalidates KindTunnels and forces a refetch here.
	connections, ok := cache.Lookup[[]cloudflare.TunnelConnection](f.cache, tenant.TenantID, cache.TunnelKind(tunnelID))
	if !ok {
		connections, err = f.tunnels.Connections(ctx, tenant, tunnelID)
		if err != nil {
			return nil, err
		}
		f.cache.Put(tenant.TenantID, cache.TunnelKind(tunnelID), connections)
	}

	return &Result{
		Message: fmt.Sprintf("Tunnel %q is %s with %d hostname(s), %d network route(s) and %d live connection(s).",
			tun.Name, tun.DisplayStatus(), len(tun.Hostnames), len(tun.Networks), len(connections)),
		Data: map[string]any{
			"tunnel":      summarizeTunnel(tun),
			"connections": connections,
		},
	}, nil
}

func (f *Facade) addHostname(ctx context.Context, session *models.Session, cmd Command) (*Result, error) {
	tenant, err := f.activeTenant(ctx, session)
	if err != nil {
		return nil, err
	}
	if err := f.authorize(ctx, session.UserID, auth.ActionConfigureTunnel, &tenant.TenantID); err != nil {
		return nil, err
	}
	tunnelID, err := resolveTunnelID(session, cmd)
	if err != nil {
		return nil, err
	}

	// Without arguments this becomes a two-step conversation: remember
	// the tunnel and wait for "subdomain service-url" as plain text.
	if cmd.Subdomain == "" || cmd.ServiceURL == "" {
		session.Pending = models.PendingInput{Kind: models.PendingHostname, TunnelID: tunnelID}
		return &Result{Message: "Send the hostname and service URL, e.g. \"app.example.com http://localhost:8080\"."}, nil
	}

	tun, err := f.tunnels.AddHostname(ctx, tenant, tunnelID, cmd.Subdomain, cmd.ServiceURL)
	if err != nil {
		return nil, f.staleTunnel(session, tunnelID, err)
	}
	return &Result{
		Message: fmt.Sprintf("Hostname %s now routes to %s.", cmd.Subdomain, cmd.ServiceURL),
		Data:    summarizeTunnel(tun),
	}, nil
}

func (f *Facade) removeHostname(ctx context.Context, session *models.Session, cmd Command) (*Result, error) {
	tenant, err := f.activeTenant(ctx, session)
	if err != nil {
		return nil, err
	}
	if err := f.authorize(ctx, session.UserID, auth.ActionConfigureTunnel, &tenant.TenantID); err != nil {
		return nil, err
	}
	tunnelID, err := resolveTunnelID(session, cmd)
	if err != nil {
		return nil, err
	}
	if cmd.Subdomain == "" {
		return nil, &UsageError{Reason: "remove-hostname requires the hostname."}
	}

	tun, err := f.tunnels.RemoveHostname(ctx, tenant, tunnelID, cmd.Subdomain)
	if err != nil {
		return nil, f.staleTunnel(session, tunnelID, err)
	}
	return &Result{
		Message: fmt.Sprintf("Hostname %s removed.", cmd.Subdomain),
		Data:    summarizeTunnel(tun),
	}, nil
}

func (f *Facade) addNetwork(ctx context.Context, session *models.Session, cmd Command) (*Result, error) {
	tenant, err := f.activeTenant(ctx, session)
	if err != nil {
		return nil, err
	}
	if err := f.authorize(ctx, session.UserID, auth.ActionConfigureTunnel, &tenant.TenantID); err != nil {
		return nil, err
	}
	tunnelID, err := resolveTunnelID(session, cmd)
	if err != nil {
		return nil, err
	}

	if cmd.CIDR == "" {
		session.Pending = models.PendingInput{Kind: models.PendingCIDR, TunnelID: tunnelID}
		return &Result{Message: "Send the CIDR range to route, e.g. \"10.0.0.0/8\"."}, nil
	}

	tun, err := f.tunnels.AddNetwork(ctx, tenant, tunnelID, cmd.CIDR)
	if err != nil {
		return nil, f.staleTunnel(session, tunnelID, err)
	}
	return &Result{
		Message: fmt.Sprintf("Network %s now routes through tunnel %q.", cmd.CIDR, tun.Name),
		Data:    summarizeTunnel(tun),
	}, nil
}

func (f *Facade) removeNetwork(ctx context.Context, session *models.Session, cmd Command) (*Result, error) {
	tenant, err := f.activeTenant(ctx, session)
	if err != nil {
		return nil, err
	}
	if err := f.authorize(ctx, session.UserID, auth.ActionConfigureTunnel, &tenant.TenantID); err != nil {
		return nil, err
	}
	tunnelID, err := resolveTunnelID(session, cmd)
	if err != nil {
		return nil, err
	}
	if cmd.CIDR == "" {
		return nil, &UsageError{Reason: "remove-network requires the CIDR."}
	}

	tun, err := f.tunnels.RemoveNetwork(ctx, tenant, tunnelID, cmd.CIDR)
	if err != nil {
		return nil, f.staleTunnel(session, tunnelID, err)
	}
	return &Result{
		Message: fmt.Sprintf("Network %s removed.", cmd.CIDR),
		Data:    summarizeTunnel(tun),
	}, nil
}

func (f *Facade) deleteTunnel(ctx context.Context, session *models.Session, cmd Command) (*Result, error) {
	tenant, err := f.activeTenant(ctx, session)
	if err != nil {
		return nil, err
	}
	if err := f.authorize(ctx, session.UserID, auth.ActionDeleteTunnel, &tenant.TenantID); err != nil {
		return nil, err
	}
	tunnelID, err := resolveTunnelID(session, cmd)
	if err != nil {
		return nil, err
	}

	if err := f.tunnels.Delete(ctx, tenant, tunnelID); err != nil {
		return nil, err
	}

	if session.ActiveTunnelID != nil && *session.ActiveTunnelID == tunnelID {
		session.ActiveTunnelID = nil
	}
	return &Result{Message: "Tunnel deleted."}, nil
}

func (f *Facade) refreshCache(ctx context.Context, session *models.Session) (*Result, error) {
	tenant, err := f.activeTenant(ctx, session)
	if err != nil {
		return nil, err
	}
	if err := f.authorize(ctx, session.UserID, auth.ActionRefreshCache, &tenant.TenantID); err != nil {
		return nil, err
	}

	f.cache.InvalidateAll(tenant.TenantID)
	return &Result{Message: "Cache cleared. The next lookup will fetch fresh data."}, nil
}

func (f *Facade) stats(ctx context.Context, session *models.Session) (*Result, error) {
	if err := f.authorize(ctx, session.UserID, auth.ActionViewStats, nil); err != nil {
		return nil, err
	}

	tenants, err := f.tenants.List(ctx)
	if err != nil {
		return nil, err
	}

	totalTunnels := 0
	totalGroups := 0
	for _, tenant := range tenants {
		tunnels, err := f.tunnels.List(ctx, tenant)
		if err != nil {
			return nil, err
		}
		totalTunnels += len(tunnels)

		groups, err := f.groups.ListByTenant(ctx, tenant.TenantID)
		if err != nil {
			return nil, err
		}
		totalGroups += len(groups)
	}

	return &Result{
		Message: fmt.Sprintf("%d tenant(s), %d tunnel(s), %d domain group(s).", len(tenants), totalTunnels, totalGroups),
		Data: map[string]int{
			"tenants": len(tenants),
			"tunnels": totalTunnels,
			"groups":  totalGroups,
		},
	}, nil
}

// text completes a pending multi-step input.
func (f *Facade) text(ctx context.Context, session *models.Session, cmd Command) (*Result, error) {
	pending := session.Pending
	session.Pending = models.PendingInput{}

	switch pending.Kind {
	case models.PendingHostname:
		fields := strings.Fields(cmd.Text)
		if len(fields) != 2 {
			return nil, &UsageError{Reason: "Expected \"subdomain service-url\", e.g. \"app.example.com http://localhost:8080\"."}
		}
		return f.addHostname(ctx, session, Command{
			Name:       CmdAddHostname,
			TunnelID:   &pending.TunnelID,
			Subdomain:  fields[0],
			ServiceURL: fields[1],
		})
	case models.PendingCIDR:
		return f.addNetwork(ctx, session, Command{
			Name:     CmdAddNetwork,
			TunnelID: &pending.TunnelID,
			CIDR:     strings.TrimSpace(cmd.Text),
		})
	default:
		return nil, &UsageError{Reason: "Nothing is awaiting input. Use a command instead."}
	}
}

// staleTunnel clears a dangling active-tunnel reference when the target
// tunnel is gone.
func (f *Facade) staleTunnel(session *models.Session, tunnelID uuid.UUID, err error) error {
	if errors.Is(err, store.ErrTunnelNotFound) && session.ActiveTunnelID != nil && *session.ActiveTunnelID == tunnelID {
		session.ActiveTunnelID = nil
		return &StaleReferenceError{Kind: "tunnel"}
	}
	return err
}

func tenantCreds(tenant *models.Tenant) cloudflare.Credentials {
	return cloudflare.Credentials{APIToken: tenant.APIToken, AccountID: tenant.AccountID}
}
