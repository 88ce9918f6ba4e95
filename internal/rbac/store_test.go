package rbac

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/authhub/authhub/internal/audit"
	dbutil "github.com/authhub/authhub/internal/db"
	"github.com/authhub/authhub/internal/models"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, errDB := conn.DB()
	if errDB != nil {
		t.Fatalf("db handle: %v", errDB)
	}
	sqlDB.SetMaxOpenConns(1)
	if errMigrate := dbutil.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func seedUser(t *testing.T, conn *gorm.DB, id string) {
	t.Helper()
	user := models.User{ID: id, Role: models.SystemRoleUser, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	if errCreate := conn.Create(&user).Error; errCreate != nil {
		t.Fatalf("seed user: %v", errCreate)
	}
}

func seedService(t *testing.T, conn *gorm.DB, name string) uint64 {
	t.Helper()
	service := models.Service{Name: name, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	if errCreate := conn.Create(&service).Error; errCreate != nil {
		t.Fatalf("seed service: %v", errCreate)
	}
	return service.ID
}

func TestStore_RoleNamesScopedPerModel(t *testing.T) {
	conn := newTestDB(t)
	store := NewStore(conn)
	ctx := context.Background()

	cms, errCMS := store.CreateModel(ctx, "CMS", "content management")
	if errCMS != nil {
		t.Fatalf("create model: %v", errCMS)
	}
	billing, errBilling := store.CreateModel(ctx, "Billing", "")
	if errBilling != nil {
		t.Fatalf("create model: %v", errBilling)
	}

	if _, errDup := store.CreateModel(ctx, "CMS", ""); !errors.Is(errDup, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate model name, got %v", errDup)
	}

	if _, errRole := store.CreateRole(ctx, cms.ID, "editor", ""); errRole != nil {
		t.Fatalf("create role: %v", errRole)
	}
	// The same role name must be legal in a different model.
	if _, errRole := store.CreateRole(ctx, billing.ID, "editor", ""); errRole != nil {
		t.Fatalf("create role in second model: %v", errRole)
	}
	if _, errDup := store.CreateRole(ctx, cms.ID, "editor", ""); !errors.Is(errDup, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate role name in model, got %v", errDup)
	}

	if _, errMissing := store.CreateRole(ctx, 9999, "ghost", ""); !errors.Is(errMissing, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for role under missing model, got %v", errMissing)
	}
}

func TestStore_PermissionNameDerivesResourceAction(t *testing.T) {
	conn := newTestDB(t)
	store := NewStore(conn)
	ctx := context.Background()

	model, errModel := store.CreateModel(ctx, "CMS", "")
	if errModel != nil {
		t.Fatalf("create model: %v", errModel)
	}
	perm, errPerm := store.CreatePermission(ctx, model.ID, "edit:page", "edit pages")
	if errPerm != nil {
		t.Fatalf("create permission: %v", errPerm)
	}
	if perm.Action != "edit" || perm.Resource != "page" {
		t.Fatalf("expected action=edit resource=page, got %q %q", perm.Action, perm.Resource)
	}
	if _, errDup := store.CreatePermission(ctx, model.ID, "edit:page", ""); !errors.Is(errDup, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate permission, got %v", errDup)
	}
}

func TestStore_UpdateGrantsOrderAndScope(t *testing.T) {
	conn := newTestDB(t)
	store := NewStore(conn)
	ctx := context.Background()

	model, _ := store.CreateModel(ctx, "CMS", "")
	other, _ := store.CreateModel(ctx, "Other", "")
	role, errRole := store.CreateRole(ctx, model.ID, "editor", "")
	if errRole != nil {
		t.Fatalf("create role: %v", errRole)
	}

	edit, _ := store.CreatePermission(ctx, model.ID, "edit:page", "")
	create, _ := store.CreatePermission(ctx, model.ID, "create:page", "")
	publish, _ := store.CreatePermission(ctx, model.ID, "publish:page", "")
	foreign, _ := store.CreatePermission(ctx, other.ID, "edit:invoice", "")

	// Cross-model grants must reject the whole request.
	errCross := store.UpdateGrants(ctx, role.ID, []uint64{edit.ID, foreign.ID}, nil)
	if !errors.Is(errCross, ErrValidation) {
		t.Fatalf("expected ErrValidation for cross-model grant, got %v", errCross)
	}
	perms, _ := store.PermissionsForRole(ctx, role.ID)
	if len(perms) != 0 {
		t.Fatalf("expected no grants after rejected request, got %d", len(perms))
	}

	if errGrant := store.UpdateGrants(ctx, role.ID, []uint64{publish.ID, edit.ID}, nil); errGrant != nil {
		t.Fatalf("grant: %v", errGrant)
	}
	// Duplicate grants are ignored; a later grant appends after earlier ones.
	if errGrant := store.UpdateGrants(ctx, role.ID, []uint64{edit.ID, create.ID}, nil); errGrant != nil {
		t.Fatalf("grant: %v", errGrant)
	}

	perms, errPerms := store.PermissionsForRole(ctx, role.ID)
	if errPerms != nil {
		t.Fatalf("permissions for role: %v", errPerms)
	}
	want := []uint64{publish.ID, edit.ID, create.ID}
	if len(perms) != len(want) {
		t.Fatalf("expected %d permissions, got %d", len(want), len(perms))
	}
	for i, perm := range perms {
		if perm.ID != want[i] {
			t.Fatalf("grant order mismatch at %d: expected %d, got %d", i, want[i], perm.ID)
		}
	}

	if errRevoke := store.UpdateGrants(ctx, role.ID, nil, []uint64{edit.ID}); errRevoke != nil {
		t.Fatalf("revoke: %v", errRevoke)
	}
	perms, _ = store.PermissionsForRole(ctx, role.ID)
	if len(perms) != 2 || perms[0].ID != publish.ID || perms[1].ID != create.ID {
		t.Fatalf("unexpected permissions after revoke: %+v", perms)
	}
}

func TestStore_DeleteModelCascades(t *testing.T) {
	conn := newTestDB(t)
	store := NewStore(conn)
	binding := NewBinding(conn)
	assignments := NewAssignments(conn)
	ctx := context.Background()

	model, _ := store.CreateModel(ctx, "CMS", "")
	role, _ := store.CreateRole(ctx, model.ID, "editor", "")
	perm, _ := store.CreatePermission(ctx, model.ID, "edit:page", "")
	if errGrant := store.UpdateGrants(ctx, role.ID, []uint64{perm.ID}, nil); errGrant != nil {
		t.Fatalf("grant: %v", errGrant)
	}

	serviceID := seedService(t, conn, "svc1")
	seedUser(t, conn, "user-1")
	if errBind := binding.Assign(ctx, serviceID, model.ID); errBind != nil {
		t.Fatalf("bind: %v", errBind)
	}
	if _, errAssign := assignments.Assign(ctx, "user-1", serviceID, role.ID); errAssign != nil {
		t.Fatalf("assign: %v", errAssign)
	}

	if errDelete := store.DeleteModel(ctx, model.ID); errDelete != nil {
		t.Fatalf("delete model: %v", errDelete)
	}

	for table, dest := range map[string]any{
		"roles":               &[]models.Role{},
		"permissions":         &[]models.Permission{},
		"role_permissions":    &[]models.RolePermission{},
		"service_rbac_models": &[]models.ServiceRbacModel{},
		"user_service_roles":  &[]models.UserServiceRole{},
	} {
		var count int64
		if errCount := conn.Table(table).Count(&count).Error; errCount != nil {
			t.Fatalf("count %s: %v", table, errCount)
		}
		if count != 0 {
			t.Fatalf("expected %s to be empty after model delete, got %d rows (%T)", table, count, dest)
		}
	}

	if _, errGet := store.GetModel(ctx, model.ID); !errors.Is(errGet, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", errGet)
	}
}

func TestStore_DeleteRoleCascadesGrantsAndAssignments(t *testing.T) {
	conn := newTestDB(t)
	store := NewStore(conn)
	binding := NewBinding(conn)
	assignments := NewAssignments(conn)
	ctx := context.Background()

	model, _ := store.CreateModel(ctx, "CMS", "")
	role, _ := store.CreateRole(ctx, model.ID, "editor", "")
	keep, _ := store.CreateRole(ctx, model.ID, "viewer", "")
	perm, _ := store.CreatePermission(ctx, model.ID, "edit:page", "")
	if errGrant := store.UpdateGrants(ctx, role.ID, []uint64{perm.ID}, nil); errGrant != nil {
		t.Fatalf("grant: %v", errGrant)
	}

	serviceID := seedService(t, conn, "svc1")
	seedUser(t, conn, "user-1")
	if errBind := binding.Assign(ctx, serviceID, model.ID); errBind != nil {
		t.Fatalf("bind: %v", errBind)
	}
	if _, errAssign := assignments.Assign(ctx, "user-1", serviceID, role.ID); errAssign != nil {
		t.Fatalf("assign: %v", errAssign)
	}

	if errDelete := store.DeleteRole(ctx, role.ID); errDelete != nil {
		t.Fatalf("delete role: %v", errDelete)
	}

	var linkCount, assignCount int64
	conn.Model(&models.RolePermission{}).Count(&linkCount)
	conn.Model(&models.UserServiceRole{}).Count(&assignCount)
	if linkCount != 0 || assignCount != 0 {
		t.Fatalf("expected grants and assignments removed, got %d links %d assignments", linkCount, assignCount)
	}

	// The permission and the sibling role survive.
	if _, errPerm := store.ListPermissions(ctx, model.ID); errPerm != nil {
		t.Fatalf("list permissions: %v", errPerm)
	}
	if _, errKeep := store.GetRole(ctx, keep.ID); errKeep != nil {
		t.Fatalf("sibling role should survive: %v", errKeep)
	}
}

func TestBinding_AssignReplacesPriorModel(t *testing.T) {
	conn := newTestDB(t)
	store := NewStore(conn)
	binding := NewBinding(conn)
	ctx := context.Background()

	first, _ := store.CreateModel(ctx, "CMS", "")
	second, _ := store.CreateModel(ctx, "Billing", "")
	serviceID := seedService(t, conn, "svc1")

	if errBind := binding.Assign(ctx, serviceID, first.ID); errBind != nil {
		t.Fatalf("bind: %v", errBind)
	}
	if errBind := binding.Assign(ctx, serviceID, second.ID); errBind != nil {
		t.Fatalf("rebind: %v", errBind)
	}

	var count int64
	conn.Model(&models.ServiceRbacModel{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected a single binding row, got %d", count)
	}

	bound, errGet := binding.Get(ctx, serviceID)
	if errGet != nil {
		t.Fatalf("get binding: %v", errGet)
	}
	if bound == nil || bound.ID != second.ID {
		t.Fatalf("expected binding to model %d, got %+v", second.ID, bound)
	}

	unbound, errUnmanaged := binding.Get(ctx, serviceID+100)
	if errUnmanaged != nil || unbound != nil {
		t.Fatalf("expected nil model for unmanaged service, got %+v err %v", unbound, errUnmanaged)
	}

	services, errList := binding.ListServicesForModel(ctx, second.ID)
	if errList != nil || len(services) != 1 || services[0].ID != serviceID {
		t.Fatalf("unexpected services for model: %+v err %v", services, errList)
	}

	if errMissing := binding.Assign(ctx, serviceID, 9999); !errors.Is(errMissing, ErrNotFound) {
		t.Fatalf("expected ErrNotFound binding missing model, got %v", errMissing)
	}
}

func TestAssignments_RoleMustMatchBoundModel(t *testing.T) {
	conn := newTestDB(t)
	store := NewStore(conn)
	binding := NewBinding(conn)
	assignments := NewAssignments(conn)
	ctx := context.Background()

	cms, _ := store.CreateModel(ctx, "CMS", "")
	billing, _ := store.CreateModel(ctx, "Billing", "")
	cmsRole, _ := store.CreateRole(ctx, cms.ID, "editor", "")
	billingRole, _ := store.CreateRole(ctx, billing.ID, "accountant", "")

	serviceID := seedService(t, conn, "svc1")
	seedUser(t, conn, "user-1")

	// No binding yet: assignment is invalid.
	if _, errNoBind := assignments.Assign(ctx, "user-1", serviceID, cmsRole.ID); !errors.Is(errNoBind, ErrValidation) {
		t.Fatalf("expected ErrValidation without binding, got %v", errNoBind)
	}

	if errBind := binding.Assign(ctx, serviceID, cms.ID); errBind != nil {
		t.Fatalf("bind: %v", errBind)
	}

	if _, errMismatch := assignments.Assign(ctx, "user-1", serviceID, billingRole.ID); !errors.Is(errMismatch, ErrRoleModelMismatch) {
		t.Fatalf("expected ErrRoleModelMismatch, got %v", errMismatch)
	}
	if _, errOK := assignments.Assign(ctx, "user-1", serviceID, cmsRole.ID); errOK != nil {
		t.Fatalf("assign: %v", errOK)
	}
}

func TestAssignments_ReassignReplacesInPlace(t *testing.T) {
	conn := newTestDB(t)
	store := NewStore(conn)
	binding := NewBinding(conn)
	assignments := NewAssignments(conn)
	ctx := context.Background()

	model, _ := store.CreateModel(ctx, "CMS", "")
	editor, _ := store.CreateRole(ctx, model.ID, "editor", "")
	viewer, _ := store.CreateRole(ctx, model.ID, "viewer", "")

	serviceID := seedService(t, conn, "svc1")
	seedUser(t, conn, "user-1")
	if errBind := binding.Assign(ctx, serviceID, model.ID); errBind != nil {
		t.Fatalf("bind: %v", errBind)
	}

	if _, errAssign := assignments.Assign(ctx, "user-1", serviceID, editor.ID); errAssign != nil {
		t.Fatalf("assign: %v", errAssign)
	}
	if _, errAssign := assignments.Assign(ctx, "user-1", serviceID, viewer.ID); errAssign != nil {
		t.Fatalf("reassign: %v", errAssign)
	}

	rows, errList := assignments.ListForUser(ctx, "user-1")
	if errList != nil {
		t.Fatalf("list: %v", errList)
	}
	if len(rows) != 1 {
		t.Fatalf("expected a single assignment row, got %d", len(rows))
	}
	if rows[0].RoleID != viewer.ID {
		t.Fatalf("expected role %d after reassign, got %d", viewer.ID, rows[0].RoleID)
	}

	if errRemove := assignments.Remove(ctx, "user-1", serviceID); errRemove != nil {
		t.Fatalf("remove: %v", errRemove)
	}
	if errAgain := assignments.Remove(ctx, "user-1", serviceID); !errors.Is(errAgain, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second remove, got %v", errAgain)
	}
}

func TestResolver_ScenarioAndDegrades(t *testing.T) {
	conn := newTestDB(t)
	store := NewStore(conn)
	binding := NewBinding(conn)
	assignments := NewAssignments(conn)
	recorder := audit.NewRecorder(conn)
	resolver := NewResolver(conn, recorder)
	ctx := context.Background()

	model, _ := store.CreateModel(ctx, "CMS", "")
	editor, _ := store.CreateRole(ctx, model.ID, "Editor", "")
	createPage, _ := store.CreatePermission(ctx, model.ID, "create:page", "")
	editPage, _ := store.CreatePermission(ctx, model.ID, "edit:page", "")
	if errGrant := store.UpdateGrants(ctx, editor.ID, []uint64{createPage.ID, editPage.ID}, nil); errGrant != nil {
		t.Fatalf("grant: %v", errGrant)
	}

	serviceID := seedService(t, conn, "svc1")
	seedUser(t, conn, "alice")
	seedUser(t, conn, "bob")
	if errBind := binding.Assign(ctx, serviceID, model.ID); errBind != nil {
		t.Fatalf("bind: %v", errBind)
	}
	if _, errAssign := assignments.Assign(ctx, "alice", serviceID, editor.ID); errAssign != nil {
		t.Fatalf("assign: %v", errAssign)
	}

	access, errResolve := resolver.Resolve(ctx, "alice", &serviceID)
	if errResolve != nil {
		t.Fatalf("resolve: %v", errResolve)
	}
	if access.Role == nil || access.Role.Name != "Editor" {
		t.Fatalf("expected Editor role, got %+v", access.Role)
	}
	if access.RbacModel == nil || access.RbacModel.ID != model.ID {
		t.Fatalf("expected model %d, got %+v", model.ID, access.RbacModel)
	}
	if len(access.Permissions) != 2 ||
		access.Permissions[0].Name != "create:page" ||
		access.Permissions[1].Name != "edit:page" {
		t.Fatalf("expected [create:page edit:page], got %+v", access.Permissions)
	}

	// A user without an assignment gets the model but no role.
	access, errResolve = resolver.Resolve(ctx, "bob", &serviceID)
	if errResolve != nil {
		t.Fatalf("resolve: %v", errResolve)
	}
	if access.Role != nil || access.RbacModel == nil || len(access.Permissions) != 0 {
		t.Fatalf("expected roleless access with model, got %+v", access)
	}

	// Alice's role in svc1 grants nothing in a second service bound to the
	// same model.
	otherService := seedService(t, conn, "svc2")
	if errBind := binding.Assign(ctx, otherService, model.ID); errBind != nil {
		t.Fatalf("bind second service: %v", errBind)
	}
	access, errResolve = resolver.Resolve(ctx, "alice", &otherService)
	if errResolve != nil {
		t.Fatalf("resolve: %v", errResolve)
	}
	if access.Role != nil || len(access.Permissions) != 0 {
		t.Fatalf("role must not leak across services, got %+v", access)
	}

	// Nil service and unmanaged service resolve to zero access.
	access, errResolve = resolver.Resolve(ctx, "alice", nil)
	if errResolve != nil || access.Role != nil || access.RbacModel != nil {
		t.Fatalf("expected zero access for nil service, got %+v err %v", access, errResolve)
	}
	unmanaged := serviceID + 100
	access, errResolve = resolver.Resolve(ctx, "alice", &unmanaged)
	if errResolve != nil || access.Role != nil || access.RbacModel != nil {
		t.Fatalf("expected zero access for unmanaged service, got %+v err %v", access, errResolve)
	}

	// Unbinding the model zeroes resolution even though the assignment row
	// still exists.
	if errUnbind := binding.Unassign(ctx, serviceID); errUnbind != nil {
		t.Fatalf("unbind: %v", errUnbind)
	}
	access, errResolve = resolver.Resolve(ctx, "alice", &serviceID)
	if errResolve != nil || access.Role != nil || access.RbacModel != nil || len(access.Permissions) != 0 {
		t.Fatalf("expected zero access after unbind, got %+v err %v", access, errResolve)
	}
}

func TestResolver_StaleAssignmentDegrades(t *testing.T) {
	conn := newTestDB(t)
	store := NewStore(conn)
	binding := NewBinding(conn)
	assignments := NewAssignments(conn)
	recorder := audit.NewRecorder(conn)
	resolver := NewResolver(conn, recorder)
	ctx := context.Background()

	cms, _ := store.CreateModel(ctx, "CMS", "")
	billing, _ := store.CreateModel(ctx, "Billing", "")
	editor, _ := store.CreateRole(ctx, cms.ID, "editor", "")
	perm, _ := store.CreatePermission(ctx, cms.ID, "edit:page", "")
	if errGrant := store.UpdateGrants(ctx, editor.ID, []uint64{perm.ID}, nil); errGrant != nil {
		t.Fatalf("grant: %v", errGrant)
	}

	serviceID := seedService(t, conn, "svc1")
	seedUser(t, conn, "alice")
	if errBind := binding.Assign(ctx, serviceID, cms.ID); errBind != nil {
		t.Fatalf("bind: %v", errBind)
	}
	if _, errAssign := assignments.Assign(ctx, "alice", serviceID, editor.ID); errAssign != nil {
		t.Fatalf("assign: %v", errAssign)
	}

	// Swap the service to another model; the old assignment goes stale.
	if errBind := binding.Assign(ctx, serviceID, billing.ID); errBind != nil {
		t.Fatalf("rebind: %v", errBind)
	}

	access, errResolve := resolver.Resolve(ctx, "alice", &serviceID)
	if errResolve != nil {
		t.Fatalf("resolve: %v", errResolve)
	}
	if access.Role != nil {
		t.Fatalf("expected nil role for stale assignment, got %+v", access.Role)
	}
	if access.RbacModel == nil || access.RbacModel.ID != billing.ID {
		t.Fatalf("expected currently bound model %d, got %+v", billing.ID, access.RbacModel)
	}
	if len(access.Permissions) != 0 {
		t.Fatalf("expected no permissions, got %+v", access.Permissions)
	}

	// The stale row stays in place and the event is recorded.
	rows, errList := assignments.ListForUser(ctx, "alice")
	if errList != nil || len(rows) != 1 {
		t.Fatalf("expected the stale row to survive, got %+v err %v", rows, errList)
	}
	var warned int64
	conn.Model(&models.AuditLog{}).Where("event = ?", audit.EventStaleAssignment).Count(&warned)
	if warned != 1 {
		t.Fatalf("expected one stale-assignment audit row, got %d", warned)
	}
}
