// Package authz decides which roles may read or write which resources.
package authz

import (
	"fmt"
	"net/http"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/zulandar/jigged/internal/db"
	"github.com/zulandar/jigged/internal/models"
)

// Actions.
const (
	Read  = "read"
	Write = "write"
)

// Objects guarded by the API.
const (
	Customers      = "customers"
	Parts          = "parts"
	Inventory      = "inventory"
	ResourceGroups = "resource-groups"
	OperationTypes = "operation-types"
	Quotes         = "quotes"
	WorkOrders     = "work-orders"
	Personnel      = "personnel"
	Routings       = "routings"
	Imports        = "imports"
	Accounts       = "accounts"
	Attachments    = "attachments"
)

// RoleOperator is the role carried by shop-floor operator tokens.
const RoleOperator = "operator"

// RoleKey is the gin context key holding the caller's role.
const RoleKey = "jig.role"

const modelText = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act, eft

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow)) && !some(where (p.eft == deny))

[matchers]
m = g(r.sub, p.sub) && (p.obj == "*" || r.obj == p.obj) && (p.act == "*" || r.act == p.act)
`

var defaultPolicies = [][]string{
	{models.RoleAdmin, "*", "*", "allow"},
	{models.RoleManager, "*", "*", "allow"},
	{models.RoleManager, Accounts, Write, "deny"},
	{models.RoleViewer, "*", Read, "allow"},
	{models.RoleMember, Routings, Write, "allow"},
	{models.RoleMember, Quotes, Write, "allow"},
	{models.RoleMember, WorkOrders, Write, "allow"},
	{models.RoleMember, Imports, Write, "allow"},
	{models.RoleMember, Attachments, Write, "allow"},
	{RoleOperator, Routings, Read, "allow"},
	{RoleOperator, WorkOrders, Read, "allow"},
	{RoleOperator, Parts, Read, "allow"},
	{RoleOperator, OperationTypes, Read, "allow"},
}

// Members inherit everything viewers may do.
var defaultGroupings = [][]string{
	{models.RoleMember, models.RoleViewer},
}

// Authorizer checks (role, object, action) requests.
type Authorizer struct {
	enforcer *casbin.SyncedEnforcer
	logger   *logrus.Entry
}

// New builds an Authorizer with the built-in policies plus extra
// [role, object, action] allow rules.
func New(extra [][]string, logger *logrus.Entry) (*Authorizer, error) {
	if logger == nil {
		logger = logrus.WithField("component", "authz")
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, fmt.Errorf("authz: model: %w", err)
	}
	enf, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("authz: failed to initialize enforcer: %w", err)
	}

	policies := make([][]string, 0, len(defaultPolicies)+len(extra))
	policies = append(policies, defaultPolicies...)
	for i, p := range extra {
		if len(p) != 3 {
			return nil, fmt.Errorf("authz: policy %d must be [role, object, action]", i)
		}
		policies = append(policies, []string{p[0], p[1], p[2], "allow"})
	}
	if _, err := enf.AddPolicies(policies); err != nil {
		return nil, fmt.Errorf("authz: failed to load policies: %w", err)
	}
	if _, err := enf.AddGroupingPolicies(defaultGroupings); err != nil {
		return nil, fmt.Errorf("authz: failed to load roles: %w", err)
	}
	return &Authorizer{enforcer: enf, logger: logger}, nil
}

// Allowed reports whether role may perform act on obj. Enforcer errors
// deny.
func (a *Authorizer) Allowed(role, obj, act string) bool {
	ok, err := a.enforcer.Enforce(role, obj, act)
	if err != nil {
		a.logger.WithError(err).WithFields(logrus.Fields{"role": role, "object": obj, "action": act}).
			Error("authz: enforce failed")
		return false
	}
	return ok
}

// Check is Allowed as an error of kind db.KindPermission.
func (a *Authorizer) Check(role, obj, act string) error {
	if a.Allowed(role, obj, act) {
		return nil
	}
	return db.PermissionDenied(act + " " + obj)
}

// Require aborts with 403 unless the role stored under RoleKey may
// perform act on obj.
func (a *Authorizer) Require(obj, act string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(RoleKey)
		if a.Allowed(role, obj, act) {
			c.Next()
			return
		}
		a.logger.WithFields(logrus.Fields{"role": role, "object": obj, "action": act}).Warn("authz denied request")
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": "Permission denied",
			"kind":  db.KindPermission.String(),
		})
	}
}
