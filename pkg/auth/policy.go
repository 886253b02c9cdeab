package auth

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

const policyModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch2(r.obj, p.obj) && regexMatch(r.act, p.act)
`

// defaultRules grant agents the inbox and admins everything agents can do
// plus the admin API.
var defaultRules = [][]string{
	{"role:agent", "/api/auth/*", "GET|POST|PUT"},
	{"role:agent", "/api/messages/*", "GET|POST|PUT|DELETE"},
	{"role:agent", "/api/notes/*", "GET|POST|DELETE"},
	{"role:agent", "/api/upload", "POST"},
	{"role:agent", "/api/media", "GET"},
	{"role:agent", "/api/media/*", "DELETE"},
	{"role:agent", "/api/admin/assignments/user/:userId", "GET"},
	{"role:agent", "/ws", "GET"},
	{"role:admin", "/api/admin/*", "GET|POST|PUT|DELETE"},
}

// Policy decides which routes a role may call.
type Policy struct {
	enforcer *casbin.Enforcer
}

func NewPolicy() (*Policy, error) {
	m, err := model.NewModelFromString(policyModel)
	if err != nil {
		return nil, fmt.Errorf("load policy model: %w", err)
	}
	enforcer, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create enforcer: %w", err)
	}

	for _, rule := range defaultRules {
		if _, err := enforcer.AddPolicy(rule[0], rule[1], rule[2]); err != nil {
			return nil, fmt.Errorf("add policy %v: %w", rule, err)
		}
	}
	if _, err := enforcer.AddGroupingPolicy("role:admin", "role:agent"); err != nil {
		return nil, fmt.Errorf("add role inheritance: %w", err)
	}
	return &Policy{enforcer: enforcer}, nil
}

// Allow reports whether role may call method on path.
func (p *Policy) Allow(role, path, method string) bool {
	ok, err := p.enforcer.Enforce("role:"+role, path, method)
	if err != nil {
		return false
	}
	return ok
}
