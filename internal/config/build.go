package config

import (
	"fmt"

	"github.com/nao1215/foodgate/internal/gateway/pattern"
	"github.com/nao1215/foodgate/internal/gateway/policy"
	"github.com/nao1215/foodgate/internal/gateway/route"
)

// Tables は設定から組み立てた読み取り専用のテーブル。
type Tables struct {
	Routes   *route.Table
	Policies *policy.Table
}

// Build はルート定義とポリシー定義を宣言順にテーブルへ展開する。
func (c *Config) Build() (*Tables, error) {
	routes, err := c.buildRoutes()
	if err != nil {
		return nil, err
	}
	policies, err := c.buildPolicies()
	if err != nil {
		return nil, err
	}
	return &Tables{Routes: routes, Policies: policies}, nil
}

func (c *Config) buildRoutes() (*route.Table, error) {
	var routes []route.Route
	for _, rc := range c.Routes {
		for _, path := range rc.Paths {
			p, err := pattern.Parse(path, rc.Methods...)
			if err != nil {
				return nil, fmt.Errorf("ルート %s: %w", rc.ID, err)
			}
			routes = append(routes, route.Route{
				ID:                     rc.ID,
				Pattern:                p,
				Target:                 route.ServiceID(rc.Target),
				ResponseHeaderRemovals: rc.RemoveResponseHeaders,
			})
		}
	}
	return route.NewTable(routes...)
}

func (c *Config) buildPolicies() (*policy.Table, error) {
	var rules []policy.Rule
	for i, pc := range c.Policies {
		req, err := policy.ParseRequirement(pc.Access)
		if err != nil {
			return nil, fmt.Errorf("policies[%d]: %w", i, err)
		}
		for _, path := range pc.Paths {
			p, err := pattern.Parse(path, pc.Methods...)
			if err != nil {
				return nil, fmt.Errorf("policies[%d]: %w", i, err)
			}
			rules = append(rules, policy.Rule{Pattern: p, Requirement: req})
		}
	}
	return policy.NewTable(rules...)
}
