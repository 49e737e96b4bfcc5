package constraints

import (
	"fmt"
	"strconv"

	"github.com/mrk-andreev/chprobe/internal/ir"
	"github.com/mrk-andreev/chprobe/internal/probe"
)

// Case is a named probe derived from a profile.
type Case struct {
	Name  string
	Probe probe.Probe
}

// ValueQuery reads a setting's current value.
func ValueQuery(table Table, name string) string {
	return fmt.Sprintf("SELECT value FROM %s WHERE name=%s", table.System(), ir.String(name).Literal())
}

// DisallowedQuery reads a setting's disallowed values.
func DisallowedQuery(table Table, name string) string {
	return fmt.Sprintf("SELECT disallowed_values FROM %s WHERE name=%s", table.System(), ir.String(name).Literal())
}

// Derive produces probe cases for every testable property of the profile,
// in profile order:
//
//   - the default value is reported when no settings are sent
//   - min and max are accepted, min-1 and max+1 are rejected
//   - each disallowed value is rejected, the next allowed value is accepted,
//     and disallowed_values lists them
//   - const settings (and their aliases) cannot be changed
//   - locked settings cannot be modified by their user
//
// Merge tree settings cannot be sent with a query, so only their default and
// disallowed_values are probed.
func Derive(p *Profile) []Case {
	var cases []Case
	add := func(name string, pr probe.Probe) {
		cases = append(cases, Case{Name: name, Probe: pr})
	}

	for _, c := range p.Settings {
		valueQ := ValueQuery(c.Table, c.Name)
		one := func(v ir.Value) ir.Settings { return ir.NewSettings(ir.S(c.Name, v)) }

		if c.Default != nil {
			add(c.Name+"/default", probe.Probe{Query: valueQ, Expect: probe.Result(c.Default.Param())})
		}

		if c.Table == TableMergeTree {
			if len(c.Disallowed) > 0 {
				add(c.Name+"/disallowed_values", probe.Probe{
					Query:  DisallowedQuery(c.Table, c.Name),
					Expect: probe.Result(FormatArray(c.Disallowed)),
				})
			}
			continue
		}

		if c.Const {
			msg := fmt.Sprintf("Setting %s should not be changed", c.Name)
			changed := changedValue(c.Default)
			add(c.Name+"/const", probe.Probe{Query: valueQ, Settings: one(changed), Expect: probe.ErrorContaining(msg)})
			add(c.Name+"/const-same", probe.Probe{Query: valueQ, Settings: one(c.Default), Expect: probe.Result(c.Default.Param())})
			for _, alias := range c.Aliases {
				add(c.Name+"/alias-"+alias, probe.Probe{
					Query:    ValueQuery(c.Table, alias),
					Settings: ir.NewSettings(ir.S(alias, changed)),
					Expect:   probe.ErrorContaining(msg),
				})
			}
			continue
		}

		if c.Min != nil {
			if !c.IsDisallowed(ir.Int(*c.Min)) {
				add(c.Name+"/min", probe.Probe{Query: valueQ, Settings: one(ir.Int(*c.Min)), Expect: probe.Result(strconv.FormatInt(*c.Min, 10))})
			}
			add(c.Name+"/below-min", probe.Probe{
				Query:    valueQ,
				Settings: one(ir.Int(*c.Min - 1)),
				Expect:   probe.ErrorContaining(fmt.Sprintf("Setting %s shouldn't be less than %d", c.Name, *c.Min)),
			})
		}
		if c.Max != nil {
			if !c.IsDisallowed(ir.Int(*c.Max)) {
				add(c.Name+"/max", probe.Probe{Query: valueQ, Settings: one(ir.Int(*c.Max)), Expect: probe.Result(strconv.FormatInt(*c.Max, 10))})
			}
			add(c.Name+"/above-max", probe.Probe{
				Query:    valueQ,
				Settings: one(ir.Int(*c.Max + 1)),
				Expect:   probe.ErrorContaining(fmt.Sprintf("Setting %s shouldn't be greater than %d", c.Name, *c.Max)),
			})
		}

		if len(c.Disallowed) > 0 {
			for _, d := range c.Disallowed {
				add(c.Name+"/disallowed-"+d.Param(), probe.Probe{
					Query:    valueQ,
					Settings: one(d),
					Expect:   probe.ErrorContaining(fmt.Sprintf(" Setting %s shouldn't be %s", c.Name, d.Param())),
				})
			}
			if near, ok := nearAllowed(c); ok {
				add(c.Name+"/near-disallowed", probe.Probe{Query: valueQ, Settings: one(near), Expect: probe.Result(near.Param())})
			}
			dq := probe.Probe{Query: DisallowedQuery(c.Table, c.Name), Expect: probe.Result(FormatArray(c.Disallowed))}
			if c.Default != nil {
				dq.Settings = one(c.Default)
			}
			add(c.Name+"/disallowed_values", dq)
		}
	}

	for _, u := range p.Users {
		for _, name := range u.Locked {
			var v ir.Value = ir.Int(0)
			if c, ok := p.Lookup(name); ok && c.Default != nil {
				v = c.Default
			}
			add("user/"+u.Name+"/"+name, probe.Probe{
				Query:    "SELECT 1",
				Settings: ir.NewSettings(ir.S(name, v)),
				User:     u.Name,
				Expect:   probe.ErrorContaining(fmt.Sprintf("Cannot modify '%s'", name)),
			})
		}
	}
	return cases
}

// nearAllowed finds the smallest integer above the largest integer
// disallowed value that passes every constraint.
func nearAllowed(c Constraint) (ir.Value, bool) {
	var top int64
	found := false
	for _, d := range c.Disallowed {
		n, err := strconv.ParseInt(d.Param(), 10, 64)
		if err != nil {
			continue
		}
		if !found || n > top {
			top, found = n, true
		}
	}
	if !found {
		return nil, false
	}
	v := ir.Int(top + 1)
	if c.Check(v) != nil {
		return nil, false
	}
	return v, true
}

// changedValue returns a value different from v of the same kind.
func changedValue(v ir.Value) ir.Value {
	switch x := v.(type) {
	case ir.Int:
		if x == 1 {
			return ir.Int(0)
		}
		return ir.Int(1)
	case ir.Bool:
		return !x
	case ir.String:
		return x + "_changed"
	default:
		return ir.Int(1)
	}
}
