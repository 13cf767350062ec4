// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugscan Contributors

package pluginsdk

import (
	"fmt"
	"reflect"
	"runtime/debug"
	"strings"

	catalogv1 "github.com/plugscan/plugscan/internal/rpc/catalogv1"
	"github.com/plugscan/plugscan/pkg/plugin"
)

// importTag is the struct tag key declaring imports.
const importTag = "plugin"

// Describe builds the catalog for config by reflecting over the registered
// values. Problems with individual parts are reported as diagnostics and the
// offending entry is skipped.
func Describe(config *ServeConfig) *catalogv1.DescribeResponse {
	info, _ := debug.ReadBuildInfo()
	return newDescriber(info).describe(config)
}

type describer struct {
	info  *debug.BuildInfo
	types map[plugin.TypeIdentity]plugin.TypeDefinition
	order []plugin.TypeIdentity
	resp  *catalogv1.DescribeResponse
}

func newDescriber(info *debug.BuildInfo) *describer {
	d := &describer{
		info:  info,
		types: make(map[plugin.TypeIdentity]plugin.TypeDefinition),
		resp:  &catalogv1.DescribeResponse{SDKVersion: Version},
	}
	d.resp.Assembly = d.mainAssembly()
	return d
}

func (d *describer) describe(config *ServeConfig) *catalogv1.DescribeResponse {
	for i, p := range config.Parts {
		part, err := d.part(p)
		if err != nil {
			d.diag(catalogv1.LevelError, "skipping part", "index", fmt.Sprint(i), "error", err.Error())
			continue
		}
		d.resp.Parts = append(d.resp.Parts, part)
	}
	for i, v := range config.Types {
		t := reflect.TypeOf(v)
		if t == nil {
			d.diag(catalogv1.LevelError, "skipping nil type", "index", fmt.Sprint(i))
			continue
		}
		if _, err := d.typeOf(derefPointer(t)); err != nil {
			d.diag(catalogv1.LevelError, "skipping type", "index", fmt.Sprint(i), "error", err.Error())
		}
	}
	for _, id := range d.order {
		d.resp.Types = append(d.resp.Types, d.types[id])
	}
	d.diag(catalogv1.LevelDebug, "catalog described",
		"types", fmt.Sprint(len(d.resp.Types)),
		"parts", fmt.Sprint(len(d.resp.Parts)))
	return d.resp
}

func (d *describer) diag(level catalogv1.Level, msg string, kv ...string) {
	var attrs map[string]string
	if len(kv) > 0 {
		attrs = make(map[string]string, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			attrs[kv[i]] = kv[i+1]
		}
	}
	d.resp.Diagnostics = append(d.resp.Diagnostics, catalogv1.Diagnostic{Level: level, Message: msg, Attrs: attrs})
}

func (d *describer) part(p Part) (plugin.PartDefinition, error) {
	t := reflect.TypeOf(p.Value)
	if t == nil {
		return plugin.PartDefinition{}, fmt.Errorf("part value is nil")
	}
	t = derefPointer(t)
	if t.Kind() != reflect.Struct {
		return plugin.PartDefinition{}, fmt.Errorf("part %s is not a struct", t)
	}
	id, err := d.typeOf(t)
	if err != nil {
		return plugin.PartDefinition{}, err
	}

	def := plugin.PartDefinition{Type: id}
	for _, e := range p.Exports {
		export, err := d.export(t, id, e)
		if err != nil {
			d.diag(catalogv1.LevelWarn, "skipping export", "part", id.FullName, "error", err.Error())
			continue
		}
		def.Exports = append(def.Exports, export)
	}
	imports, err := d.imports(t)
	if err != nil {
		return plugin.PartDefinition{}, err
	}
	def.Imports = imports
	return def, nil
}

func (d *describer) export(t reflect.Type, self plugin.TypeIdentity, e Export) (plugin.Export, error) {
	if e.Capability == nil {
		contract := e.Contract
		if contract == "" {
			contract = self.FullName
		}
		return plugin.Export{Contract: contract, Capability: self}, nil
	}
	ct := reflect.TypeOf(e.Capability)
	if ct.Kind() != reflect.Pointer || ct.Elem().Kind() != reflect.Interface {
		return plugin.Export{}, fmt.Errorf("capability %s is not a pointer to an interface", ct)
	}
	iface := ct.Elem()
	if !t.Implements(iface) && !reflect.PointerTo(t).Implements(iface) {
		return plugin.Export{}, fmt.Errorf("%s does not implement %s", t, iface)
	}
	capID, err := d.typeOf(iface)
	if err != nil {
		return plugin.Export{}, err
	}
	contract := e.Contract
	if contract == "" {
		contract = capID.FullName
	}
	return plugin.Export{Contract: contract, Capability: capID}, nil
}

// imports reads `plugin:"import[,contract=X][,optional|many]"` field tags,
// including those promoted from embedded structs.
func (d *describer) imports(t reflect.Type) ([]plugin.Import, error) {
	var out []plugin.Import
	for _, f := range reflect.VisibleFields(t) {
		tag, ok := f.Tag.Lookup(importTag)
		if !ok {
			continue
		}
		opts := strings.Split(tag, ",")
		if strings.TrimSpace(opts[0]) != "import" {
			return nil, fmt.Errorf("field %s: unsupported tag %q", f.Name, tag)
		}

		imp := plugin.Import{Member: f.Name, Cardinality: plugin.CardinalitySingle}
		target := f.Type
		if target.Kind() == reflect.Slice {
			imp.Cardinality = plugin.CardinalityMany
			target = target.Elem()
		}
		for _, opt := range opts[1:] {
			opt = strings.TrimSpace(opt)
			switch {
			case strings.HasPrefix(opt, "contract="):
				imp.Contract = strings.TrimPrefix(opt, "contract=")
			case opt == "":
			default:
				c, err := plugin.ParseCardinality(opt)
				if err != nil {
					return nil, fmt.Errorf("field %s: %w", f.Name, err)
				}
				imp.Cardinality = c
			}
		}
		if imp.Contract == "" {
			target = derefPointer(target)
			if target.Name() == "" {
				return nil, fmt.Errorf("field %s: contract required for unnamed type %s", f.Name, target)
			}
			imp.Contract = d.identity(target).FullName
		}
		out = append(out, imp)
	}
	return out, nil
}

// typeOf records the definition of t, and of its base, and returns its identity.
func (d *describer) typeOf(t reflect.Type) (plugin.TypeIdentity, error) {
	if t.Name() == "" || t.PkgPath() == "" {
		return plugin.TypeIdentity{}, fmt.Errorf("type %s is not a named package-level type", t)
	}
	id := d.identity(t)
	if _, seen := d.types[id]; seen {
		return id, nil
	}

	def := plugin.TypeDefinition{Identity: id}
	d.types[id] = def
	d.order = append(d.order, id)

	if t.Kind() == reflect.Struct {
		for i := range t.NumField() {
			f := t.Field(i)
			if f.Anonymous {
				ft := derefPointer(f.Type)
				switch {
				case ft.Kind() == reflect.Interface && ft.Name() != "":
					if capID, err := d.typeOf(ft); err == nil {
						def.Capabilities = append(def.Capabilities, capID)
					}
					continue
				case ft.Kind() == reflect.Struct && def.Base == nil && ft.Name() != "":
					if baseID, err := d.typeOf(ft); err == nil {
						def.Base = &baseID
					}
					continue
				}
			}
			if f.IsExported() {
				def.Members = append(def.Members, plugin.Member{
					Name:      f.Name,
					Kind:      plugin.MemberField,
					Signature: f.Type.String(),
				})
			}
		}
	}
	def.Members = append(def.Members, methods(t)...)
	d.types[id] = def
	return id, nil
}

// methods lists the exported methods of t, including those on *t.
func methods(t reflect.Type) []plugin.Member {
	mt := t
	skipRecv := true
	if t.Kind() == reflect.Interface {
		skipRecv = false
	} else {
		mt = reflect.PointerTo(t)
	}
	var out []plugin.Member
	for i := range mt.NumMethod() {
		m := mt.Method(i)
		if !m.IsExported() {
			continue
		}
		out = append(out, plugin.Member{
			Name:      m.Name,
			Kind:      plugin.MemberMethod,
			Signature: funcSignature(m.Type, skipRecv),
		})
	}
	return out
}

func funcSignature(ft reflect.Type, skipRecv bool) string {
	var b strings.Builder
	b.WriteString("func(")
	first := 0
	if skipRecv {
		first = 1
	}
	for i := first; i < ft.NumIn(); i++ {
		if i > first {
			b.WriteString(", ")
		}
		if ft.IsVariadic() && i == ft.NumIn()-1 {
			b.WriteString("..." + ft.In(i).Elem().String())
			continue
		}
		b.WriteString(ft.In(i).String())
	}
	b.WriteString(")")
	switch ft.NumOut() {
	case 0:
	case 1:
		b.WriteString(" " + ft.Out(0).String())
	default:
		outs := make([]string, ft.NumOut())
		for i := range outs {
			outs[i] = ft.Out(i).String()
		}
		b.WriteString(" (" + strings.Join(outs, ", ") + ")")
	}
	return b.String()
}

// identity names t by package path and resolves the module that provides it.
func (d *describer) identity(t reflect.Type) plugin.TypeIdentity {
	pkg := t.PkgPath()
	if pkg == "main" && d.info != nil && d.info.Path != "" {
		pkg = d.info.Path
	}
	return plugin.TypeIdentity{
		FullName: pkg + "." + t.Name(),
		Assembly: d.assembly(pkg),
	}
}

// assembly returns "module@version" for the module providing pkg.
func (d *describer) assembly(pkg string) string {
	if d.info == nil {
		return "unknown"
	}
	best := ""
	version := ""
	consider := func(m *debug.Module) {
		if m == nil || m.Path == "" {
			return
		}
		if m.Replace != nil {
			m = &debug.Module{Path: m.Path, Version: m.Replace.Version}
		}
		if (pkg == m.Path || strings.HasPrefix(pkg, m.Path+"/")) && len(m.Path) > len(best) {
			best, version = m.Path, m.Version
		}
	}
	consider(&d.info.Main)
	for _, dep := range d.info.Deps {
		consider(dep)
	}
	if best == "" {
		if !strings.Contains(strings.SplitN(pkg, "/", 2)[0], ".") {
			return "std@" + d.info.GoVersion
		}
		return "unknown"
	}
	if version == "" {
		version = "(devel)"
	}
	return best + "@" + version
}

func (d *describer) mainAssembly() string {
	if d.info == nil || d.info.Main.Path == "" {
		return "unknown"
	}
	return d.assembly(d.info.Main.Path)
}

func derefPointer(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}
